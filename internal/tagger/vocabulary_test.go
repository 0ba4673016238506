package tagger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kozaktomas/pixpursuit/internal/database"
)

func TestTagsToVector(t *testing.T) {
	vocab := []string{"beach", "NULL", "dog", "sunset", "car"}
	tests := []struct {
		name     string
		tags     []string
		feedback map[string]database.FeedbackCount
		want     []float32
	}{
		{"empty", nil, nil, []float32{0, 0, 0, 0, 0}},
		{"user tags", []string{"beach", "car"}, nil, []float32{1, 0, 0, 0, 1}},
		{
			"net feedback at threshold",
			nil,
			map[string]database.FeedbackCount{"dog": {Positive: 3, Negative: 1}},
			[]float32{0, 0, 1, 0, 0},
		},
		{
			"net feedback below threshold",
			nil,
			map[string]database.FeedbackCount{"sunset": {Positive: 2, Negative: 1}},
			[]float32{0, 0, 0, 0, 0},
		},
		{
			"user tag wins over negative feedback",
			[]string{"sunset"},
			map[string]database.FeedbackCount{"sunset": {Positive: 0, Negative: 5}},
			[]float32{0, 0, 0, 1, 0},
		},
		{"unknown tag ignored", []string{"mountain"}, nil, []float32{0, 0, 0, 0, 0}},
		{"tombstone never set", []string{"NULL"}, nil, []float32{0, 0, 0, 0, 0}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := TagsToVector(tc.tags, tc.feedback, vocab)
			if len(got) != len(tc.want) {
				t.Fatalf("length %d; want %d", len(got), len(tc.want))
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("TagsToVector = %v; want %v", got, tc.want)
					break
				}
			}
		})
	}
}

type countingSource struct {
	calls int
	tags  []string
	err   error
}

func (s *countingSource) UniqueTags(context.Context) ([]string, error) {
	s.calls++
	return s.tags, s.err
}

func TestVocabulary_TTL(t *testing.T) {
	src := &countingSource{tags: []string{"a", "b"}}
	v := NewVocabulary(src)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := v.Get(ctx); err != nil {
		t.Fatal(err)
	}
	src.tags = []string{"a", "b", "c"}

	got, _ := v.Get(ctx)
	if len(got) != 2 || src.calls != 1 {
		t.Errorf("expected cached vocabulary, got %v after %d calls", got, src.calls)
	}

	now = now.Add(6 * time.Minute)
	got, _ = v.Get(ctx)
	if len(got) != 3 || src.calls != 2 {
		t.Errorf("expected refreshed vocabulary, got %v after %d calls", got, src.calls)
	}

	got, _ = v.Refresh(ctx)
	if len(got) != 3 || src.calls != 3 {
		t.Errorf("Refresh must always hit the source")
	}

	src.err = errors.New("db down")
	if _, err := v.Refresh(ctx); err == nil {
		t.Error("expected source error")
	}
}
