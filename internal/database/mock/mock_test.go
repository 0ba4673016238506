package mock

import (
	"context"
	"errors"
	"maps"
	"slices"
	"testing"

	"github.com/kozaktomas/pixpursuit/internal/database"
)

func TestCatalog_AddAutoTags(t *testing.T) {
	tests := []struct {
		name     string
		userTags []string
		feedback map[string]database.FeedbackCount
		autoTags []string
		want     map[string]database.FeedbackCount
	}{
		{
			name:     "seeds new tags and drops keys outside the set",
			userTags: []string{"cat"},
			feedback: map[string]database.FeedbackCount{
				"cat": {Positive: 3},
				"old": {Positive: 1},
			},
			autoTags: []string{"dog"},
			want:     map[string]database.FeedbackCount{"dog": {}},
		},
		{
			name:     "keeps counters of tags still predicted",
			feedback: map[string]database.FeedbackCount{"dog": {Positive: 2, Negative: 1}},
			autoTags: []string{"dog", "sun"},
			want: map[string]database.FeedbackCount{
				"dog": {Positive: 2, Negative: 1},
				"sun": {},
			},
		},
		{
			name:     "empty prediction clears feedback",
			feedback: map[string]database.FeedbackCount{"dog": {Positive: 1}},
			want:     map[string]database.FeedbackCount{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCatalog()
			c.PutImage(database.Image{ID: "x", UserTags: tt.userTags, Feedback: tt.feedback})

			if err := c.AddAutoTags(context.Background(), "x", tt.autoTags); err != nil {
				t.Fatalf("AddAutoTags: %v", err)
			}
			img := c.Image("x")
			if !maps.Equal(img.Feedback, tt.want) {
				t.Errorf("expected feedback %v, got %v", tt.want, img.Feedback)
			}
			if !slices.Equal(img.AutoTags, tt.autoTags) {
				t.Errorf("expected auto tags %v, got %v", tt.autoTags, img.AutoTags)
			}
		})
	}
}

func TestCatalog_AddAutoTags_UnknownImage(t *testing.T) {
	c := NewCatalog()
	err := c.AddAutoTags(context.Background(), "missing", []string{"dog"})
	if !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
