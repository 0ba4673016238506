package tagger

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/kozaktomas/pixpursuit/internal/constants"
	"github.com/kozaktomas/pixpursuit/internal/database"
)

// TagSource lists the tag vocabulary in index order.
type TagSource interface {
	UniqueTags(ctx context.Context) ([]string, error)
}

// Vocabulary caches the tag vocabulary for a bounded time. Each worker
// process has its own copy.
type Vocabulary struct {
	source TagSource
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	tags    []string
	fetched time.Time
}

func NewVocabulary(source TagSource) *Vocabulary {
	return &Vocabulary{source: source, ttl: constants.TagCacheTTL, now: time.Now}
}

// Get returns the cached vocabulary, refreshing it once the TTL has passed.
func (v *Vocabulary) Get(ctx context.Context) ([]string, error) {
	v.mu.Lock()
	if v.tags != nil && v.now().Sub(v.fetched) < v.ttl {
		tags := v.tags
		v.mu.Unlock()
		return tags, nil
	}
	v.mu.Unlock()
	return v.Refresh(ctx)
}

// Refresh reloads the vocabulary from the catalog.
func (v *Vocabulary) Refresh(ctx context.Context) ([]string, error) {
	tags, err := v.source.UniqueTags(ctx)
	if err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []string{}
	}

	v.mu.Lock()
	v.tags = slices.Clip(tags)
	v.fetched = v.now()
	v.mu.Unlock()
	return tags, nil
}

// TagsToVector builds the training target over vocab: a tag is present if it
// is a user tag or its net feedback reaches the positive threshold.
func TagsToVector(tags []string, feedback map[string]database.FeedbackCount, vocab []string) []float32 {
	present := make(map[string]bool, len(tags))
	for _, t := range tags {
		present[t] = true
	}

	v := make([]float32, len(vocab))
	for i, name := range vocab {
		if name == constants.NullTag {
			continue
		}
		if present[name] || feedback[name].Net() >= constants.PositiveThreshold {
			v[i] = 1
		}
	}
	return v
}
