package tagger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestPredictor_TrainStepWritesModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagger.gob")
	p := NewPredictor(path, 0.001, zerolog.Nop())
	features := randomFeatures(testRNG())

	if err := p.TrainStep(features, []float32{1, 0, 0}); err != nil {
		t.Fatalf("TrainStep: %v", err)
	}
	m, err := LoadModel(path, testRNG())
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if m.NumTags() != 3 {
		t.Errorf("expected 3 tags, got %d", m.NumTags())
	}
}

func TestPredictor_ModelGrows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagger.gob")
	p := NewPredictor(path, 0.001, zerolog.Nop())
	features := randomFeatures(testRNG())

	if err := p.TrainStep(features, []float32{1, 0, 0}); err != nil {
		t.Fatalf("TrainStep: %v", err)
	}

	// a fourth tag appears in the vocabulary
	got := p.PredictStep(features, []string{"a", "b", "c", "d"})
	for _, tag := range got {
		if tag != "a" && tag != "b" && tag != "c" && tag != "d" {
			t.Errorf("unexpected tag %q", tag)
		}
	}
	if m, _ := LoadModel(path, testRNG()); m.NumTags() != 3 {
		t.Errorf("prediction must not rewrite the model, got %d tags", m.NumTags())
	}

	if err := p.TrainStep(features, []float32{1, 0, 0, 1}); err != nil {
		t.Fatalf("TrainStep: %v", err)
	}
	m, err := LoadModel(path, testRNG())
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if m.NumTags() != 4 {
		t.Errorf("expected head grown to 4, got %d", m.NumTags())
	}
}

func TestPredictor_CorruptModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagger.gob")
	garbage := []byte("not a model")
	if err := os.WriteFile(path, garbage, 0o644); err != nil {
		t.Fatal(err)
	}
	p := NewPredictor(path, 0.001, zerolog.Nop())
	features := randomFeatures(testRNG())

	if err := p.TrainStep(features, []float32{1, 0}); !errors.Is(err, ErrCorruptModel) {
		t.Errorf("expected ErrCorruptModel, got %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(garbage) {
		t.Error("corrupt model file must not be overwritten")
	}

	if tags := p.PredictStep(features, []string{"a", "b"}); len(tags) != 0 {
		t.Errorf("expected no tags from a corrupt model, got %v", tags)
	}
}

func TestPredictor_PredictStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagger.gob")
	p := NewPredictor(path, 0.001, zerolog.Nop())
	features := randomFeatures(testRNG())
	vocab := []string{"a", "b", "c"}

	if err := p.TrainStep(features, []float32{1, 0, 1}); err != nil {
		t.Fatal(err)
	}

	first := p.PredictStep(features, vocab)

	// a second predictor loading the same file agrees
	other := NewPredictor(path, 0.001, zerolog.Nop())
	second := other.PredictStep(features, vocab)

	if len(first) != len(second) {
		t.Fatalf("predictions differ: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("predictions differ: %v vs %v", first, second)
		}
	}
}

func TestPredictor_BadInput(t *testing.T) {
	p := NewPredictor(filepath.Join(t.TempDir(), "m.gob"), 0, zerolog.Nop())
	if err := p.TrainStep([]float32{1, 2}, []float32{1}); err == nil {
		t.Error("expected error for short feature vector")
	}
	if tags := p.PredictStep([]float32{1}, []string{"a"}); tags != nil {
		t.Errorf("expected nil, got %v", tags)
	}
}
