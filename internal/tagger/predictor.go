package tagger

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/kozaktomas/pixpursuit/internal/constants"
	"github.com/kozaktomas/pixpursuit/internal/metrics"
	"github.com/rs/zerolog"
)

// Predictor owns the model file. Train steps load, update and rewrite it;
// predictions reuse the loaded model until the file changes on disk.
type Predictor struct {
	path string
	lr   float64
	log  zerolog.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	cached  *Model
	modTime time.Time
	size    int64
}

// NewPredictor returns a predictor backed by the model file at path.
func NewPredictor(path string, learningRate float64, logger zerolog.Logger) *Predictor {
	if learningRate <= 0 {
		learningRate = constants.DefaultLearningRate
	}
	seed := uint64(time.Now().UnixNano())
	return &Predictor{
		path: path,
		lr:   learningRate,
		log:  logger,
		rng:  rand.New(rand.NewPCG(seed, seed>>1)),
	}
}

// load returns the model on disk, or a fresh one with numTags outputs when
// there is no file yet. Callers hold p.mu.
func (p *Predictor) load(numTags int) (*Model, error) {
	info, err := os.Stat(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		p.log.Info().Str("path", p.path).Int("num_tags", numTags).Msg("no model file, starting from a fresh model")
		return NewModel(numTags, p.rng), nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat model: %w", err)
	}

	if p.cached != nil && info.ModTime().Equal(p.modTime) && info.Size() == p.size {
		return p.cached, nil
	}

	m, err := LoadModel(p.path, p.rng)
	if errors.Is(err, fs.ErrNotExist) {
		return NewModel(numTags, p.rng), nil
	}
	if err != nil {
		return nil, err
	}
	p.cached, p.modTime, p.size = m, info.ModTime(), info.Size()
	return m, nil
}

func (p *Predictor) remember(m *Model) {
	info, err := os.Stat(p.path)
	if err != nil {
		p.cached = nil
		return
	}
	p.cached, p.modTime, p.size = m, info.ModTime(), info.Size()
}

// TrainStep applies one optimisation step for a single image and saves the
// model. The output layer is rebuilt first when the target width differs
// from the saved model. A corrupt model file is left untouched.
func (p *Predictor) TrainStep(features, target []float32) error {
	if len(features) != constants.FeatureDim {
		return fmt.Errorf("expected %d features, got %d", constants.FeatureDim, len(features))
	}
	if len(target) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	m, err := p.load(len(target))
	if err != nil {
		p.log.Error().Err(err).Str("path", p.path).Msg("cannot load model, skipping training step")
		return err
	}
	if m.NumTags() != len(target) {
		p.log.Info().Int("from", m.NumTags()).Int("to", len(target)).Msg("tag vocabulary changed, rebuilding output layer")
		m.ResizeHead(len(target))
	}

	loss := m.Train(features, target, p.lr)
	if err := m.Save(p.path); err != nil {
		p.cached = nil
		return err
	}
	p.remember(m)

	metrics.TrainingSteps.Inc()
	metrics.TagVocabularySize.Set(float64(len(target)))
	p.log.Debug().Float64("loss", loss).Int("num_tags", len(target)).Msg("training step done")
	return nil
}

// PredictStep returns the vocabulary tags whose probability exceeds the
// prediction threshold. Tombstones are never returned. An unreadable model
// yields no tags.
func (p *Predictor) PredictStep(features []float32, vocab []string) []string {
	if len(features) != constants.FeatureDim || len(vocab) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	m, err := p.load(len(vocab))
	if err != nil {
		p.log.Error().Err(err).Str("path", p.path).Msg("cannot load model, predicting no tags")
		return nil
	}
	if m.NumTags() != len(vocab) {
		// The rebuilt head is not saved; only training writes the model file.
		m = m.withHead(len(vocab))
	}
	return selectTags(m.Predict(features), vocab)
}

// withHead returns a copy sharing the hidden layers but with a fresh output
// layer, leaving the cached model intact.
func (m *Model) withHead(numTags int) *Model {
	c := &Model{layers: m.layers, step: m.step, rng: m.rng}
	c.layers[2] = nil
	c.ResizeHead(numTags)
	return c
}

func selectTags(probs []float64, vocab []string) []string {
	tags := []string{}
	for i, prob := range probs {
		if i >= len(vocab) {
			break
		}
		if prob > constants.TagPredictionThreshold && vocab[i] != constants.NullTag {
			tags = append(tags, vocab[i])
		}
	}
	return tags
}
