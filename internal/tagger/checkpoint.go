package tagger

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"gonum.org/v1/gonum/mat"
)

// ErrCorruptModel is returned when the model file exists but cannot be decoded.
var ErrCorruptModel = errors.New("corrupt model file")

type layerState struct {
	In, Out int
	W, B    []float64
	MW, VW  []float64
	MB, VB  []float64
}

// checkpoint is the on-disk form of a model: its state plus the output width
// it was trained for.
type checkpoint struct {
	NumTags int
	Step    int
	State   []layerState
}

func (m *Model) checkpoint() checkpoint {
	cp := checkpoint{NumTags: m.NumTags(), Step: m.step}
	for _, l := range m.layers {
		if l == nil {
			continue
		}
		cp.State = append(cp.State, layerState{
			In:  l.in,
			Out: l.out,
			W:   append([]float64(nil), l.w.RawMatrix().Data...),
			B:   append([]float64(nil), l.b.RawVector().Data...),
			MW:  append([]float64(nil), l.mw...),
			VW:  append([]float64(nil), l.vw...),
			MB:  append([]float64(nil), l.mb...),
			VB:  append([]float64(nil), l.vb...),
		})
	}
	return cp
}

func restoreLinear(s layerState, in, out int) (*linear, error) {
	if s.In != in || s.Out != out {
		return nil, fmt.Errorf("layer shape %dx%d, want %dx%d", s.Out, s.In, out, in)
	}
	n := in * out
	if len(s.W) != n || len(s.MW) != n || len(s.VW) != n || len(s.B) != out || len(s.MB) != out || len(s.VB) != out {
		return nil, errors.New("layer data length mismatch")
	}
	return &linear{
		in:  in,
		out: out,
		w:   mat.NewDense(out, in, s.W),
		b:   mat.NewVecDense(out, s.B),
		mw:  s.MW,
		vw:  s.VW,
		mb:  s.MB,
		vb:  s.VB,
	}, nil
}

func fromCheckpoint(cp checkpoint, rng *rand.Rand) (*Model, error) {
	want := 2
	if cp.NumTags > 0 {
		want = 3
	}
	if len(cp.State) != want {
		return nil, fmt.Errorf("%d layers, want %d", len(cp.State), want)
	}

	shapes := [3][2]int{{inputDim, hidden1}, {hidden1, hidden2}, {hidden2, cp.NumTags}}
	m := &Model{step: cp.Step, rng: rng}
	for i, s := range cp.State {
		l, err := restoreLinear(s, shapes[i][0], shapes[i][1])
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		m.layers[i] = l
	}
	return m, nil
}

// Save writes the model to path atomically. Concurrent writers race and the
// last rename wins.
func (m *Model) Save(path string) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m.checkpoint()); err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create model directory: %w", err)
		}
	}
	if err := renameio.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	return nil
}

// LoadModel reads a model written by Save. A missing file is reported with an
// error wrapping os.ErrNotExist; anything unreadable wraps ErrCorruptModel.
func LoadModel(path string, rng *rand.Rand) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cp checkpoint
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&cp); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptModel, path, err)
	}
	m, err := fromCheckpoint(cp, rng)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptModel, path, err)
	}
	return m, nil
}
