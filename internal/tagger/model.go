// Package tagger learns a multi-label tag predictor over image features from
// user corrections and writes its predictions back as auto tags.
package tagger

import (
	"math"
	"math/rand/v2"

	"github.com/kozaktomas/pixpursuit/internal/constants"
	"gonum.org/v1/gonum/mat"
)

// Layer widths of the network. The input is the feature vector and the
// output width is the tag vocabulary size.
const (
	inputDim = constants.FeatureDim
	hidden1  = 512
	hidden2  = 256

	dropoutRate = 0.5
	normEps     = 1e-5

	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

type linear struct {
	in, out int
	w       *mat.Dense // out x in
	b       *mat.VecDense

	// Adam first and second moments, same layout as w and b
	mw, vw []float64
	mb, vb []float64
}

func newLinear(in, out int, rng *rand.Rand) *linear {
	bound := 1 / math.Sqrt(float64(in))
	uniform := func(n int) []float64 {
		s := make([]float64, n)
		for i := range s {
			s[i] = (rng.Float64()*2 - 1) * bound
		}
		return s
	}
	return &linear{
		in:  in,
		out: out,
		w:   mat.NewDense(out, in, uniform(in*out)),
		b:   mat.NewVecDense(out, uniform(out)),
		mw:  make([]float64, in*out),
		vw:  make([]float64, in*out),
		mb:  make([]float64, out),
		vb:  make([]float64, out),
	}
}

func (l *linear) forward(x *mat.VecDense) *mat.VecDense {
	z := mat.NewVecDense(l.out, nil)
	z.MulVec(l.w, x)
	z.AddVec(z, l.b)
	return z
}

// Model is the feed-forward tag network:
//
//	features -> 512 -> norm -> dropout -> relu -> 256 -> norm -> dropout -> relu -> K -> norm -> sigmoid
//
// where norm is a parameter-free instance normalisation over one sample.
type Model struct {
	layers [3]*linear
	step   int
	rng    *rand.Rand
}

// NewModel returns a freshly initialised network with numTags outputs.
func NewModel(numTags int, rng *rand.Rand) *Model {
	m := &Model{rng: rng}
	m.layers[0] = newLinear(inputDim, hidden1, rng)
	m.layers[1] = newLinear(hidden1, hidden2, rng)
	if numTags > 0 {
		m.layers[2] = newLinear(hidden2, numTags, rng)
	}
	return m
}

// NumTags returns the output width.
func (m *Model) NumTags() int {
	if m.layers[2] == nil {
		return 0
	}
	return m.layers[2].out
}

// ResizeHead replaces the output layer with a fresh one of width numTags.
// Earlier layers keep their weights.
func (m *Model) ResizeHead(numTags int) {
	if numTags == m.NumTags() {
		return
	}
	if numTags <= 0 {
		m.layers[2] = nil
		return
	}
	m.layers[2] = newLinear(hidden2, numTags, m.rng)
}

// instanceNorm returns (z - mean) / sqrt(var + eps) and the denominator.
func instanceNorm(z []float64) ([]float64, float64) {
	n := float64(len(z))
	var mean float64
	for _, v := range z {
		mean += v
	}
	mean /= n

	var variance float64
	for _, v := range z {
		d := v - mean
		variance += d * d
	}
	variance /= n

	sigma := math.Sqrt(variance + normEps)
	y := make([]float64, len(z))
	for i, v := range z {
		y[i] = (v - mean) / sigma
	}
	return y, sigma
}

// instanceNormBackward maps dL/dy to dL/dz for y = instanceNorm(z).
func instanceNormBackward(g, y []float64, sigma float64) []float64 {
	n := float64(len(g))
	var meanG, meanGY float64
	for i := range g {
		meanG += g[i]
		meanGY += g[i] * y[i]
	}
	meanG /= n
	meanGY /= n

	dz := make([]float64, len(g))
	for i := range g {
		dz[i] = (g[i] - meanG - y[i]*meanGY) / sigma
	}
	return dz
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func toVec(features []float32) *mat.VecDense {
	data := make([]float64, len(features))
	for i, v := range features {
		data[i] = float64(v)
	}
	return mat.NewVecDense(len(data), data)
}

// layerTrace is what the backward pass needs from one layer of the forward pass.
type layerTrace struct {
	input  *mat.VecDense
	normed []float64
	sigma  float64
	mask   []float64 // dropout scale per unit, nil in eval mode
	active []float64 // post-relu activations, hidden layers only
}

func (m *Model) forward(features []float32, train bool) ([]float64, [3]layerTrace) {
	var traces [3]layerTrace
	x := toVec(features)

	for i, l := range m.layers[:2] {
		z := l.forward(x)
		y, sigma := instanceNorm(z.RawVector().Data)

		var mask []float64
		if train {
			mask = make([]float64, len(y))
			for j := range mask {
				if m.rng.Float64() >= dropoutRate {
					mask[j] = 1 / (1 - dropoutRate)
				}
			}
		}
		a := make([]float64, len(y))
		for j, v := range y {
			if mask != nil {
				v *= mask[j]
			}
			a[j] = max(v, 0)
		}

		traces[i] = layerTrace{input: x, normed: y, sigma: sigma, mask: mask, active: a}
		x = mat.NewVecDense(len(a), a)
	}

	z := m.layers[2].forward(x)
	y, sigma := instanceNorm(z.RawVector().Data)
	traces[2] = layerTrace{input: x, normed: y, sigma: sigma}

	out := make([]float64, len(y))
	for j, v := range y {
		out[j] = sigmoid(v)
	}
	return out, traces
}

// Predict runs the network in eval mode and returns one probability per tag.
func (m *Model) Predict(features []float32) []float64 {
	if m.NumTags() == 0 {
		return nil
	}
	out, _ := m.forward(features, false)
	return out
}

// Loss returns the eval-mode binary cross-entropy against target.
func (m *Model) Loss(features, target []float32) float64 {
	return bce(m.Predict(features), target)
}

func bce(p []float64, target []float32) float64 {
	var loss float64
	for i, v := range p {
		v = min(max(v, 1e-7), 1-1e-7)
		t := float64(target[i])
		loss -= t*math.Log(v) + (1-t)*math.Log(1-v)
	}
	return loss / float64(len(p))
}

// Train performs one Adam step on a single sample and returns its training loss.
func (m *Model) Train(features, target []float32, lr float64) float64 {
	if m.NumTags() == 0 {
		return 0
	}
	p, traces := m.forward(features, true)
	loss := bce(p, target)

	k := float64(len(p))
	g := make([]float64, len(p))
	for i := range p {
		g[i] = (p[i] - float64(target[i])) / k
	}

	m.step++
	for i := len(m.layers) - 1; i >= 0; i-- {
		l := m.layers[i]
		tr := traces[i]

		if tr.active != nil {
			for j := range g {
				if tr.active[j] <= 0 {
					g[j] = 0
					continue
				}
				if tr.mask != nil {
					g[j] *= tr.mask[j]
				}
			}
		}

		dz := mat.NewVecDense(len(g), instanceNormBackward(g, tr.normed, tr.sigma))

		var next []float64
		if i > 0 {
			prev := mat.NewVecDense(l.in, nil)
			prev.MulVec(l.w.T(), dz)
			next = prev.RawVector().Data
		}

		gw := mat.NewDense(l.out, l.in, nil)
		gw.Outer(1, dz, tr.input)

		m.adam(l.w.RawMatrix().Data, gw.RawMatrix().Data, l.mw, l.vw, lr)
		m.adam(l.b.RawVector().Data, dz.RawVector().Data, l.mb, l.vb, lr)

		g = next
	}
	return loss
}

func (m *Model) adam(param, grad, mom, vel []float64, lr float64) {
	c1 := 1 - math.Pow(adamBeta1, float64(m.step))
	c2 := 1 - math.Pow(adamBeta2, float64(m.step))
	for i, gi := range grad {
		mom[i] = adamBeta1*mom[i] + (1-adamBeta1)*gi
		vel[i] = adamBeta2*vel[i] + (1-adamBeta2)*gi*gi
		mHat := mom[i] / c1
		vHat := vel[i] / c2
		param[i] -= lr * mHat / (math.Sqrt(vHat) + adamEps)
	}
}
