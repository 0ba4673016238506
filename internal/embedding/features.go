package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"image"

	"github.com/kozaktomas/pixpursuit/internal/constants"
	"github.com/kozaktomas/pixpursuit/internal/imaging"
)

const (
	resizeShorter = 256
	cropSize      = 224
)

var (
	imageNetMean = [3]float32{0.485, 0.456, 0.406}
	imageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

type featuresRequest struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

type featuresResponse struct {
	Logits []float32 `json:"logits"`
}

// ExtractFeatures returns the 1000 classifier logits for img.
func (c *Client) ExtractFeatures(ctx context.Context, img image.Image) ([]float32, error) {
	tensor := Preprocess(img)

	body, err := c.postJSON(ctx, "/infer/features", featuresRequest{
		Shape: []int{3, cropSize, cropSize},
		Data:  tensor,
	})
	if err != nil {
		return nil, err
	}

	var resp featuresResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Logits) != constants.FeatureDim {
		return nil, fmt.Errorf("expected %d logits, got %d", constants.FeatureDim, len(resp.Logits))
	}
	return resp.Logits, nil
}

// Preprocess resizes the shorter side to 256, centre-crops 224x224 and
// returns the ImageNet-normalised tensor in CHW order.
func Preprocess(img image.Image) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var nw, nh int
	if w < h {
		nw = resizeShorter
		nh = max(h*resizeShorter/w, resizeShorter)
	} else {
		nh = resizeShorter
		nw = max(w*resizeShorter/h, resizeShorter)
	}
	resized := imaging.Resize(img, nw, nh)

	x0 := (nw - cropSize) / 2
	y0 := (nh - cropSize) / 2

	plane := cropSize * cropSize
	out := make([]float32, 3*plane)
	for y := range cropSize {
		for x := range cropSize {
			p := resized.RGBAAt(x0+x, y0+y)
			i := y*cropSize + x
			out[i] = (float32(p.R)/255 - imageNetMean[0]) / imageNetStd[0]
			out[plane+i] = (float32(p.G)/255 - imageNetMean[1]) / imageNetStd[1]
			out[2*plane+i] = (float32(p.B)/255 - imageNetMean[2]) / imageNetStd[2]
		}
	}
	return out
}
