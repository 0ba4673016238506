package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"strconv"
	"strings"

	"github.com/kozaktomas/pixpursuit/internal/constants"
	"github.com/kozaktomas/pixpursuit/internal/database"
	"github.com/kozaktomas/pixpursuit/internal/imaging"
	"github.com/rs/zerolog/log"
)

// Faces is the detector output. The three slices are positional.
type Faces struct {
	Embeddings [][]float32
	Boxes      []database.Box
	UserFaces  []string
}

type detectResponse struct {
	Boxes [][4]float64 `json:"boxes"`
	Probs []float64    `json:"probs"`
}

type faceEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// DetectFaces finds faces in img and embeds each one. Boxes are clamped to
// the image before the size checks and are returned clamped. Small faces are
// dropped; a face whose crop or embedding fails is skipped on its own.
func (c *Client) DetectFaces(ctx context.Context, img image.Image) (*Faces, error) {
	data, err := encodePNG(img)
	if err != nil {
		return nil, err
	}

	body, err := c.postMultipartImage(ctx, "/detect/faces", data, map[string]string{
		"thresholds": formatThresholds(constants.DetectorThresholds),
	})
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	var resp detectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	faces := &Faces{
		Embeddings: [][]float32{},
		Boxes:      []database.Box{},
		UserFaces:  []string{},
	}
	bounds := img.Bounds()
	for i, raw := range resp.Boxes {
		box := database.Box(raw).Clamp(float64(bounds.Dx()), float64(bounds.Dy()))
		if box.Area() <= constants.FaceSizeThreshold {
			continue
		}

		crop, err := imaging.Crop(img, box[0], box[1], box[2], box[3])
		if err != nil {
			log.Debug().Err(err).Int("face", i).Msg("skipping face crop")
			continue
		}
		if crop.Bounds().Dx() < constants.MinFaceSize || crop.Bounds().Dy() < constants.MinFaceSize {
			continue
		}

		emb, err := c.embedFace(ctx, crop)
		if err != nil {
			log.Warn().Err(err).Int("face", i).Msg("face embedding failed, skipping face")
			continue
		}

		faces.Embeddings = append(faces.Embeddings, emb)
		faces.Boxes = append(faces.Boxes, box)
		faces.UserFaces = append(faces.UserFaces, constants.AnonFace)
	}
	return faces, nil
}

func (c *Client) embedFace(ctx context.Context, crop image.Image) ([]float32, error) {
	data, err := encodePNG(crop)
	if err != nil {
		return nil, err
	}
	body, err := c.postMultipartImage(ctx, "/embed/face", data, nil)
	if err != nil {
		return nil, err
	}

	var resp faceEmbeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Embedding) != constants.FaceEmbeddingDim {
		return nil, fmt.Errorf("expected %d-dim face embedding, got %d", constants.FaceEmbeddingDim, len(resp.Embedding))
	}
	return resp.Embedding, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

func formatThresholds(t [3]float64) string {
	parts := make([]string, len(t))
	for i, v := range t {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}
