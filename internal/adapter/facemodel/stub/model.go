// Package stub is a fast, deterministic face model for local development and
// tests. The same image always yields the same embedding, so an enrolled
// image recognizes itself with confidence 1.
package stub

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/fairyhunter13/face-recognition-service/internal/domain"
	"github.com/fairyhunter13/face-recognition-service/pkg/imagex"
)

// Model derives embeddings from the image bytes themselves.
type Model struct {
	dim int
}

func New(dim int) *Model {
	if dim <= 0 {
		dim = 512
	}
	return &Model{dim: dim}
}

// DetectAndEmbed reports a single full-frame detection with a hash-derived
// embedding.
func (m *Model) DetectAndEmbed(_ domain.Context, image []byte) ([]domain.Detection, error) {
	if len(image) == 0 {
		return nil, nil
	}
	bbox := []float64{0, 0, 0, 0}
	if info, err := imagex.Inspect(image); err == nil {
		bbox = []float64{0, 0, float64(info.Width), float64(info.Height)}
	}
	return []domain.Detection{{
		BBox:      bbox,
		Score:     0.99,
		Embedding: m.embed(image),
	}}, nil
}

// embed expands a SHA-256 digest of the image into dim floats in [-1, 1).
func (m *Model) embed(image []byte) []float32 {
	out := make([]float32, m.dim)
	sum := sha256.Sum256(image)
	block := sum[:]
	for i := 0; i < m.dim; i++ {
		if i > 0 && i%8 == 0 {
			next := sha256.Sum256(block)
			block = next[:]
		}
		u := binary.BigEndian.Uint32(block[(i%8)*4 : (i%8)*4+4])
		out[i] = float32(int64(u)-1<<31) / float32(1<<31)
	}
	return out
}
