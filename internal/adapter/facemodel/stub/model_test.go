package stub

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"reflect"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDetectAndEmbedDeterministic(t *testing.T) {
	m := New(128)
	img := pngBytes(t, 32, 24)

	one, err := m.DetectAndEmbed(context.Background(), img)
	if err != nil {
		t.Fatalf("DetectAndEmbed: %v", err)
	}
	two, err := m.DetectAndEmbed(context.Background(), img)
	if err != nil {
		t.Fatalf("DetectAndEmbed again: %v", err)
	}
	if len(one) != 1 || len(two) != 1 {
		t.Fatalf("detections = %d/%d, want 1/1", len(one), len(two))
	}
	if !reflect.DeepEqual(one[0].Embedding, two[0].Embedding) {
		t.Fatal("same image produced different embeddings")
	}
	if len(one[0].Embedding) != 128 {
		t.Fatalf("embedding dim = %d, want 128", len(one[0].Embedding))
	}
}

func TestDetectAndEmbedDistinguishesImages(t *testing.T) {
	m := New(64)
	a, _ := m.DetectAndEmbed(context.Background(), pngBytes(t, 20, 20))
	b, _ := m.DetectAndEmbed(context.Background(), pngBytes(t, 21, 20))
	if reflect.DeepEqual(a[0].Embedding, b[0].Embedding) {
		t.Fatal("different images produced identical embeddings")
	}
}

func TestDetectAndEmbedBBoxCoversFrame(t *testing.T) {
	m := New(16)
	dets, err := m.DetectAndEmbed(context.Background(), pngBytes(t, 40, 30))
	if err != nil {
		t.Fatalf("DetectAndEmbed: %v", err)
	}
	want := []float64{0, 0, 40, 30}
	if !reflect.DeepEqual(dets[0].BBox, want) {
		t.Fatalf("bbox = %v, want %v", dets[0].BBox, want)
	}
	if dets[0].Score != 0.99 {
		t.Fatalf("score = %v, want 0.99", dets[0].Score)
	}
}

func TestDetectAndEmbedEmptyInput(t *testing.T) {
	m := New(16)
	dets, err := m.DetectAndEmbed(context.Background(), nil)
	if err != nil {
		t.Fatalf("DetectAndEmbed: %v", err)
	}
	if len(dets) != 0 {
		t.Fatalf("detections = %d, want 0", len(dets))
	}
}

func TestEmbeddingValuesBounded(t *testing.T) {
	m := New(512)
	dets, _ := m.DetectAndEmbed(context.Background(), pngBytes(t, 12, 12))
	var norm float64
	for _, v := range dets[0].Embedding {
		if v < -1 || v >= 1 {
			t.Fatalf("embedding value %v outside [-1, 1)", v)
		}
		norm += float64(v) * float64(v)
	}
	if math.Sqrt(norm) == 0 {
		t.Fatal("zero-norm embedding")
	}
}
