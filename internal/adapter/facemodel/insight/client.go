// Package insight implements the face model port against an InsightFace
// sidecar exposed over HTTP.
package insight

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/face-recognition-service/internal/adapter/facemodel"
	"github.com/fairyhunter13/face-recognition-service/internal/config"
	"github.com/fairyhunter13/face-recognition-service/internal/domain"
)

// Client calls the sidecar's detect endpoint and maps its faces onto the
// domain detection type.
type Client struct {
	cfg     config.Config
	hc      *http.Client
	breaker *facemodel.Breaker
}

func New(cfg config.Config) *Client {
	return &Client{
		cfg:     cfg,
		hc:      &http.Client{Timeout: cfg.FaceModelTimeout},
		breaker: facemodel.NewBreaker(cfg.FaceModelURL),
	}
}

type detectRequest struct {
	ImageB64 string `json:"image_b64"`
}

type detectResponse struct {
	Faces []struct {
		BBox      []float64 `json:"bbox"`
		Score     float64   `json:"score"`
		Embedding []float32 `json:"embedding"`
	} `json:"faces"`
}

// DetectAndEmbed posts the image to the sidecar. Transient failures retry
// with exponential backoff; 4xx responses are permanent. An open circuit
// fails fast without touching the network.
func (c *Client) DetectAndEmbed(ctx domain.Context, image []byte) ([]domain.Detection, error) {
	if !c.breaker.ShouldAttempt() {
		slog.Warn("face model circuit open, failing fast",
			slog.String("endpoint", c.cfg.FaceModelURL))
		return nil, domain.E(domain.ErrInternal, "face model unavailable")
	}

	body, _ := json.Marshal(detectRequest{ImageB64: base64.StdEncoding.EncodeToString(image)})
	endpoint := c.cfg.FaceModelURL + "/v1/detect"

	var out detectResponse
	op := func() error {
		start := time.Now()
		// Recreate the request each attempt to avoid reusing consumed bodies.
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		r.Header.Set("Content-Type", "application/json")
		resp, err := c.hc.Do(r)
		if err != nil {
			slog.Warn("face model request failed",
				slog.String("endpoint", endpoint),
				slog.Any("error", err),
				slog.Duration("elapsed", time.Since(start)))
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			slog.Warn("face model rate limited", slog.Int("status", resp.StatusCode))
			return fmt.Errorf("rate limited: %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			snippet := string(respBody)
			if len(snippet) > 512 {
				snippet = snippet[:512]
			}
			slog.Warn("face model 4xx",
				slog.Int("status", resp.StatusCode),
				slog.String("endpoint", endpoint),
				slog.String("body", snippet))
			return backoff.Permanent(fmt.Errorf("detect status %d", resp.StatusCode))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			slog.Error("face model non-2xx",
				slog.Int("status", resp.StatusCode),
				slog.String("endpoint", endpoint))
			return fmt.Errorf("detect status %d", resp.StatusCode)
		}
		out = detectResponse{}
		if err := json.Unmarshal(respBody, &out); err != nil {
			slog.Error("face model decode error",
				slog.String("endpoint", endpoint),
				slog.Any("error", err))
			return backoff.Permanent(err)
		}
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxElapsedTime = c.cfg.FaceModelTimeout
	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		c.breaker.RecordFailure()
		return nil, domain.E(domain.ErrInternal, "face model detect: %v", err)
	}
	c.breaker.RecordSuccess()

	dets := make([]domain.Detection, 0, len(out.Faces))
	for _, f := range out.Faces {
		dets = append(dets, domain.Detection{
			BBox:      f.BBox,
			Score:     f.Score,
			Embedding: f.Embedding,
		})
	}
	return dets, nil
}
