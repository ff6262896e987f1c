package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/face-recognition-service/internal/adapter/observability"
	"github.com/fairyhunter13/face-recognition-service/internal/config"
	"github.com/fairyhunter13/face-recognition-service/internal/domain"
	"github.com/fairyhunter13/face-recognition-service/internal/index"
)

// snapshotEnvelope is the wire wrapper around a snapshot, shared by the
// control plane's export endpoint and seed files.
type snapshotEnvelope struct {
	Data domain.Snapshot `json:"data" yaml:"data"`
}

// Loader seeds the recognition index at worker start. Every failure mode
// degrades to an empty index; the worker never refuses to boot over data.
type Loader struct {
	cfg config.Config
	idx *index.Index
	hc  *http.Client
}

func NewLoader(cfg config.Config, idx *index.Index) *Loader {
	return &Loader{
		cfg: cfg,
		idx: idx,
		hc:  &http.Client{Timeout: cfg.APITimeoutDuration()},
	}
}

// Load populates the index from the configured source.
func (l *Loader) Load(ctx context.Context) {
	src := strings.ToUpper(strings.TrimSpace(l.cfg.DataSource))
	slog.Info("loading initial data", slog.String("data_source", src))

	var (
		snap domain.Snapshot
		err  error
	)
	switch src {
	case config.DataSourceNone, "":
		slog.Info("startup loader disabled, starting with empty index")
		return
	case config.DataSourceLocalFile:
		snap, err = l.fromFile(l.cfg.DataFile)
	case config.DataSourceAPI:
		snap, err = l.fromAPI(ctx)
	default:
		slog.Warn("unknown DATA_SOURCE, starting with empty index",
			slog.String("data_source", l.cfg.DataSource))
		return
	}
	if err != nil {
		slog.Warn("initial data load failed, starting with empty index", slog.Any("error", err))
		return
	}

	orphans := l.idx.Load(snap)
	if len(orphans) > 0 {
		slog.Warn("snapshot faces without embeddings skipped",
			slog.Int("count", len(orphans)),
			slog.Any("face_ids", orphans))
	}
	tenants, users, faces, embeddings := l.idx.Stats()
	observability.SetIndexSize(tenants, faces)
	slog.Info("recognition index loaded",
		slog.Int("tenants", tenants),
		slog.Int("users", users),
		slog.Int("faces", faces),
		slog.Int("embeddings", embeddings))
}

// fromFile reads a JSON or YAML snapshot, picked by extension. A missing
// file is not an error: the worker starts empty, same as NONE.
func (l *Loader) fromFile(path string) (domain.Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("data file not found, starting with empty index", slog.String("path", path))
			return domain.Snapshot{}, nil
		}
		return domain.Snapshot{}, fmt.Errorf("op=worker.Loader.fromFile: %w", err)
	}
	var env snapshotEnvelope
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &env); err != nil {
			return domain.Snapshot{}, fmt.Errorf("op=worker.Loader.fromFile: parse yaml %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(raw, &env); err != nil {
			return domain.Snapshot{}, fmt.Errorf("op=worker.Loader.fromFile: parse json %s: %w", path, err)
		}
	}
	return env.Data, nil
}

// fromAPI fetches the snapshot from the control plane's export endpoint.
func (l *Loader) fromAPI(ctx context.Context) (domain.Snapshot, error) {
	if l.cfg.APIURL == "" {
		slog.Warn("API_URL not configured, skipping initial data load")
		return domain.Snapshot{}, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.APIURL, nil)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("op=worker.Loader.fromAPI: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if l.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.cfg.APIKey)
	}
	resp, err := l.hc.Do(req)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("op=worker.Loader.fromAPI: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.Snapshot{}, fmt.Errorf("op=worker.Loader.fromAPI: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var env snapshotEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return domain.Snapshot{}, fmt.Errorf("op=worker.Loader.fromAPI: decode response: %w", err)
	}
	return env.Data, nil
}
