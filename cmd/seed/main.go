// Command seed loads a YAML/JSON snapshot file into the Postgres store.
// It writes the same {tenants, users, faces, embeddings} shape the worker
// loader reads, so a seeded store and a LOCAL_FILE-booted worker agree.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/face-recognition-service/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/face-recognition-service/internal/config"
	"github.com/fairyhunter13/face-recognition-service/internal/domain"
)

func main() {
	var file string
	flag.StringVar(&file, "file", "", "snapshot file (.json, .yaml or .yml); defaults to DATA_FILE")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if file == "" {
		file = cfg.DataFile
	}

	snap, err := readSnapshot(file)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		log.Fatal(err)
	}

	tenants := postgres.NewTenantRepo(pool)
	users := postgres.NewUserRepo(pool)
	faces := postgres.NewFaceRepo(pool)

	var seeded, skipped int
	for _, tid := range snap.Tenants {
		if err := tenants.Create(ctx, tid); err != nil && !errors.Is(err, domain.ErrConflict) {
			log.Fatalf("tenant %s: %v", tid, err)
		}
	}
	for tid, byUser := range snap.Users {
		for uid := range byUser {
			err := users.Create(ctx, domain.User{TenantID: tid, UserID: uid, Active: true})
			if err != nil && !errors.Is(err, domain.ErrConflict) {
				log.Fatalf("user %s/%s: %v", tid, uid, err)
			}
		}
	}
	for tid, list := range snap.Faces {
		for _, f := range list {
			emb, ok := snap.Embeddings[f.FaceID]
			if !ok {
				log.Printf("skipping face %s: no embedding in snapshot", f.FaceID)
				skipped++
				continue
			}
			err := faces.Create(ctx, domain.Face{ID: f.FaceID, TenantID: tid, UserID: f.UserID, Embedding: emb})
			if err != nil && !errors.Is(err, domain.ErrConflict) {
				log.Fatalf("face %s: %v", f.FaceID, err)
			}
			seeded++
		}
	}
	log.Printf("seeded %d tenants, %d faces (%d skipped) from %s", len(snap.Tenants), seeded, skipped, file)
}

// readSnapshot accepts the bare snapshot or the {"data": …} wire envelope.
func readSnapshot(path string) (domain.Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Snapshot{}, err
	}
	var wrapped struct {
		Data *domain.Snapshot `json:"data" yaml:"data"`
	}
	var snap domain.Snapshot
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &wrapped); err == nil && wrapped.Data != nil {
			return *wrapped.Data, nil
		}
		err = yaml.Unmarshal(raw, &snap)
		return snap, err
	default:
		if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Data != nil {
			return *wrapped.Data, nil
		}
		err = json.Unmarshal(raw, &snap)
		return snap, err
	}
}
