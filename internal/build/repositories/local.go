package repositories

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cochaviz/cask/internal/build"
)

var _ build.RecordRepository = (*LocalRecordRepository)(nil)

// LocalRecordRepository persists build records as JSON files under BaseDir,
// one file per build id.
type LocalRecordRepository struct {
	BaseDir string
}

// Save writes the record to disk using its ID as the filename. The file is
// replaced atomically so readers never observe a partial record.
func (rep *LocalRecordRepository) Save(_ context.Context, record build.BuildRecord) error {
	if rep.BaseDir == "" {
		return errors.New("base directory is not configured")
	}
	if err := validID(record.ID); err != nil {
		return err
	}

	if err := os.MkdirAll(rep.BaseDir, 0o755); err != nil {
		return err
	}

	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(rep.BaseDir, "."+record.ID+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), rep.path(record.ID)); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Get returns the record with the provided ID.
func (rep *LocalRecordRepository) Get(_ context.Context, buildID string) (build.BuildRecord, error) {
	if err := validID(buildID); err != nil {
		return build.BuildRecord{}, err
	}
	record, err := rep.load(rep.path(buildID))
	if errors.Is(err, fs.ErrNotExist) {
		return build.BuildRecord{}, fmt.Errorf("%w: %s", build.ErrRecordNotFound, buildID)
	}
	return record, err
}

// LatestForAgent returns the most recently started build of agentID.
func (rep *LocalRecordRepository) LatestForAgent(ctx context.Context, agentID string) (build.BuildRecord, error) {
	records, err := rep.ListByAgent(ctx, agentID)
	if err != nil {
		return build.BuildRecord{}, err
	}
	if len(records) == 0 {
		return build.BuildRecord{}, fmt.Errorf("%w: no builds for agent %s", build.ErrRecordNotFound, agentID)
	}
	return records[0], nil
}

// ListByAgent returns every build of agentID, newest first.
func (rep *LocalRecordRepository) ListByAgent(ctx context.Context, agentID string) ([]build.BuildRecord, error) {
	all, err := rep.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(record build.BuildRecord) bool {
		return record.AgentID != agentID
	}), nil
}

// List returns up to limit records, newest first. A limit of zero or less
// returns everything.
func (rep *LocalRecordRepository) List(ctx context.Context, limit int) ([]build.BuildRecord, error) {
	all, err := rep.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (rep *LocalRecordRepository) loadAll(ctx context.Context) ([]build.BuildRecord, error) {
	entries, err := os.ReadDir(rep.BaseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	records := make([]build.BuildRecord, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}

		record, err := rep.load(filepath.Join(rep.BaseDir, name))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
		records = append(records, record)
	}

	sortNewestFirst(records)
	return records, nil
}

func (rep *LocalRecordRepository) load(path string) (build.BuildRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return build.BuildRecord{}, err
	}

	var record build.BuildRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return build.BuildRecord{}, err
	}
	return record, nil
}

func (rep *LocalRecordRepository) path(buildID string) string {
	return filepath.Join(rep.BaseDir, buildID+".json")
}

func validID(buildID string) error {
	if buildID == "" {
		return errors.New("build id is required")
	}
	if strings.ContainsAny(buildID, `/\`) || strings.HasPrefix(buildID, ".") {
		return fmt.Errorf("invalid build id %q", buildID)
	}
	return nil
}

func sortNewestFirst(records []build.BuildRecord) {
	slices.SortStableFunc(records, func(a, b build.BuildRecord) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
