// Package storage persists the availability snapshot, either as a JSON file
// on local disk or as a JSONB document in Postgres.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
	"github.com/md-rashed-zaman/freeslots/services/availability-service/internal/model"
)

// FileSnapshots keeps the snapshot in one JSON file:
//
//	{"<Name>": {"Mon": [{"start": 540, "end": 600}], "Tue": [], ...}}
//
// Every student carries all seven days.
type FileSnapshots struct {
	path string
}

func NewFileSnapshots(path string) *FileSnapshots {
	return &FileSnapshots{path: path}
}

func (f *FileSnapshots) Path() string { return f.path }

func (f *FileSnapshots) Load(ctx context.Context) (model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.Snapshot{}, nil
		}
		return nil, err
	}
	return decodeSnapshot(data)
}

// Save rewrites the whole file through a temp file and rename so a crash
// never leaves a truncated snapshot behind.
func (f *FileSnapshots) Save(ctx context.Context, snap model.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeSnapshot(snap, true)
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, f.path)
}

// ReadyCheck verifies the snapshot directory is still writable.
func (f *FileSnapshots) ReadyCheck() func(context.Context) error {
	return func(context.Context) error {
		dir := filepath.Dir(f.path)
		probe, err := os.CreateTemp(dir, ".ready.*")
		if err != nil {
			return fmt.Errorf("snapshot dir %s not writable: %w", dir, err)
		}
		name := probe.Name()
		_ = probe.Close()
		return os.Remove(name)
	}
}

func encodeSnapshot(snap model.Snapshot, indent bool) ([]byte, error) {
	out := make(map[string]map[model.Weekday][]model.Interval, len(snap))
	for name, week := range snap {
		days := make(map[model.Weekday][]model.Interval, len(model.Weekdays))
		for _, d := range model.Weekdays {
			ivs := week[d]
			if ivs == nil {
				ivs = []model.Interval{}
			}
			days[d] = ivs
		}
		out[name] = days
	}
	if indent {
		return json.MarshalIndent(out, "", "  ")
	}
	return json.Marshal(out)
}

func decodeSnapshot(data []byte) (model.Snapshot, error) {
	snap := model.Snapshot{}
	if len(data) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
