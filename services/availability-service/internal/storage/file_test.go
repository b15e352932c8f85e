package storage

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/md-rashed-zaman/freeslots/services/availability-service/internal/model"
)

func TestFileSnapshots_MissingFileIsEmpty(t *testing.T) {
	f := NewFileSnapshots(filepath.Join(t.TempDir(), "students_busy.json"))
	snap, err := f.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if snap == nil || len(snap) != 0 {
		t.Fatalf("expected empty snapshot, got %#v", snap)
	}
}

func TestFileSnapshots_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "students_busy.json")
	f := NewFileSnapshots(path)

	week := model.NewWeek()
	week[model.Mon] = []model.Interval{{Start: 540, End: 660}}
	in := model.Snapshot{"Ann": week, "Bob": model.Week{model.Fri: {{Start: 0, End: 30}}}}

	if err := f.Save(ctx, in); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	out, err := f.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !slices.Equal(out["Ann"][model.Mon], []model.Interval{{Start: 540, End: 660}}) {
		t.Fatalf("unexpected Ann Monday: %v", out["Ann"][model.Mon])
	}
	if len(out["Bob"]) != 7 {
		t.Fatalf("expected all seven days written for Bob, got %v", out["Bob"])
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, found %d entries", len(entries))
	}
}

func TestFileSnapshots_Format(t *testing.T) {
	path := filepath.Join(t.TempDir(), "students_busy.json")
	f := NewFileSnapshots(path)
	if err := f.Save(context.Background(), model.Snapshot{"Ann": model.Week{model.Tue: {{Start: 60, End: 120}}}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var raw map[string]map[string][]map[string]int
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("file is not the documented shape: %v", err)
	}
	days := raw["Ann"]
	for _, d := range []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"} {
		if _, ok := days[d]; !ok {
			t.Fatalf("missing day %s in %s", d, data)
		}
	}
	if days["Tue"][0]["start"] != 60 || days["Tue"][0]["end"] != 120 {
		t.Fatalf("unexpected Tue entry: %v", days["Tue"])
	}
	if strings.Contains(string(data), "null") {
		t.Fatalf("empty days must be written as [], got %s", data)
	}
}

func TestFileSnapshots_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "students_busy.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewFileSnapshots(path).Load(context.Background()); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestFileSnapshots_SaveIntoMissingDirFails(t *testing.T) {
	f := NewFileSnapshots(filepath.Join(t.TempDir(), "missing", "students_busy.json"))
	if err := f.Save(context.Background(), model.Snapshot{}); err == nil {
		t.Fatalf("expected error writing into a missing directory")
	}
	if err := f.ReadyCheck()(context.Background()); err == nil {
		t.Fatalf("expected ready check to fail")
	}
}
