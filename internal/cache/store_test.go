package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gridlink-labs/gridlink/internal/errdefs"
	"github.com/gridlink-labs/gridlink/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "jobs"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func desc(id, name string, created time.Time) *models.JobDescriptor {
	return &models.JobDescriptor{
		JobID:     id,
		JobName:   name,
		Status:    models.StatusCreated,
		CreatedAt: created,
		Resources: models.ResourceRequest{Cores: 1, Walltime: "00:10:00"},
	}
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	if err := s.Put(desc("ab12", "run1", now)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get("ab12")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.JobName != "run1" || got.Status != models.StatusCreated || !got.CreatedAt.Equal(now) {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("nope")
	if !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_LastWriterWins(t *testing.T) {
	s := newTestStore(t)
	d := desc("ab12", "run1", time.Now())
	if err := s.Put(d); err != nil {
		t.Fatal(err)
	}
	d.Status = models.StatusPending
	d.SchedulerJobID = "555"
	if err := s.Put(d); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get("ab12")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusPending || got.SchedulerJobID != "555" {
		t.Errorf("second write lost: %+v", got)
	}
}

func TestStore_DeleteIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(desc("ab12", "run1", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("ab12"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete("ab12"); err != nil {
		t.Errorf("repeat Delete: %v", err)
	}
	if _, err := s.Get("ab12"); !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("entry survived delete: %v", err)
	}
}

func TestStore_ListSortedAndSkipsCorrupt(t *testing.T) {
	s := newTestStore(t)
	t0 := time.Now().Add(-time.Hour)
	if err := s.Put(desc("bb", "older", t0)); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(desc("aa", "newer", t0.Add(time.Minute))); err != nil {
		t.Fatal(err)
	}
	// A corrupt entry must not break listing.
	if err := os.WriteFile(filepath.Join(s.dir, "zz.json"), []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}

	jobs, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	if jobs[0].JobName != "older" || jobs[1].JobName != "newer" {
		t.Errorf("order wrong: %s, %s", jobs[0].JobName, jobs[1].JobName)
	}
}

func TestStore_PutRequiresJobID(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(&models.JobDescriptor{}); err == nil {
		t.Error("expected error for empty job id")
	}
}
