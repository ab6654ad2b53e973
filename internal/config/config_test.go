package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 22 || cfg.Scheduler.SubmitCmd != "sbatch" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Retry.MaxAttempts != 4 {
		t.Errorf("retry defaults not applied: %+v", cfg.Retry)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "config.json")

	cfg := DefaultConfig()
	cfg.Host = "hpc.example.edu"
	cfg.Username = "alice"
	cfg.DefaultPartition = "compute"
	cfg.Retry.MaxAttempts = 7

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Host != "hpc.example.edu" || loaded.Username != "alice" {
		t.Errorf("round trip lost fields: %+v", loaded)
	}
	if loaded.Retry.MaxAttempts != 7 {
		t.Errorf("retry override lost: %+v", loaded.Retry)
	}
	// Unset fields still default after load.
	if loaded.Scheduler.CancelCmd != "scancel" {
		t.Errorf("scheduler default missing: %+v", loaded.Scheduler)
	}
}

func TestLoad_PartialFileGetsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"host": "cluster.local", "username": "bob"}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "cluster.local" {
		t.Errorf("host = %q", cfg.Host)
	}
	if cfg.RemoteProjectRoot == "" || cfg.CommandTimeoutSec == 0 {
		t.Errorf("defaults not filled in: %+v", cfg)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error for invalid JSON")
	}
}
