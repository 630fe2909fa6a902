package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{
		"TAPSTATION_HTTP_ADDR", "TAPSTATION_ENV", "TAPSTATION_DB_PATH",
		"TAPSTATION_SESSION_ID", "TAPSTATION_STATION_ID", "TAPSTATION_STAGES",
		"TAPSTATION_STRICT_SEQUENCE", "TAPSTATION_GRACE_MINUTES",
	} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %s, want :8080", cfg.HTTPAddr)
	}
	if cfg.Env != "dev" {
		t.Errorf("Env = %s, want dev", cfg.Env)
	}
	if cfg.StationID != "station-entry" {
		t.Errorf("StationID = %s", cfg.StationID)
	}
	if len(cfg.Stages) != 1 || cfg.Stages[0] != "QUEUE_JOIN" {
		t.Errorf("Stages = %v", cfg.Stages)
	}
	if cfg.GraceMinutes != 5 {
		t.Errorf("GraceMinutes = %d, want 5", cfg.GraceMinutes)
	}
	if cfg.SessionID == "" {
		t.Error("SessionID must default to the current date")
	}
	if cfg.StrictSequence {
		t.Error("StrictSequence must default off")
	}
	if cfg.WriteRatePerMin != 10 || cfg.ReadRatePerMin != 30 {
		t.Errorf("rate defaults = %d/%d", cfg.WriteRatePerMin, cfg.ReadRatePerMin)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("TAPSTATION_ENV", "PROD")
	t.Setenv("TAPSTATION_SESSION_ID", "festival-day-2")
	t.Setenv("TAPSTATION_STATION_ID", "station-exit")
	t.Setenv("TAPSTATION_STAGES", "SUBSTANCE_RETURNED, EXIT")
	t.Setenv("TAPSTATION_STRICT_SEQUENCE", "true")
	t.Setenv("TAPSTATION_GRACE_MINUTES", "10")
	t.Setenv("TAPSTATION_PEER_URL", "http://station-entry.local:8080")

	cfg := FromEnv()

	if cfg.Env != "prod" {
		t.Errorf("Env = %s", cfg.Env)
	}
	if cfg.SessionID != "festival-day-2" {
		t.Errorf("SessionID = %s", cfg.SessionID)
	}
	if len(cfg.Stages) != 2 || cfg.Stages[1] != "EXIT" {
		t.Errorf("Stages = %v", cfg.Stages)
	}
	if !cfg.StrictSequence || cfg.GraceMinutes != 10 {
		t.Errorf("policy = %+v", cfg)
	}
	if cfg.PeerURL != "http://station-entry.local:8080" {
		t.Errorf("PeerURL = %s", cfg.PeerURL)
	}
}

func TestFromEnv_BadIntFallsBack(t *testing.T) {
	t.Setenv("TAPSTATION_GRACE_MINUTES", "soon")
	if cfg := FromEnv(); cfg.GraceMinutes != 5 {
		t.Errorf("GraceMinutes = %d, want default 5", cfg.GraceMinutes)
	}

	t.Setenv("TAPSTATION_GRACE_MINUTES", "-3")
	if cfg := FromEnv(); cfg.GraceMinutes != 5 {
		t.Errorf("negative minutes must fall back, got %d", cfg.GraceMinutes)
	}
}

const topologyYAML = `
stages: [QUEUE_JOIN, SERVICE_START, EXIT]
transitions:
  QUEUE_JOIN: [SERVICE_START, EXIT]
  SERVICE_START: [EXIT]
  EXIT: []
terminal: [EXIT]
station:
  id: station-exit
  stages: [EXIT]
peer:
  id: station-entry
  url: http://station-entry.local:8080
  stages: [QUEUE_JOIN, SERVICE_START]
anomaly:
  forgotten_exit_medium_minutes: 20
`

func writeTopology(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topology.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadTopology(t *testing.T) {
	f, err := LoadTopology(writeTopology(t, topologyYAML))
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}

	topo, err := f.BuildTopology()
	if err != nil {
		t.Fatalf("BuildTopology: %v", err)
	}
	if len(topo.Stages) != 3 {
		t.Errorf("Stages = %v", topo.Stages)
	}
	if !topo.CanFollow("QUEUE_JOIN", "EXIT") || topo.CanFollow("EXIT", "QUEUE_JOIN") {
		t.Error("transitions not honoured")
	}

	cfg := Config{StationID: "station-entry", Stages: []string{"QUEUE_JOIN"}}
	f.Apply(&cfg)
	if cfg.StationID != "station-exit" || cfg.PeerURL != "http://station-entry.local:8080" {
		t.Errorf("file overlay not applied: %+v", cfg)
	}
	if f.Anomaly.ForgottenExitMediumMin != 20 {
		t.Errorf("anomaly thresholds = %+v", f.Anomaly)
	}
}

func TestBuildTopology_RejectsDanglingTransition(t *testing.T) {
	f, err := LoadTopology(writeTopology(t, `
stages: [QUEUE_JOIN]
transitions:
  QUEUE_JOIN: [TEARDOWN]
terminal: [QUEUE_JOIN]
`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.BuildTopology(); err == nil {
		t.Fatal("expected validation error for a transition to an unknown stage")
	}
}

func TestLoadTopology_MissingFile(t *testing.T) {
	if _, err := LoadTopology(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
