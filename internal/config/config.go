package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string

	// DB
	Env    string // "dev" | "prod"
	DBPath string // e.g. "./data/tapstation.db"

	// Identity and scope
	SessionID string // operational shift, scopes all state
	StationID string // this station's device id
	Stages    []string

	// Tap policy
	StrictSequence bool // hard-reject out-of-order hardware taps
	GraceMinutes   int  // same-stage correction window

	// Stage topology file (YAML); empty means built-in defaults
	TopologyPath string

	// ReaderFIFO is a named pipe the card-reader driver writes uids into,
	// one per line. Empty disables the local reader path (networked
	// readers use POST /v1/tap instead).
	ReaderFIFO string

	// Failover pairing
	PeerID           string
	PeerURL          string
	PeerStages       []string
	CheckIntervalSec int
	FailureThreshold int
	ProbeTimeoutSec  int

	// Admin endpoint rate limits, requests per minute per caller
	WriteRatePerMin int
	ReadRatePerMin  int
}

func FromEnv() Config {
	addr := getenvDefault("TAPSTATION_HTTP_ADDR", ":8080")

	env := strings.ToLower(getenvDefault("TAPSTATION_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	// Sessions default to one per day; provisioning overrides this for
	// multi-day events.
	session := getenvDefault("TAPSTATION_SESSION_ID", time.Now().UTC().Format("2006-01-02"))

	stages := splitCSV(os.Getenv("TAPSTATION_STAGES"))
	if len(stages) == 0 {
		stages = []string{"QUEUE_JOIN"}
	}

	strict := strings.EqualFold(os.Getenv("TAPSTATION_STRICT_SEQUENCE"), "true") ||
		os.Getenv("TAPSTATION_STRICT_SEQUENCE") == "1"

	return Config{
		HTTPAddr: addr,
		Env:      env,
		DBPath:   getenvDefault("TAPSTATION_DB_PATH", "./data/tapstation.db"),

		SessionID: session,
		StationID: getenvDefault("TAPSTATION_STATION_ID", "station-entry"),
		Stages:    stages,

		StrictSequence: strict,
		GraceMinutes:   getenvInt("TAPSTATION_GRACE_MINUTES", 5),

		TopologyPath: os.Getenv("TAPSTATION_TOPOLOGY_FILE"),
		ReaderFIFO:   os.Getenv("TAPSTATION_READER_FIFO"),

		PeerID:           os.Getenv("TAPSTATION_PEER_ID"),
		PeerURL:          os.Getenv("TAPSTATION_PEER_URL"),
		PeerStages:       splitCSV(os.Getenv("TAPSTATION_PEER_STAGES")),
		CheckIntervalSec: getenvInt("TAPSTATION_PEER_CHECK_INTERVAL_S", 30),
		FailureThreshold: getenvInt("TAPSTATION_PEER_FAILURE_THRESHOLD", 2),
		ProbeTimeoutSec:  getenvInt("TAPSTATION_PEER_PROBE_TIMEOUT_S", 5),

		WriteRatePerMin: getenvInt("TAPSTATION_WRITE_RATE_PER_MIN", 10),
		ReadRatePerMin:  getenvInt("TAPSTATION_READ_RATE_PER_MIN", 30),
	}
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
