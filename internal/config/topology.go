package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/flow"
)

// TopologyFile is the optional YAML document describing the stage workflow,
// the local station's scope, and its failover peer. Anything left empty
// falls back to the built-in defaults / env values.
type TopologyFile struct {
	Stages      []string            `yaml:"stages"`
	Transitions map[string][]string `yaml:"transitions"`
	Terminal    []string            `yaml:"terminal"`

	Station struct {
		ID     string   `yaml:"id"`
		Stages []string `yaml:"stages"`
	} `yaml:"station"`

	Peer struct {
		ID     string   `yaml:"id"`
		URL    string   `yaml:"url"`
		Stages []string `yaml:"stages"`
	} `yaml:"peer"`

	Anomaly AnomalyThresholds `yaml:"anomaly"`
}

// AnomalyThresholds override the scanner defaults; zero means "use default".
// All values are minutes.
type AnomalyThresholds struct {
	ForgottenExitMediumMin int `yaml:"forgotten_exit_medium_minutes"`
	ForgottenExitHighMin   int `yaml:"forgotten_exit_high_minutes"`
	StuckInServiceMedMin   int `yaml:"stuck_in_service_medium_minutes"`
	StuckInServiceHighMin  int `yaml:"stuck_in_service_high_minutes"`
	LongServiceAbsoluteMin int `yaml:"long_service_absolute_minutes"`
	RapidFireMin           int `yaml:"rapid_fire_minutes"`
}

// LoadTopology parses the YAML topology document at path.
func LoadTopology(path string) (*TopologyFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology file: %w", err)
	}
	var f TopologyFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse topology file %s: %w", path, err)
	}
	return &f, nil
}

// BuildTopology turns the document into a validated flow.Topology, filling
// any omitted section from the defaults.
func (f *TopologyFile) BuildTopology() (*flow.Topology, error) {
	topo := flow.DefaultTopology()
	if len(f.Stages) > 0 {
		topo.Stages = f.Stages
	}
	if len(f.Transitions) > 0 {
		topo.Transitions = f.Transitions
	}
	if len(f.Terminal) > 0 {
		topo.Terminal = f.Terminal
	}
	if err := topo.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}
	return topo, nil
}

// Apply overlays the document's station/peer sections onto cfg. File values
// win over env values, matching how --flags win over both.
func (f *TopologyFile) Apply(cfg *Config) {
	if f.Station.ID != "" {
		cfg.StationID = f.Station.ID
	}
	if len(f.Station.Stages) > 0 {
		cfg.Stages = f.Station.Stages
	}
	if f.Peer.ID != "" {
		cfg.PeerID = f.Peer.ID
	}
	if f.Peer.URL != "" {
		cfg.PeerURL = f.Peer.URL
	}
	if len(f.Peer.Stages) > 0 {
		cfg.PeerStages = f.Peer.Stages
	}
}
