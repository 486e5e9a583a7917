package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/edgeoffload/dispatch/internal/core"
	"github.com/edgeoffload/dispatch/internal/dispatch"
	"github.com/edgeoffload/dispatch/internal/network"
)

// Environment overrides.
const (
	EnvConfigPath = "OFFLOAD_CONFIG"
	EnvLogLevel   = "OFFLOAD_LOG_LEVEL"
	EnvHTTPAddr   = "OFFLOAD_HTTP_ADDR"
)

// Duration is a time.Duration written as "2s", "5m" in config files.
type Duration time.Duration

// UnmarshalJSON accepts a Go duration string or integer nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer: %s", b)
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Endpoint is an address/port pair in config files.
type Endpoint struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
}

// Core converts to core.Endpoint.
func (e Endpoint) Core() core.Endpoint {
	return core.Endpoint{Address: e.Address, Port: e.Port}
}

// Device describes one edge device attached to a station.
type Device struct {
	Endpoint
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
	Price  float64 `json:"price"`
}

// HostOffer advertises the local machine as a device.
type HostOffer struct {
	Endpoint
	Price         float64 `json:"price"`
	CyclesPerCore float64 `json:"cycles_per_core"`
}

// Station describes one base station.
type Station struct {
	Endpoint
	PeerID    string     `json:"peer_id,omitempty"`
	Devices   []Device   `json:"devices,omitempty"`
	HostOffer *HostOffer `json:"host_offer,omitempty"`
}

// Local reports whether this process serves the station. Stations with a
// peer id run elsewhere.
func (s Station) Local() bool { return s.PeerID == "" }

// Breaker holds circuit breaker settings.
type Breaker struct {
	Enabled          bool     `json:"enabled"`
	FailureThreshold uint32   `json:"failure_threshold"`
	ResetTimeout     Duration `json:"reset_timeout"`
	HalfOpenMax      uint32   `json:"half_open_max"`
}

// Topology is the whole deployment: stations in order, their devices and
// the single cloud server.
type Topology struct {
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	Policy          string   `json:"policy"`
	ReserveCapacity bool     `json:"reserve_capacity"`
	NotifySuccess   *bool    `json:"notify_success,omitempty"`
	SendTimeout     Duration `json:"send_timeout"`

	LedgerStaleAfter Duration `json:"ledger_stale_after"`
	MonitorInterval  Duration `json:"monitor_interval"`

	HTTPAddr    string  `json:"http_addr"`
	IdentityDir string  `json:"identity_dir"`
	Breaker     Breaker `json:"breaker"`

	Cloud       Endpoint  `json:"cloud"`
	CloudPeerID string    `json:"cloud_peer_id,omitempty"`
	Stations    []Station `json:"stations"`
}

// Load reads, defaults and validates a topology file.
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML or JSON, then applies defaults, environment
// overrides and validation.
func Parse(data []byte) (*Topology, error) {
	var t Topology
	if err := yaml.UnmarshalStrict(data, &t); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	t.applyDefaults()
	t.applyEnv()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Topology) applyDefaults() {
	defaults := dispatch.DefaultStationConfig()
	breaker := network.DefaultBreakerConfig()

	if t.LogLevel == "" {
		t.LogLevel = "info"
	}
	if t.LogFormat == "" {
		t.LogFormat = "text"
	}
	if t.Policy == "" {
		t.Policy = dispatch.EscalatePeers.String()
	}
	if t.NotifySuccess == nil {
		v := defaults.NotifySuccess
		t.NotifySuccess = &v
	}
	if t.SendTimeout == 0 {
		t.SendTimeout = Duration(defaults.SendTimeout)
	}
	if t.LedgerStaleAfter == 0 {
		t.LedgerStaleAfter = Duration(5 * time.Minute)
	}
	if t.MonitorInterval == 0 {
		t.MonitorInterval = Duration(30 * time.Second)
	}
	if t.HTTPAddr == "" {
		t.HTTPAddr = ":8080"
	}
	if t.Breaker.FailureThreshold == 0 {
		t.Breaker.FailureThreshold = breaker.FailureThreshold
	}
	if t.Breaker.ResetTimeout == 0 {
		t.Breaker.ResetTimeout = Duration(breaker.ResetTimeout)
	}
	if t.Breaker.HalfOpenMax == 0 {
		t.Breaker.HalfOpenMax = breaker.HalfOpenMax
	}
}

func (t *Topology) applyEnv() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		t.LogLevel = v
	}
	if v := os.Getenv(EnvHTTPAddr); v != "" {
		t.HTTPAddr = v
	}
}

// Validate checks the topology for errors that must stop the process
// before any station starts.
func (t *Topology) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if _, err := dispatch.ParsePolicy(t.Policy); err != nil {
		add("%v", err)
	}
	if t.LogFormat != "text" && t.LogFormat != "json" {
		add("log_format must be text or json, got %q", t.LogFormat)
	}
	if t.Cloud.Core().IsZero() {
		add("cloud address not initialized")
	}
	if len(t.Stations) == 0 {
		add("at least one station is required")
	}

	seen := map[core.Endpoint]string{}
	claim := func(ep core.Endpoint, what string) {
		if ep.IsZero() {
			add("%s: endpoint not set", what)
			return
		}
		if prev, ok := seen[ep]; ok {
			add("%s: endpoint %s already used by %s", what, ep, prev)
			return
		}
		seen[ep] = what
	}
	claim(t.Cloud.Core(), "cloud")

	for i, s := range t.Stations {
		name := fmt.Sprintf("stations[%d]", i)
		claim(s.Core(), name)
		if !s.Local() && (len(s.Devices) > 0 || s.HostOffer != nil) {
			add("%s: remote station cannot declare devices", name)
		}
		if len(s.Devices) > 0 && s.HostOffer != nil {
			add("%s: declare either devices or host_offer, not both", name)
		}
		for j, d := range s.Devices {
			dname := fmt.Sprintf("%s.devices[%d]", name, j)
			claim(d.Core(), dname)
			if d.CPU < 0 || d.Memory < 0 || d.Price < 0 {
				add("%s: cpu, memory and price must be non-negative", dname)
			}
		}
		if h := s.HostOffer; h != nil {
			claim(h.Core(), name+".host_offer")
			if h.CyclesPerCore <= 0 {
				add("%s.host_offer: cycles_per_core must be positive", name)
			}
		}
	}

	if len(problems) > 0 {
		return dispatch.WrapError(dispatch.ErrCodeInvalidTopology, "invalid topology",
			fmt.Errorf("%s", strings.Join(problems, "; ")))
	}
	return nil
}

// StationConfig returns the dispatch settings shared by every station.
func (t *Topology) StationConfig() dispatch.StationConfig {
	cfg := dispatch.DefaultStationConfig()
	if p, err := dispatch.ParsePolicy(t.Policy); err == nil {
		cfg.Policy = p
	}
	cfg.ReserveCapacity = t.ReserveCapacity
	if t.NotifySuccess != nil {
		cfg.NotifySuccess = *t.NotifySuccess
	}
	cfg.SendTimeout = time.Duration(t.SendTimeout)
	return cfg
}

// BreakerConfig returns the circuit breaker settings.
func (t *Topology) BreakerConfig() network.BreakerConfig {
	return network.BreakerConfig{
		FailureThreshold: t.Breaker.FailureThreshold,
		ResetTimeout:     time.Duration(t.Breaker.ResetTimeout),
		HalfOpenMax:      t.Breaker.HalfOpenMax,
	}
}
