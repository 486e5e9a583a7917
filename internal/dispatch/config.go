package dispatch

import (
	"fmt"
	"strings"
	"time"
)

// EscalationPolicy selects what a station does with a fresh request it
// cannot place locally.
type EscalationPolicy int

const (
	// EscalatePeers tries untried peer stations in order, then the cloud.
	EscalatePeers EscalationPolicy = iota
	// EscalateDirect reports failure straight to the cloud.
	EscalateDirect
)

func (p EscalationPolicy) String() string {
	switch p {
	case EscalatePeers:
		return "peers"
	case EscalateDirect:
		return "direct"
	default:
		return "unknown"
	}
}

// ParsePolicy parses "peers" or "direct". The empty string selects peers.
func ParsePolicy(s string) (EscalationPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "peers":
		return EscalatePeers, nil
	case "direct":
		return EscalateDirect, nil
	default:
		return 0, fmt.Errorf("unknown escalation policy %q", s)
	}
}

// StationConfig holds per-station dispatch settings
type StationConfig struct {
	Policy          EscalationPolicy `json:"policy"`
	ReserveCapacity bool             `json:"reserve_capacity"`
	NotifySuccess   bool             `json:"notify_success"`
	SendTimeout     time.Duration    `json:"send_timeout"`
	// TaskHistory bounds the received-task sequence kept per station.
	TaskHistory int `json:"task_history"`
}

// DefaultStationConfig returns the settings used when none are given.
func DefaultStationConfig() StationConfig {
	return StationConfig{
		Policy:          EscalatePeers,
		ReserveCapacity: false,
		NotifySuccess:   true,
		SendTimeout:     2 * time.Second,
		TaskHistory:     256,
	}
}
