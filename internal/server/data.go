package server

import (
	"encoding/json"
	"io"

	"github.com/edgeoffload/dispatch/internal/core"
	"github.com/edgeoffload/dispatch/internal/dispatch"
)

func toJSON(i interface{}, w io.Writer) error {
	e := json.NewEncoder(w)
	return e.Encode(i)
}

func fromJSON(i interface{}, r io.Reader) error {
	d := json.NewDecoder(r)
	d.DisallowUnknownFields()
	return d.Decode(i)
}

// SubmitTaskRequest is the body of a task submission. An empty id is
// replaced with a random one.
type SubmitTaskRequest struct {
	ID              string  `json:"id"`
	NeededCPUCycles float64 `json:"neededCpuCycles"`
	NeededMemory    float64 `json:"neededMemory"`
	Budget          float64 `json:"budget"`
}

func (r SubmitTaskRequest) task() core.Task {
	return core.Task{
		ID:              r.ID,
		NeededCPUCycles: r.NeededCPUCycles,
		NeededMemory:    r.NeededMemory,
		Budget:          r.Budget,
	}.EnsureID()
}

// SubmitTaskResponse reports the first-hop decision for a task.
type SubmitTaskResponse struct {
	TaskID  string `json:"taskId"`
	Station string `json:"station"`
	Outcome string `json:"outcome"`
	Target  string `json:"target"`
}

func newSubmitTaskResponse(d dispatch.Decision) SubmitTaskResponse {
	return SubmitTaskResponse{
		TaskID:  d.TaskID,
		Station: d.Station,
		Outcome: d.Outcome.String(),
		Target:  d.Target.String(),
	}
}

// StationInfo describes one station.
type StationInfo struct {
	Index    int      `json:"index"`
	Endpoint string   `json:"endpoint"`
	Remote   bool     `json:"remote"`
	Peers    []string `json:"peers"`
	Cloud    string   `json:"cloud"`
	Received uint64   `json:"received"`
}

// LedgerInfo summarises the dispatch ledger.
type LedgerInfo struct {
	Entries int      `json:"entries"`
	Stale   []string `json:"stale"`
}

type errorResponse struct {
	Error string `json:"error"`
}
