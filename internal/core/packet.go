package core

import "fmt"

// MessageKind tags the payload carried between stations, devices and the
// cloud.
type MessageKind uint8

const (
	KindUnknown MessageKind = iota
	// KindRequest is a fresh task submitted by a client to a station.
	KindRequest
	// KindOffload is a task relayed by a station that could not place it.
	KindOffload
	// KindHandle instructs a device or the cloud to run the task.
	KindHandle
	// KindDispatchSuccess tells the cloud a task was placed on the edge.
	KindDispatchSuccess
	// KindDispatchFailure tells the cloud a station could not place a task.
	KindDispatchFailure
)

var kindNames = map[MessageKind]string{
	KindUnknown:         "unknown",
	KindRequest:         "request",
	KindOffload:         "offload",
	KindHandle:          "handle",
	KindDispatchSuccess: "dispatch_success",
	KindDispatchFailure: "dispatch_failure",
}

func (k MessageKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is one of the defined kinds.
func (k MessageKind) Valid() bool {
	return k > KindUnknown && k <= KindDispatchFailure
}

// Message is the unit exchanged over the transport: a kind tag plus the
// task it concerns. Offload messages also carry the IDs of the stations
// that already tried the task, so stations in other processes do not
// revisit them.
type Message struct {
	Kind  MessageKind
	Task  Task
	Tried []string
}

// NewMessage builds a message of the given kind.
func NewMessage(kind MessageKind, t Task) Message {
	return Message{Kind: kind, Task: t}
}

// WithTried returns a copy of m carrying the given tried stations.
func (m Message) WithTried(tried []string) Message {
	m.Tried = append([]string(nil), tried...)
	return m
}

// WithKind returns a copy of m retagged as kind. The task is unchanged.
func (m Message) WithKind(kind MessageKind) Message {
	m.Kind = kind
	return m
}
