package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/edgeoffload/dispatch/internal/core"
	"github.com/edgeoffload/dispatch/internal/network"
)

// MockTransport records outbound messages without delivering them.
type MockTransport struct {
	sentMsgs []network.Envelope
	failing  map[core.Endpoint]error
	handlers map[core.Endpoint]network.Handler
	mu       sync.RWMutex
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		failing:  make(map[core.Endpoint]error),
		handlers: make(map[core.Endpoint]network.Handler),
	}
}

func (m *MockTransport) Send(_ context.Context, to core.Endpoint, msg core.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failing[to]; ok {
		return err
	}
	m.sentMsgs = append(m.sentMsgs, network.Envelope{To: to, Msg: msg})
	return nil
}

func (m *MockTransport) Handle(ep core.Endpoint, h network.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[ep] = h
	return nil
}

func (m *MockTransport) Close() error { return nil }

func (m *MockTransport) Fail(ep core.Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[ep] = errors.New("connection refused")
}

func (m *MockTransport) Sent() []network.Envelope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]network.Envelope, len(m.sentMsgs))
	copy(out, m.sentMsgs)
	return out
}

// MockLedger records the calls made against it.
type MockLedger struct {
	*MemoryLedger
	calls []string
	mu    sync.Mutex
}

func NewMockLedger() *MockLedger {
	return &MockLedger{MemoryLedger: NewMemoryLedger()}
}

func (m *MockLedger) Record(taskID, stationID string) {
	m.log("record " + stationID)
	m.MemoryLedger.Record(taskID, stationID)
}

func (m *MockLedger) Clear(taskID string) {
	m.log("clear")
	m.MemoryLedger.Clear(taskID)
}

func (m *MockLedger) log(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *MockLedger) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockReserver is an offer source whose reservations can be refused.
type MockReserver struct {
	core.StaticOffers
	refuse   map[core.Endpoint]bool
	reserved []core.Endpoint
	released []core.Endpoint
}

func (m *MockReserver) TryReserve(offer core.ComputeOffer, _ core.Task) bool {
	if m.refuse[offer.Endpoint] {
		return false
	}
	m.reserved = append(m.reserved, offer.Endpoint)
	return true
}

func (m *MockReserver) Release(offer core.ComputeOffer, _ core.Task) {
	m.released = append(m.released, offer.Endpoint)
}

func ep(addr string, port uint16) core.Endpoint {
	return core.Endpoint{Address: addr, Port: port}
}

var (
	stationA = ep("10.0.1.1", 9001)
	stationB = ep("10.0.1.2", 9001)
	stationC = ep("10.0.1.3", 9001)
	cloudEP  = ep("10.0.0.1", 9000)
	deviceD1 = ep("10.0.2.1", 9100)
	deviceD2 = ep("10.0.2.2", 9100)
)
