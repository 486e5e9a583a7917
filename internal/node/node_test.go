package node

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeoffload/dispatch/internal/config"
	"github.com/edgeoffload/dispatch/internal/core"
	"github.com/edgeoffload/dispatch/internal/dispatch"
	"github.com/edgeoffload/dispatch/internal/network"
)

const twoStations = `
policy: peers
cloud: {address: 10.0.0.1, port: 9000}
stations:
  - address: 10.0.1.1
    port: 9001
    devices:
      - {address: 10.0.2.1, port: 9101, cpu: 10, memory: 4, price: 80}
  - address: 10.0.1.2
    port: 9001
    devices:
      - {address: 10.0.2.2, port: 9101, cpu: 40, memory: 16, price: 120}
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMemoryNode(t *testing.T, yaml string) (*Node, *network.MemoryTransport) {
	t.Helper()
	topo, err := config.Parse([]byte(yaml))
	require.NoError(t, err)

	n, err := New(topo, TransportMemory, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Transport.Close() })

	mt, ok := n.Transport.(*network.MemoryTransport)
	require.True(t, ok, "breaker should be disabled for this topology")
	return n, mt
}

// ========== Node Tests ==========

func TestNewBuildsLocalDeployment(t *testing.T) {
	n, _ := newMemoryNode(t, twoStations)

	assert.Equal(t, 2, n.Container.Size())
	require.NotNil(t, n.Cloud)
	for _, s := range n.Container.Stations() {
		assert.Equal(t, core.Endpoint{Address: "10.0.0.1", Port: 9000}, s.Cloud())
		assert.Len(t, s.Peers(), 1)
	}
	assert.NotNil(t, n.Reporter)
	assert.NotNil(t, n.Handler)
}

func TestNodeDispatchDrainsLedger(t *testing.T) {
	n, mt := newMemoryNode(t, twoStations)
	ctx := context.Background()

	local, err := n.Container.Submit(ctx, 0, core.Task{ID: "local", NeededCPUCycles: 5, NeededMemory: 1, Budget: 100})
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeLocal, local.Outcome)

	peer, err := n.Container.Submit(ctx, 0, core.Task{ID: "peer", NeededCPUCycles: 30, NeededMemory: 8, Budget: 200})
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomePeer, peer.Outcome)

	_, err = n.Container.Submit(ctx, 1, core.Task{ID: "cloud", NeededCPUCycles: 500, NeededMemory: 8, Budget: 200})
	require.NoError(t, err)

	mt.Wait()
	assert.Equal(t, 0, n.Ledger.Len())

	stats := n.Cloud.Stats()
	assert.EqualValues(t, 1, stats.Accepted)
	assert.EqualValues(t, 1, stats.EdgePlaced)
	assert.Len(t, mt.SentTo(core.Endpoint{Address: "10.0.2.2", Port: 9101}), 1)
}

func TestNewWrapsBreaker(t *testing.T) {
	topo, err := config.Parse([]byte(twoStations + "breaker: {enabled: true}\n"))
	require.NoError(t, err)

	n, err := New(topo, TransportMemory, quietLogger())
	require.NoError(t, err)
	defer n.Transport.Close()

	_, ok := n.Transport.(*network.BreakerTransport)
	assert.True(t, ok)
}

func TestNewRejectsUnknownTransport(t *testing.T) {
	topo, err := config.Parse([]byte(twoStations))
	require.NoError(t, err)

	_, err = New(topo, "carrier-pigeon", quietLogger())
	assert.Error(t, err)
}

func TestNewUsesHostOffer(t *testing.T) {
	n, _ := newMemoryNode(t, `
cloud: {address: 10.0.0.1, port: 9000}
stations:
  - address: 10.0.1.1
    port: 9001
    host_offer: {address: 10.0.2.9, port: 9101, price: 10, cycles_per_core: 10}
`)
	assert.Equal(t, 1, n.Container.Size())
}

func TestRunClosesTransportWhenReporterFails(t *testing.T) {
	n, mt := newMemoryNode(t, twoStations)
	n.Topology.MonitorInterval = 0

	require.Error(t, n.Run(context.Background()))

	err := mt.Send(context.Background(), core.Endpoint{Address: "10.0.0.1", Port: 9000},
		core.NewMessage(core.KindHandle, core.Task{ID: "late"}))
	assert.ErrorIs(t, err, network.ErrClosed)
}
