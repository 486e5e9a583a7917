package network

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	libp2p_host "github.com/libp2p/go-libp2p/core/host"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeoffload/dispatch/internal/core"
)

func newMocknetTransport(t *testing.T) (*Libp2pTransport, mocknet.Mocknet) {
	t.Helper()
	mn := mocknet.New()
	t.Cleanup(func() { _ = mn.Close() })

	dialer, err := mn.GenPeer()
	require.NoError(t, err)
	tr, err := NewLibp2pTransport(
		WithDialer(dialer),
		WithHostFactory(func(core.Endpoint) (libp2p_host.Host, error) { return mn.GenPeer() }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr, mn
}

func linkAll(t *testing.T, mn mocknet.Mocknet) {
	t.Helper()
	require.NoError(t, mn.LinkAll())
	require.NoError(t, mn.ConnectAllButSelf())
}

// ========== Libp2pTransport Tests ==========

func TestLibp2pTransportDelivers(t *testing.T) {
	tr, mn := newMocknetTransport(t)
	got := make(chan core.Message, 1)
	require.NoError(t, tr.Handle(epA, func(_ context.Context, msg core.Message) error {
		got <- msg
		return nil
	}))
	linkAll(t, mn)

	msg := core.NewMessage(core.KindOffload, core.Task{ID: "t1", NeededCPUCycles: 5, NeededMemory: 2, Budget: 60})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Send(ctx, epA, msg))

	select {
	case m := <-got:
		assert.Equal(t, msg, m)
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}

func TestLibp2pTransportRegistersLocalHosts(t *testing.T) {
	tr, _ := newMocknetTransport(t)
	require.NoError(t, tr.Handle(epA, func(context.Context, core.Message) error { return nil }))

	h, ok := tr.Host(epA)
	require.True(t, ok)
	info, ok := tr.Directory().Lookup(epA)
	require.True(t, ok)
	assert.Equal(t, h.ID(), info.ID)

	assert.ErrorIs(t, tr.Handle(epA, func(context.Context, core.Message) error { return nil }), ErrDuplicateHandler)
}

func TestLibp2pTransportUnknownEndpoint(t *testing.T) {
	tr, _ := newMocknetTransport(t)
	err := tr.Send(context.Background(), epB, core.NewMessage(core.KindHandle, core.Task{ID: "t"}))
	assert.ErrorIs(t, err, ErrUnknownEndpoint)
}

func TestLibp2pTransportRejectsMalformedPayload(t *testing.T) {
	tr, mn := newMocknetTransport(t)
	called := make(chan struct{}, 1)
	require.NoError(t, tr.Handle(epA, func(context.Context, core.Message) error {
		called <- struct{}{}
		return nil
	}))
	linkAll(t, mn)

	h, ok := tr.Host(epA)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := tr.dialer.NewStream(ctx, h.ID(), ProtocolID)
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Write([]byte{0xff, 0xff, 0xff})
	require.NoError(t, err)
	require.NoError(t, stream.CloseWrite())
	ack, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, ackRejected, string(ack))

	select {
	case <-called:
		t.Fatal("handler must not see malformed messages")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLibp2pTransportClose(t *testing.T) {
	tr, _ := newMocknetTransport(t)
	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Send(context.Background(), epA, core.NewMessage(core.KindHandle, core.Task{ID: "t"})), ErrClosed)
	assert.ErrorIs(t, tr.Handle(epA, func(context.Context, core.Message) error { return nil }), ErrClosed)
	assert.NoError(t, tr.Close())
}

// ========== Identity and Addressing Tests ==========

func TestLoadOrCreateKeyPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "station.json")

	first, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	second, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.True(t, first.Equals(second))

	id, err := LoadIdentity(path)
	require.NoError(t, err)
	assert.NotEmpty(t, id.PeerID)
}

func TestEndpointMultiaddr(t *testing.T) {
	tests := []struct {
		ep   core.Endpoint
		want string
	}{
		{core.Endpoint{Address: "10.0.0.1", Port: 9001}, "/ip4/10.0.0.1/tcp/9001"},
		{core.Endpoint{Address: "::1", Port: 9001}, "/ip6/::1/tcp/9001"},
		{core.Endpoint{Address: "station-a.local", Port: 9001}, "/dns/station-a.local/tcp/9001"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			addr, err := EndpointMultiaddr(tt.ep)
			require.NoError(t, err)
			assert.Equal(t, tt.want, addr.String())
		})
	}
}

func TestDirectoryRegisterRemote(t *testing.T) {
	d := NewDirectory()
	assert.Error(t, d.RegisterRemote(epA, "not-a-peer-id"))

	tr, _ := newMocknetTransport(t)
	require.NoError(t, tr.Handle(epA, func(context.Context, core.Message) error { return nil }))
	h, _ := tr.Host(epA)

	require.NoError(t, d.RegisterRemote(epB, h.ID().String()))
	info, ok := d.Lookup(epB)
	require.True(t, ok)
	assert.Equal(t, h.ID(), info.ID)
	require.Len(t, info.Addrs, 1)
	assert.Equal(t, "/ip4/10.0.0.2/tcp/9001", info.Addrs[0].String())
}
