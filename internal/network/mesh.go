package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	crypto "github.com/libp2p/go-libp2p/core/crypto"
	libp2p_host "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	peer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/edgeoffload/dispatch/internal/core"
)

// ProtocolID is the stream protocol carrying dispatch messages.
const ProtocolID = protocol.ID("/edge-offload/dispatch/1.0.0")

const (
	maxMessageSize = 64 << 10
	ackOK          = "ok"
	ackRejected    = "rejected"
)

// PersistentIdentity holds the private key and peer ID.
type PersistentIdentity struct {
	PrivKey []byte `json:"priv_key"`
	PeerID  string `json:"peer_id"`
}

// SaveIdentity saves identity to path.
func SaveIdentity(path string, id *PersistentIdentity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadIdentity loads identity from path.
func LoadIdentity(path string) (*PersistentIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var id PersistentIdentity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// LoadOrCreateKey returns the key stored at path, generating and saving a
// new Ed25519 key when the file does not exist.
func LoadOrCreateKey(path string) (crypto.PrivKey, error) {
	id, err := LoadIdentity(path)
	if err == nil {
		return crypto.UnmarshalPrivateKey(id.PrivKey)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, err
	}
	pid, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	privBytes, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	if err := SaveIdentity(path, &PersistentIdentity{PrivKey: privBytes, PeerID: pid.String()}); err != nil {
		return nil, fmt.Errorf("save identity: %w", err)
	}
	return priv, nil
}

// EndpointMultiaddr converts an endpoint to a TCP multiaddr.
func EndpointMultiaddr(ep core.Endpoint) (ma.Multiaddr, error) {
	proto := "dns"
	if ip := net.ParseIP(ep.Address); ip != nil {
		proto = "ip4"
		if ip.To4() == nil {
			proto = "ip6"
		}
	}
	return ma.NewMultiaddr(fmt.Sprintf("/%s/%s/tcp/%d", proto, ep.Address, ep.Port))
}

// Directory maps endpoints to libp2p peers.
type Directory struct {
	routes map[core.Endpoint]peer.AddrInfo
	mu     sync.RWMutex
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{routes: make(map[core.Endpoint]peer.AddrInfo)}
}

// Register sets the route for ep.
func (d *Directory) Register(ep core.Endpoint, info peer.AddrInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes[ep] = info
}

// RegisterRemote adds a route to a node in another process, dialled at
// the endpoint's own address.
func (d *Directory) RegisterRemote(ep core.Endpoint, peerID string) error {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return fmt.Errorf("decode peer id for %s: %w", ep, err)
	}
	addr, err := EndpointMultiaddr(ep)
	if err != nil {
		return err
	}
	d.Register(ep, peer.AddrInfo{ID: pid, Addrs: []ma.Multiaddr{addr}})
	return nil
}

// Lookup returns the route for ep.
func (d *Directory) Lookup(ep core.Endpoint) (peer.AddrInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	info, ok := d.routes[ep]
	return info, ok
}

// HostFactory creates the libp2p host serving a local endpoint.
type HostFactory func(ep core.Endpoint) (libp2p_host.Host, error)

// DefaultHostFactory listens on the endpoint's own address. When
// identityDir is set, each endpoint keeps its key across restarts.
func DefaultHostFactory(identityDir string) HostFactory {
	return func(ep core.Endpoint) (libp2p_host.Host, error) {
		listen, err := EndpointMultiaddr(ep)
		if err != nil {
			return nil, err
		}
		opts := []libp2p.Option{libp2p.ListenAddrs(listen)}
		if identityDir != "" {
			name := strings.NewReplacer(":", "_", ".", "_").Replace(ep.String()) + ".json"
			priv, err := LoadOrCreateKey(filepath.Join(identityDir, name))
			if err != nil {
				return nil, fmt.Errorf("identity for %s: %w", ep, err)
			}
			opts = append(opts, libp2p.Identity(priv))
		}
		return libp2p.New(opts...)
	}
}

// Libp2pTransport carries messages over libp2p streams, one message per
// stream, acknowledged by the receiver once decoded.
type Libp2pTransport struct {
	newHost   HostFactory
	dialer    libp2p_host.Host
	hosts     map[core.Endpoint]libp2p_host.Host
	directory *Directory
	closed    bool
	mu        sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// Libp2pOption configures a Libp2pTransport.
type Libp2pOption func(*Libp2pTransport)

// WithHostFactory replaces DefaultHostFactory.
func WithHostFactory(f HostFactory) Libp2pOption {
	return func(t *Libp2pTransport) { t.newHost = f }
}

// WithDialer sets the host used for outbound streams.
func WithDialer(h libp2p_host.Host) Libp2pOption {
	return func(t *Libp2pTransport) { t.dialer = h }
}

// WithDirectory shares an existing directory.
func WithDirectory(d *Directory) Libp2pOption {
	return func(t *Libp2pTransport) { t.directory = d }
}

// WithTransportLogger sets the transport logger.
func WithTransportLogger(logger *slog.Logger) Libp2pOption {
	return func(t *Libp2pTransport) { t.logger = logger }
}

// NewLibp2pTransport creates a transport. Without WithDialer, a
// non-listening host is started for outbound streams.
func NewLibp2pTransport(opts ...Libp2pOption) (*Libp2pTransport, error) {
	t := &Libp2pTransport{
		hosts: make(map[core.Endpoint]libp2p_host.Host),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.newHost == nil {
		t.newHost = DefaultHostFactory("")
	}
	if t.directory == nil {
		t.directory = NewDirectory()
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.logger = t.logger.With("component", "libp2p_transport")
	if t.dialer == nil {
		h, err := libp2p.New(libp2p.NoListenAddrs)
		if err != nil {
			return nil, fmt.Errorf("start dialer host: %w", err)
		}
		t.dialer = h
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	return t, nil
}

// Directory returns the endpoint directory.
func (t *Libp2pTransport) Directory() *Directory { return t.directory }

// Host returns the host serving a local endpoint.
func (t *Libp2pTransport) Host(ep core.Endpoint) (libp2p_host.Host, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.hosts[ep]
	return h, ok
}

// Handle starts a host for ep and routes its inbound messages to h.
func (t *Libp2pTransport) Handle(ep core.Endpoint, h Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if _, ok := t.hosts[ep]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, ep)
	}

	host, err := t.newHost(ep)
	if err != nil {
		return fmt.Errorf("start host for %s: %w", ep, err)
	}
	logger := t.logger.With("endpoint", ep.String(), "peer_id", host.ID().String())

	host.SetStreamHandler(ProtocolID, func(s network.Stream) {
		defer s.Close()
		data, err := io.ReadAll(io.LimitReader(s, maxMessageSize))
		if err != nil {
			logger.Warn("Error reading message", "error", err)
			_ = s.Reset()
			return
		}
		msg, err := core.Unmarshal(data)
		if err != nil {
			logger.Warn("Rejected malformed message",
				"remote", s.Conn().RemotePeer().String(),
				"bytes", len(data),
				"error", err,
			)
			_, _ = s.Write([]byte(ackRejected))
			return
		}
		if _, err := s.Write([]byte(ackOK)); err != nil {
			logger.Warn("Error writing ack", "error", err)
			return
		}
		_ = s.Close()

		if err := h(t.ctx, msg); err != nil {
			logger.Warn("Handler failed",
				"kind", msg.Kind.String(),
				"task_id", msg.Task.ID,
				"error", err,
			)
		}
	})

	t.hosts[ep] = host
	t.directory.Register(ep, peer.AddrInfo{ID: host.ID(), Addrs: host.Addrs()})
	logger.Info("Libp2p host started", "addrs", fmt.Sprint(host.Addrs()))
	return nil
}

// Send opens a stream to the peer serving to and writes msg.
func (t *Libp2pTransport) Send(ctx context.Context, to core.Endpoint, msg core.Message) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}

	info, ok := t.directory.Lookup(to)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, to)
	}
	t.dialer.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.TempAddrTTL)

	stream, err := t.dialer.NewStream(ctx, info.ID, ProtocolID)
	if err != nil {
		return fmt.Errorf("open stream to %s: %w", to, err)
	}
	defer stream.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	}

	if _, err := stream.Write(core.Marshal(msg)); err != nil {
		_ = stream.Reset()
		return fmt.Errorf("write to %s: %w", to, err)
	}
	if err := stream.CloseWrite(); err != nil {
		_ = stream.Reset()
		return fmt.Errorf("close write to %s: %w", to, err)
	}
	ack, err := io.ReadAll(io.LimitReader(stream, 64))
	if err != nil {
		return fmt.Errorf("read ack from %s: %w", to, err)
	}
	if string(ack) != ackOK {
		return fmt.Errorf("%s did not accept message: %q", to, ack)
	}
	return nil
}

// Close stops every host.
func (t *Libp2pTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	t.cancel()

	var errs []error
	for ep, h := range t.hosts {
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close host %s: %w", ep, err))
		}
	}
	if err := t.dialer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close dialer: %w", err))
	}
	return errors.Join(errs...)
}
