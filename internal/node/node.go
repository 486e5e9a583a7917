package node

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/edgeoffload/dispatch/internal/config"
	"github.com/edgeoffload/dispatch/internal/core"
	"github.com/edgeoffload/dispatch/internal/device"
	"github.com/edgeoffload/dispatch/internal/dispatch"
	"github.com/edgeoffload/dispatch/internal/monitor"
	"github.com/edgeoffload/dispatch/internal/network"
	"github.com/edgeoffload/dispatch/internal/server"
	"github.com/edgeoffload/dispatch/internal/utils"
)

// Transport kinds accepted by New.
const (
	TransportLibp2p = "libp2p"
	TransportMemory = "memory"
)

// Node is one running process of a deployment: the local stations, their
// devices, the cloud server when it is local, and the HTTP API.
type Node struct {
	Topology  *config.Topology
	Container *dispatch.Container
	Ledger    *dispatch.MemoryLedger
	Cloud     *dispatch.CloudServer
	Transport network.Transport
	Registry  *prometheus.Registry
	Metrics   *dispatch.Metrics
	Reporter  *monitor.LedgerReporter
	Handler   *server.Handler

	logger *slog.Logger
}

// New assembles a node from a validated topology.
func New(topo *config.Topology, transportKind string, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}

	n := &Node{
		Topology: topo,
		Ledger:   dispatch.NewMemoryLedger(),
		Registry: prometheus.NewRegistry(),
		logger:   logger.With("component", "node"),
	}
	n.Metrics = dispatch.NewMetrics(n.Registry)

	transport, err := n.newTransport(transportKind, logger)
	if err != nil {
		return nil, err
	}
	n.Transport = transport
	if topo.Breaker.Enabled {
		n.Transport = network.NewBreakerTransport(transport, topo.BreakerConfig(), logger)
	}

	specs := make([]dispatch.StationSpec, 0, len(topo.Stations))
	for _, st := range topo.Stations {
		spec := dispatch.StationSpec{Endpoint: st.Core(), Remote: !st.Local()}
		if st.Local() {
			source, err := n.attachDevices(st, logger)
			if err != nil {
				n.closeQuietly()
				return nil, err
			}
			spec.Offers = source
		}
		specs = append(specs, spec)
	}

	n.Container, err = dispatch.NewContainer(specs, n.Ledger, n.Transport,
		dispatch.WithContainerConfig(topo.StationConfig()),
		dispatch.WithContainerMetrics(n.Metrics),
		dispatch.WithContainerLogger(logger),
	)
	if err != nil {
		n.closeQuietly()
		return nil, err
	}

	cloud := topo.Cloud.Core()
	if topo.CloudPeerID == "" {
		n.Cloud = dispatch.NewCloudServer(cloud,
			dispatch.WithCloudLogger(logger),
			dispatch.WithCloudMetrics(n.Metrics),
		)
		if err := n.Transport.Handle(cloud, n.Cloud.Handle); err != nil {
			n.closeQuietly()
			return nil, fmt.Errorf("attach cloud: %w", err)
		}
	}
	if err := n.Container.LinkCloud(cloud); err != nil {
		n.closeQuietly()
		return nil, err
	}
	if err := n.Container.Attach(); err != nil {
		n.closeQuietly()
		return nil, err
	}

	staleAfter := time.Duration(topo.LedgerStaleAfter)
	n.Reporter = monitor.NewLedgerReporter(n.Ledger, n.Metrics, staleAfter, logger)
	n.Handler = server.NewHandler(n.Container, n.Ledger, staleAfter, logger)
	return n, nil
}

func (n *Node) newTransport(kind string, logger *slog.Logger) (network.Transport, error) {
	switch kind {
	case TransportMemory:
		return network.NewMemoryTransport(logger), nil
	case "", TransportLibp2p:
		t, err := network.NewLibp2pTransport(
			network.WithHostFactory(network.DefaultHostFactory(n.Topology.IdentityDir)),
			network.WithTransportLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		for _, st := range n.Topology.Stations {
			if st.Local() {
				continue
			}
			if err := t.Directory().RegisterRemote(st.Core(), st.PeerID); err != nil {
				_ = t.Close()
				return nil, err
			}
		}
		if n.Topology.CloudPeerID != "" {
			if err := t.Directory().RegisterRemote(n.Topology.Cloud.Core(), n.Topology.CloudPeerID); err != nil {
				_ = t.Close()
				return nil, err
			}
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}

// attachDevices builds a station's offer source and registers its
// devices on the transport.
func (n *Node) attachDevices(st config.Station, logger *slog.Logger) (core.OfferSource, error) {
	if h := st.HostOffer; h != nil {
		host := device.NewHostOffers(h.Core(), h.Price, h.CyclesPerCore, logger)
		if err := n.Transport.Handle(host.Endpoint, host.Handle); err != nil {
			return nil, fmt.Errorf("attach host offer %s: %w", host.Endpoint, err)
		}
		return host, nil
	}

	pool := device.NewPool()
	for _, dc := range st.Devices {
		d := device.New(dc.Core(), dc.CPU, dc.Memory, dc.Price, logger)
		if err := n.Transport.Handle(d.Endpoint(), d.Handle); err != nil {
			return nil, fmt.Errorf("attach device %s: %w", d.Endpoint(), err)
		}
		pool.Add(d)
	}
	return pool, nil
}

// Run serves the HTTP API and the ledger reporter until ctx is done, then
// shuts everything down.
func (n *Node) Run(ctx context.Context) error {
	if err := n.Reporter.Start(time.Duration(n.Topology.MonitorInterval)); err != nil {
		n.closeQuietly()
		return err
	}

	shutdown := utils.NewGracefulShutdown(10*time.Second, n.logger)
	shutdown.Register(n.Transport.Close)
	shutdown.Register(func() error {
		<-n.Reporter.Stop().Done()
		return nil
	})

	n.logger.Info("Node running",
		"stations", n.Container.Size(),
		"cloud", n.Topology.Cloud.Core().String(),
		"http_addr", n.Topology.HTTPAddr,
	)
	serveErr := server.StartHttpServer(ctx, n.Topology.HTTPAddr, n.Handler.Router(n.Registry), n.logger)

	if err := shutdown.Shutdown(context.Background()); err != nil {
		n.logger.Error("Shutdown incomplete", "error", err)
	}
	return serveErr
}

func (n *Node) closeQuietly() {
	if n.Transport != nil {
		_ = n.Transport.Close()
	}
}
