package dispatch

import (
	"context"
	"log/slog"

	"github.com/edgeoffload/dispatch/internal/core"
	"github.com/edgeoffload/dispatch/internal/network"
)

// StationSpec describes one station to build. Remote stations run in
// another process: they take part in peer selection but are not served
// here.
type StationSpec struct {
	Endpoint core.Endpoint
	Offers   core.OfferSource
	Remote   bool
}

type containerOptions struct {
	config  StationConfig
	metrics *Metrics
	logger  *slog.Logger
}

// ContainerOption configures a Container.
type ContainerOption func(*containerOptions)

// WithContainerConfig applies cfg to every station.
func WithContainerConfig(cfg StationConfig) ContainerOption {
	return func(o *containerOptions) { o.config = cfg }
}

// WithContainerMetrics shares m across every station.
func WithContainerMetrics(m *Metrics) ContainerOption {
	return func(o *containerOptions) { o.metrics = m }
}

// WithContainerLogger sets the parent logger of every station.
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(o *containerOptions) { o.logger = logger }
}

// Container owns the ordered stations of a deployment and the ledger they
// share.
type Container struct {
	stations  []*Station
	remote    map[int]bool
	ledger    Ledger
	transport network.Transport
	logger    *slog.Logger
}

// NewContainer builds one station per spec. Each station's peers are all
// the other stations, in the order given.
func NewContainer(specs []StationSpec, ledger Ledger, transport network.Transport, opts ...ContainerOption) (*Container, error) {
	o := containerOptions{config: DefaultStationConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	if ledger == nil || transport == nil {
		return nil, NewDispatchError(ErrCodeInvalidTopology, "container needs a ledger and a transport")
	}

	seen := make(map[core.Endpoint]struct{}, len(specs))
	for i, spec := range specs {
		if spec.Endpoint.IsZero() {
			return nil, NewDispatchError(ErrCodeInvalidTopology, "station endpoint not set").
				WithContext("index", i)
		}
		if _, dup := seen[spec.Endpoint]; dup {
			return nil, NewDispatchError(ErrCodeInvalidTopology, "duplicate station endpoint").
				WithContext("endpoint", spec.Endpoint.String())
		}
		seen[spec.Endpoint] = struct{}{}
	}

	c := &Container{
		stations:  make([]*Station, 0, len(specs)),
		remote:    make(map[int]bool),
		ledger:    ledger,
		transport: transport,
		logger:    o.logger.With("component", "container"),
	}
	for i, spec := range specs {
		if spec.Remote {
			c.remote[i] = true
		}
		c.stations = append(c.stations, NewStation(spec.Endpoint, spec.Offers, ledger, transport,
			WithStationConfig(o.config),
			WithMetrics(o.metrics),
			WithLogger(o.logger),
		))
	}
	var remote []core.Endpoint
	for _, spec := range specs {
		if spec.Remote {
			remote = append(remote, spec.Endpoint)
		}
	}
	for i, s := range c.stations {
		peers := make([]core.Endpoint, 0, len(specs)-1)
		for j, spec := range specs {
			if j != i {
				peers = append(peers, spec.Endpoint)
			}
		}
		s.SetPeers(peers)
		s.SetRemotePeers(remote)
	}
	return c, nil
}

// Size returns the number of stations.
func (c *Container) Size() int { return len(c.stations) }

// Get returns the station at index i.
func (c *Container) Get(i int) (*Station, error) {
	if i < 0 || i >= len(c.stations) {
		return nil, errIndexOutOfRange(i, len(c.stations))
	}
	return c.stations[i], nil
}

// Stations returns the stations in order.
func (c *Container) Stations() []*Station {
	out := make([]*Station, len(c.stations))
	copy(out, c.stations)
	return out
}

// Ledger returns the shared dispatch ledger.
func (c *Container) Ledger() Ledger { return c.ledger }

// LinkCloud links every station to the cloud. An uninitialized cloud
// endpoint is a configuration error.
func (c *Container) LinkCloud(cloud core.Endpoint) error {
	if cloud.IsZero() {
		c.logger.Error("Cloud address not initialized")
		return ErrCloudNotInitialized
	}
	for _, s := range c.stations {
		if err := s.LinkCloud(cloud); err != nil {
			return err
		}
	}
	c.logger.Info("Linked cloud", "cloud", cloud.String(), "stations", len(c.stations))
	return nil
}

// IsRemote reports whether the station at index i runs elsewhere.
func (c *Container) IsRemote(i int) bool { return c.remote[i] }

// Submit hands a fresh task to the station at index i. Tasks for a remote
// station are sent to it as a request and reported as OutcomeRemote.
func (c *Container) Submit(ctx context.Context, i int, t core.Task) (Decision, error) {
	s, err := c.Get(i)
	if err != nil {
		return Decision{}, err
	}
	if !c.remote[i] {
		return s.Submit(ctx, t)
	}
	if err := c.transport.Send(ctx, s.Endpoint(), core.NewMessage(core.KindRequest, t)); err != nil {
		return Decision{}, errPeerUnreachable(s.ID(), err)
	}
	return s.decide(Decision{TaskID: t.ID, Outcome: OutcomeRemote, Target: s.Endpoint()}), nil
}

// Attach installs every local station's message handler on the transport.
func (c *Container) Attach() error {
	for i, s := range c.stations {
		if c.remote[i] {
			continue
		}
		if err := c.transport.Handle(s.Endpoint(), s.Receive); err != nil {
			return WrapError(ErrCodeInvalidTopology, "attach station", err).
				WithContext("station", s.ID())
		}
	}
	return nil
}

// SetObserver installs fn on every station.
func (c *Container) SetObserver(fn func(Decision)) {
	for _, s := range c.stations {
		s.SetObserver(fn)
	}
}
