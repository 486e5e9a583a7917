package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/edgeoffload/dispatch/internal/core"
)

// Outcome is the terminal or forwarding branch a station took for a task.
type Outcome int

const (
	// OutcomeLocal placed the task on one of the station's devices.
	OutcomeLocal Outcome = iota
	// OutcomePeer forwarded the task to an untried peer station.
	OutcomePeer
	// OutcomeCloud sent the task to the cloud for handling.
	OutcomeCloud
	// OutcomeFailureNotice reported a placement failure to the cloud.
	OutcomeFailureNotice
	// OutcomeRemote handed a fresh task to a station served by another
	// process.
	OutcomeRemote
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLocal:
		return "local"
	case OutcomePeer:
		return "peer"
	case OutcomeCloud:
		return "cloud"
	case OutcomeFailureNotice:
		return "failure_notice"
	case OutcomeRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Decision describes what a station did with one message.
type Decision struct {
	TaskID      string
	Station     string
	Outcome     Outcome
	Target      core.Endpoint
	Offer       core.ComputeOffer
	Unreachable []core.Endpoint
}

// Sender is the outbound half of a transport.
type Sender interface {
	Send(ctx context.Context, to core.Endpoint, msg core.Message) error
}

// Station is a base station: it places tasks on its attached devices or
// escalates them to peers and finally to the cloud.
type Station struct {
	endpoint core.Endpoint
	id       string
	offers   core.OfferSource
	ledger   Ledger
	sender   Sender
	config   StationConfig
	metrics  *Metrics

	peers    []core.Endpoint
	remote   map[core.Endpoint]bool
	cloud    core.Endpoint
	observer func(Decision)
	mu       sync.RWMutex

	received uint64
	history  []core.Task
	histMu   sync.Mutex

	logger *slog.Logger
}

// StationOption configures a Station.
type StationOption func(*Station)

// WithStationConfig overrides DefaultStationConfig.
func WithStationConfig(cfg StationConfig) StationOption {
	return func(s *Station) { s.config = cfg }
}

// WithLogger sets the station logger.
func WithLogger(logger *slog.Logger) StationOption {
	return func(s *Station) { s.logger = logger }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) StationOption {
	return func(s *Station) { s.metrics = m }
}

// NewStation creates a station at ep. The ledger must be the one shared by
// every station of the deployment.
func NewStation(ep core.Endpoint, offers core.OfferSource, ledger Ledger, sender Sender, opts ...StationOption) *Station {
	s := &Station{
		endpoint: ep,
		id:       ep.String(),
		offers:   offers,
		ledger:   ledger,
		sender:   sender,
		config:   DefaultStationConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.offers == nil {
		s.offers = core.StaticOffers(nil)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "station", "station", s.id)
	return s
}

// Endpoint returns the station's address.
func (s *Station) Endpoint() core.Endpoint { return s.endpoint }

// ID returns the identifier the station uses in the ledger.
func (s *Station) ID() string { return s.id }

// SetPeers replaces the ordered peer list. Order is the tie-break when
// several peers are untried.
func (s *Station) SetPeers(peers []core.Endpoint) {
	cp := make([]core.Endpoint, len(peers))
	copy(cp, peers)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = cp
}

// Peers returns a copy of the peer list.
func (s *Station) Peers() []core.Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]core.Endpoint, len(s.peers))
	copy(cp, s.peers)
	return cp
}

// SetRemotePeers marks the peers served by another process. Their ledger
// is not shared, so a task forwarded to one of them leaves this ledger and
// travels with its tried set only.
func (s *Station) SetRemotePeers(peers []core.Endpoint) {
	remote := make(map[core.Endpoint]bool, len(peers))
	for _, p := range peers {
		remote[p] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = remote
}

func (s *Station) isRemote(ep core.Endpoint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remote[ep]
}

// Received returns how many tasks the station has been asked to place.
func (s *Station) Received() uint64 {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	return s.received
}

// Tasks returns the most recent tasks the station received, oldest first.
func (s *Station) Tasks() []core.Task {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	out := make([]core.Task, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Station) remember(t core.Task) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	s.received++
	if s.config.TaskHistory <= 0 {
		return
	}
	if len(s.history) >= s.config.TaskHistory {
		s.history = append(s.history[:0], s.history[len(s.history)-s.config.TaskHistory+1:]...)
	}
	s.history = append(s.history, t)
}

// LinkCloud sets the fallback cloud server.
func (s *Station) LinkCloud(cloud core.Endpoint) error {
	if cloud.IsZero() {
		return ErrCloudNotInitialized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cloud = cloud
	return nil
}

// Cloud returns the linked cloud endpoint, zero if unlinked.
func (s *Station) Cloud() core.Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cloud
}

// SetObserver installs a hook called with every decision.
func (s *Station) SetObserver(fn func(Decision)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = fn
}

// Submit hands a fresh client task to the station.
func (s *Station) Submit(ctx context.Context, t core.Task) (Decision, error) {
	return s.Handle(ctx, core.NewMessage(core.KindRequest, t))
}

// Receive adapts Handle to the transport handler signature.
func (s *Station) Receive(ctx context.Context, msg core.Message) error {
	_, err := s.Handle(ctx, msg)
	return err
}

// Handle processes one inbound message.
func (s *Station) Handle(ctx context.Context, msg core.Message) (Decision, error) {
	if err := msg.Task.Validate(); err != nil {
		return Decision{}, errInvalidTask(err)
	}

	switch msg.Kind {
	case core.KindRequest:
		s.remember(msg.Task)
		if s.config.Policy == EscalateDirect {
			return s.handleDirect(ctx, msg.Task)
		}
		return s.handleOffload(ctx, msg.Task, msg.Tried, s.config.NotifySuccess)
	case core.KindOffload:
		s.remember(msg.Task)
		return s.handleOffload(ctx, msg.Task, msg.Tried, false)
	default:
		err := errUnsupportedMessage(msg.Kind.String(), s.id)
		s.logger.Warn("Dropping message a station cannot handle",
			"kind", msg.Kind.String(),
			"task_id", msg.Task.ID,
		)
		return Decision{}, err
	}
}

// handleDirect places the task locally or reports the failure to the
// cloud. It never consults the ledger.
func (s *Station) handleDirect(ctx context.Context, t core.Task) (Decision, error) {
	if offer, ok := s.placeLocally(ctx, t); ok {
		s.notifyCloud(ctx, core.KindDispatchSuccess, t)
		return s.decide(Decision{TaskID: t.ID, Outcome: OutcomeLocal, Target: offer.Endpoint, Offer: offer}), nil
	}

	cloud := s.Cloud()
	if cloud.IsZero() {
		return Decision{}, ErrCloudNotInitialized
	}
	if err := s.send(ctx, cloud, core.NewMessage(core.KindDispatchFailure, t)); err != nil {
		return Decision{}, errCloudUnreachable(cloud.String(), err)
	}
	return s.decide(Decision{TaskID: t.ID, Outcome: OutcomeFailureNotice, Target: cloud}), nil
}

// handleOffload places the task locally, else forwards it to the first
// untried peer, else hands it to the cloud. Every terminal branch clears
// the task's ledger entry. carried lists the stations the sender reported
// as tried; they are merged into the ledger first.
func (s *Station) handleOffload(ctx context.Context, t core.Task, carried []string, notify bool) (Decision, error) {
	carriedSet := make(map[string]bool, len(carried))
	for _, id := range carried {
		carriedSet[id] = true
		if !s.ledger.AlreadyTried(t.ID, id) {
			s.ledger.Record(t.ID, id)
		}
	}

	if offer, ok := s.placeLocally(ctx, t); ok {
		s.ledger.Clear(t.ID)
		if notify {
			s.notifyCloud(ctx, core.KindDispatchSuccess, t)
		}
		return s.decide(Decision{TaskID: t.ID, Outcome: OutcomeLocal, Target: offer.Endpoint, Offer: offer}), nil
	}

	s.ledger.Record(t.ID, s.id)

	var unreachable []core.Endpoint
	for _, peer := range s.Peers() {
		pid := peer.String()
		if carriedSet[pid] || s.ledger.AlreadyTried(t.ID, pid) {
			continue
		}
		msg := core.NewMessage(core.KindOffload, t).WithTried(s.triedSet(t.ID, carried))
		if err := s.send(ctx, peer, msg); err != nil {
			s.logger.Warn("Peer unreachable, trying next",
				"task_id", t.ID,
				"peer", pid,
				"error", errPeerUnreachable(pid, err),
			)
			s.ledger.Record(t.ID, pid)
			unreachable = append(unreachable, peer)
			continue
		}
		if s.isRemote(peer) {
			s.ledger.Clear(t.ID)
		}
		return s.decide(Decision{TaskID: t.ID, Outcome: OutcomePeer, Target: peer, Unreachable: unreachable}), nil
	}

	defer s.ledger.Clear(t.ID)

	cloud := s.Cloud()
	if cloud.IsZero() {
		return Decision{}, ErrCloudNotInitialized
	}
	if err := s.send(ctx, cloud, core.NewMessage(core.KindHandle, t)); err != nil {
		s.logger.Error("Cloud unreachable, task lost",
			"task_id", t.ID,
			"cloud", cloud.String(),
			"error", err,
		)
		return Decision{}, errCloudUnreachable(cloud.String(), err)
	}
	return s.decide(Decision{TaskID: t.ID, Outcome: OutcomeCloud, Target: cloud, Unreachable: unreachable}), nil
}

// triedSet lists the stations known to have tried t: the carried set, this
// station and every peer the ledger has recorded.
func (s *Station) triedSet(taskID string, carried []string) []string {
	seen := make(map[string]bool, len(carried)+1)
	out := make([]string, 0, len(carried)+1)
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range carried {
		add(id)
	}
	add(s.id)
	for _, p := range s.Peers() {
		if pid := p.String(); s.ledger.AlreadyTried(taskID, pid) {
			add(pid)
		}
	}
	return out
}

// placeLocally matches the task against a fresh read of the local offers
// and sends it to the chosen device. A device that cannot be reserved or
// reached is dropped from the candidate list and matching continues.
func (s *Station) placeLocally(ctx context.Context, t core.Task) (core.ComputeOffer, bool) {
	offers := s.offers.LocalOffers()
	for {
		offer, ok := Match(t, offers)
		if !ok {
			return core.ComputeOffer{}, false
		}
		offers = without(offers, offer.Endpoint)

		if !s.reserve(offer, t) {
			s.logger.Debug("Lost reservation race",
				"task_id", t.ID,
				"device", offer.Endpoint.String(),
			)
			continue
		}
		if err := s.send(ctx, offer.Endpoint, core.NewMessage(core.KindHandle, t)); err != nil {
			s.logger.Warn("Device unreachable",
				"task_id", t.ID,
				"error", errDeviceFailed(offer.Endpoint.String(), err),
			)
			s.release(offer, t)
			continue
		}
		return offer, true
	}
}

func (s *Station) reserve(offer core.ComputeOffer, t core.Task) bool {
	if !s.config.ReserveCapacity {
		return true
	}
	r, ok := s.offers.(core.Reserver)
	if !ok {
		return true
	}
	return r.TryReserve(offer, t)
}

func (s *Station) release(offer core.ComputeOffer, t core.Task) {
	if !s.config.ReserveCapacity {
		return
	}
	if r, ok := s.offers.(core.Reserver); ok {
		r.Release(offer, t)
	}
}

// notifyCloud sends a bookkeeping notice. Failures are logged only; the
// task itself is already placed.
func (s *Station) notifyCloud(ctx context.Context, kind core.MessageKind, t core.Task) {
	cloud := s.Cloud()
	if cloud.IsZero() {
		s.logger.Debug("No cloud linked, skipping notice", "kind", kind.String(), "task_id", t.ID)
		return
	}
	if err := s.send(ctx, cloud, core.NewMessage(kind, t)); err != nil {
		s.logger.Warn("Failed to notify cloud",
			"kind", kind.String(),
			"task_id", t.ID,
			"error", err,
		)
	}
}

func (s *Station) send(ctx context.Context, to core.Endpoint, msg core.Message) error {
	if s.config.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.SendTimeout)
		defer cancel()
	}
	if err := s.sender.Send(ctx, to, msg); err != nil {
		s.metrics.observeSendFailure(msg.Kind)
		return err
	}
	return nil
}

func (s *Station) decide(d Decision) Decision {
	d.Station = s.id
	s.metrics.observeDecision(d.Outcome)

	s.logger.Debug("Dispatch decision",
		"task_id", d.TaskID,
		"outcome", d.Outcome.String(),
		"target", d.Target.String(),
	)

	s.mu.RLock()
	obs := s.observer
	s.mu.RUnlock()
	if obs != nil {
		obs(d)
	}
	return d
}
