package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgeoffload/dispatch/internal/dispatch"
)

// Handler exposes task submission and dispatch diagnostics over HTTP.
type Handler struct {
	container  *dispatch.Container
	ledger     dispatch.LedgerInspector
	staleAfter time.Duration
	logger     *slog.Logger
}

// NewHandler creates a handler. ledger may be nil when the container's
// ledger offers no inspection.
func NewHandler(container *dispatch.Container, ledger dispatch.LedgerInspector, staleAfter time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		container:  container,
		ledger:     ledger,
		staleAfter: staleAfter,
		logger:     logger.With("component", "http"),
	}
}

// Router wires the handler's routes plus /metrics served from gatherer.
func (handler *Handler) Router(gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", handler.Health).Methods(http.MethodGet)
	r.HandleFunc("/v1/stations", handler.ListStations).Methods(http.MethodGet)
	r.HandleFunc("/v1/stations/{index:[0-9]+}/tasks", handler.SubmitTask).Methods(http.MethodPost)
	r.HandleFunc("/v1/ledger", handler.Ledger).Methods(http.MethodGet)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

func (handler *Handler) Health(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Add("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	toJSON(map[string]string{"status": "ok"}, rw)
}

func (handler *Handler) SubmitTask(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	index, err := strconv.Atoi(getURLParameter(r, "index"))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "invalid station index")
		return
	}

	request := &SubmitTaskRequest{}
	if err := fromJSON(request, r.Body); err != nil {
		handler.logger.Warn("Invalid task submission", "error", err)
		writeError(rw, http.StatusBadRequest, "invalid task body")
		return
	}
	task := request.task()
	if err := task.Validate(); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	decision, err := handler.container.Submit(r.Context(), index, task)
	switch {
	case errors.Is(err, dispatch.ErrIndexOutOfRange):
		writeError(rw, http.StatusNotFound, "no station at index "+strconv.Itoa(index))
		return
	case err != nil:
		handler.logger.Error("Task submission failed", "task_id", task.ID, "station_index", index, "error", err)
		writeError(rw, http.StatusBadGateway, err.Error())
		return
	}

	handler.logger.Info("Task submitted",
		"task_id", task.ID,
		"station_index", index,
		"outcome", decision.Outcome.String(),
	)
	rw.WriteHeader(http.StatusAccepted)
	toJSON(newSubmitTaskResponse(decision), rw)
}

func (handler *Handler) ListStations(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	stations := handler.container.Stations()
	infos := make([]StationInfo, 0, len(stations))
	for i, s := range stations {
		info := StationInfo{
			Index:    i,
			Endpoint: s.ID(),
			Remote:   handler.container.IsRemote(i),
			Peers:    []string{},
			Received: s.Received(),
		}
		for _, p := range s.Peers() {
			info.Peers = append(info.Peers, p.String())
		}
		if cloud := s.Cloud(); !cloud.IsZero() {
			info.Cloud = cloud.String()
		}
		infos = append(infos, info)
	}
	rw.WriteHeader(http.StatusOK)
	toJSON(infos, rw)
}

func (handler *Handler) Ledger(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	if handler.ledger == nil {
		writeError(rw, http.StatusNotImplemented, "ledger inspection unavailable")
		return
	}
	info := LedgerInfo{
		Entries: handler.ledger.Len(),
		Stale:   handler.ledger.Stale(handler.staleAfter),
	}
	if info.Stale == nil {
		info.Stale = []string{}
	}
	rw.WriteHeader(http.StatusOK)
	toJSON(info, rw)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	rw.WriteHeader(status)
	toJSON(errorResponse{Error: msg}, rw)
}

func getURLParameter(r *http.Request, parameter string) string {
	vars := mux.Vars(r)
	id := vars[parameter]
	return id
}
