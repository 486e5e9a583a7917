package network

import (
	"context"
	"errors"

	"github.com/edgeoffload/dispatch/internal/core"
)

// Handler processes one inbound message addressed to a local endpoint.
type Handler func(ctx context.Context, msg core.Message) error

// Transport delivers messages point to point between endpoints.
type Transport interface {
	// Send delivers msg to the handler registered for to. It returns once
	// the remote side has taken the message, not once it has been handled.
	Send(ctx context.Context, to core.Endpoint, msg core.Message) error
	// Handle installs the handler for a local endpoint.
	Handle(ep core.Endpoint, h Handler) error
	Close() error
}

var (
	// ErrUnknownEndpoint is returned when no route to an endpoint exists.
	ErrUnknownEndpoint = errors.New("unknown endpoint")
	// ErrClosed is returned by a transport after Close.
	ErrClosed = errors.New("transport closed")
	// ErrDuplicateHandler is returned when an endpoint already has a handler.
	ErrDuplicateHandler = errors.New("handler already registered")
)
