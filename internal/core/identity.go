package core

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint is the address/port pair that identifies a station, device or
// cloud server on the transport. It is stable for the lifetime of the node.
type Endpoint struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
}

// String renders the endpoint as "address:port". Stations use it as their
// identifier in the dispatch ledger.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(int(e.Port)))
}

// IsZero reports whether the endpoint was never initialized.
func (e Endpoint) IsZero() bool {
	return e.Address == "" && e.Port == 0
}

// ParseEndpoint parses "address:port".
func ParseEndpoint(s string) (Endpoint, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", s, err)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint port %q: %w", port, err)
	}
	return Endpoint{Address: host, Port: uint16(p)}, nil
}
