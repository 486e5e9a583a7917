package dispatch

import "github.com/edgeoffload/dispatch/internal/core"

// Match returns the first offer, in the given order, that can host the
// task. It has no side effects; a false result is the normal no-match
// branch.
func Match(t core.Task, offers []core.ComputeOffer) (core.ComputeOffer, bool) {
	for _, o := range offers {
		if o.Satisfies(t) {
			return o, true
		}
	}
	return core.ComputeOffer{}, false
}

// without returns offers minus every entry hosted at ep. The input is not
// modified.
func without(offers []core.ComputeOffer, ep core.Endpoint) []core.ComputeOffer {
	out := make([]core.ComputeOffer, 0, len(offers))
	for _, o := range offers {
		if o.Endpoint != ep {
			out = append(out, o)
		}
	}
	return out
}
