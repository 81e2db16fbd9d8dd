// Package listener implements the Listener component: a unix domain
// socket server speaking the 4-byte length-prefixed JSON protocol
// defined in internal/ipc, dispatching queries against materialized
// state and mutations through a single event submitter so every
// response reflects a read-after-write-consistent view.
package listener

import (
	"strings"

	"github.com/ojdaemon/ojd/internal/ojerr"
)

// resolvePrefix implements the shared prefix-resolution rule used by
// every by-ID lookup: an exact match always wins even if it is also a
// prefix of something else; otherwise exactly one prefix match
// succeeds, zero is not-found, and more than one is ambiguous.
func resolvePrefix(kind string, ids []string, prefix string) (string, error) {
	for _, id := range ids {
		if id == prefix {
			return id, nil
		}
	}

	var matches []string
	for _, id := range ids {
		if strings.HasPrefix(id, prefix) {
			matches = append(matches, id)
		}
	}

	switch len(matches) {
	case 0:
		return "", ojerr.ResolutionNotFound(kind, prefix)
	case 1:
		return matches[0], nil
	default:
		return "", ojerr.ResolutionAmbiguous(kind, prefix, matches)
	}
}
