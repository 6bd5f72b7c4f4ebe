package store

import (
	"context"
	"errors"
	"strings"

	"github.com/newthinker/stratsync/internal/core"
)

// Kind classifies a store failure for retry decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindRateLimited
	KindNetwork
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindNetwork:
		return "network"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Transient reports whether a failure of this kind should be retried later.
func (k Kind) Transient() bool {
	return k == KindRateLimited || k == KindNetwork
}

// transientMarkers identify transient failures from clients that do not
// return structured errors.
var transientMarkers = []struct {
	text string
	kind Kind
}{
	{"429", KindRateLimited},
	{"rate limit", KindRateLimited},
	{"network error", KindNetwork},
	{"failed to fetch", KindNetwork},
}

// Classify maps an error returned by a Store to a Kind. Structured errors
// are matched by code. A rejected or unknown error whose message carries a
// transient marker is reclassified, so a "rate limit" body behind an odd
// status still gets retried.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	kind := KindUnknown
	switch {
	case errors.Is(err, core.ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, core.ErrNetwork), errors.Is(err, context.DeadlineExceeded):
		return KindNetwork
	case errors.Is(err, core.ErrRejected), errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrMalformedRecord):
		kind = KindRejected
	}

	if m, ok := markerKind(err.Error()); ok {
		return m
	}
	return kind
}

func markerKind(msg string) (Kind, bool) {
	msg = strings.ToLower(msg)
	for _, m := range transientMarkers {
		if strings.Contains(msg, m.text) {
			return m.kind, true
		}
	}
	return KindUnknown, false
}

// IsTransient is shorthand for Classify(err).Transient().
func IsTransient(err error) bool {
	return Classify(err).Transient()
}
