// Package store holds the record candidate sets the resolution engine
// answers from. Backends are pluggable behind the Store interface, the
// engine never mutates records through it.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/miekg/dns"

	"github.com/drahnr/constellation/config"
)

// ErrUnavailable marks backend failures (down, timeout, pool
// exhaustion). It is a distinct outcome from a name that has no
// records; callers map it to SERVFAIL.
var ErrUnavailable = errors.New("record store unavailable")

// Event signals a mutation of every candidate set under Name.
type Event struct {
	Name string
}

// Store is the record backend capability surface. Lookup and Types are
// the engine's read path; Set and Delete exist for the administrative
// layer and tests and publish an Event for each touched name.
type Store interface {
	// Lookup returns the candidate set for a name and record type, in
	// stable insertion order. A missing set is (nil, nil).
	Lookup(ctx context.Context, name, rtype string) ([]Record, error)

	// Types returns the record types present at a name. An empty result
	// means the name does not exist at all, which is the NXDOMAIN /
	// NODATA distinction.
	Types(ctx context.Context, name string) ([]string, error)

	// Set replaces the candidate set for (name, rtype).
	Set(ctx context.Context, name, rtype string, records []Record) error

	// Delete removes the candidate set for (name, rtype), or every set
	// under name when rtype is empty.
	Delete(ctx context.Context, name, rtype string) error

	// Watch delivers mutation events until ctx is done.
	Watch(ctx context.Context) (<-chan Event, error)

	Close() error
}

// CanonicalName returns the lowercase wire-form FQDN used as the store
// key.
func CanonicalName(name string) string {
	return strings.ToLower(dns.Fqdn(name))
}

var (
	sharedMemOnce sync.Once
	sharedMem     *Memory
)

// Open returns the configured backend. The memory backend is a single
// process-wide instance so that every component observes the same
// records.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Backend {
	case "memory":
		sharedMemOnce.Do(func() {
			sharedMem = NewMemory()
		})
		return sharedMem, nil

	case "redis", "":
		return NewRedis(cfg), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
