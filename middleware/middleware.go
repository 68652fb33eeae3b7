// Package middleware wires the query pipeline. Handlers register at
// package init, registration order is chain order.
package middleware

import (
	"context"
	"errors"
	"sync"

	"github.com/semihalev/zlog/v2"

	"github.com/drahnr/constellation/config"
)

// Handler is one stage of the query pipeline.
type Handler interface {
	Name() string
	ServeDNS(ctx context.Context, ch *Chain)
}

type middleware struct {
	mu sync.RWMutex

	cfg      *config.Config
	handlers []entry
}

type entry struct {
	name string
	new  func(*config.Config) Handler
}

var m middleware
var setupHandlers []Handler
var alreadySetup bool

// Register a middleware
func Register(name string, new func(*config.Config) Handler) {
	zlog.Debug("Register middleware", "name", name)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, entry{name: name, new: new})
}

// SetConfig set config for handlers
func SetConfig(cfg *config.Config) {
	m.cfg = cfg
}

// Setup handlers
func Setup() error {
	if m.cfg == nil {
		return errors.New("set config first")
	}

	if alreadySetup {
		return errors.New("setup already done")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.handlers {
		setupHandlers = append(setupHandlers, e.new(m.cfg))
	}

	alreadySetup = true

	return nil
}

// Handlers return registered handlers
func Handlers() []Handler {
	return setupHandlers
}

// List return names of handlers
func List() (list []string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.handlers {
		list = append(list, e.name)
	}

	return list
}

// Get return a handler by name
func Get(name string) Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, e := range m.handlers {
		if e.name == name {
			if len(setupHandlers) <= i {
				return nil
			}
			return setupHandlers[i]
		}
	}

	return nil
}
