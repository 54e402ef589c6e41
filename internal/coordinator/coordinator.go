// Package coordinator deduplicates helper preparation inside one render.
//
// Every render opens a Scope. Within a scope the first caller for a key runs
// the producer and every other caller, concurrent or later, receives the same
// *core.Prepared. Closing the scope releases everything it produced.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/cryguy/render/internal/core"
)

// ErrScopeClosed is returned by Obtain after the owning render finished.
var ErrScopeClosed = errors.New("coordinator: request scope closed")

// Producer builds the prepared bindings for a key.
type Producer func(ctx context.Context) (*core.Prepared, error)

// Key derives the coordination key for an entity evaluated by engine with
// its joined helper source. Bindings carry engine-specific globals, so the
// engine is part of the key.
func Key(engine, entityKey, joinedHelpers string) string {
	h := xxhash.New()
	_, _ = h.WriteString(engine)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(entityKey)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(joinedHelpers)
	return strconv.FormatUint(h.Sum64(), 16)
}

// Coordinator tracks the scopes of in-flight renders.
type Coordinator struct {
	mu     sync.Mutex
	scopes map[string]*Scope
}

// New creates an empty Coordinator.
func New() *Coordinator {
	return &Coordinator{scopes: make(map[string]*Scope)}
}

// Open starts the scope for requestID. A request id can only have one open
// scope at a time.
func (c *Coordinator) Open(requestID string) (*Scope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.scopes[requestID]; ok {
		return nil, fmt.Errorf("coordinator: request %q already has an open scope", requestID)
	}
	s := &Scope{
		id:      requestID,
		owner:   c,
		entries: make(map[string]*entry),
	}
	c.scopes[requestID] = s
	return s, nil
}

// Active reports how many scopes are open.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.scopes)
}

func (c *Coordinator) forget(s *Scope) {
	c.mu.Lock()
	if c.scopes[s.id] == s {
		delete(c.scopes, s.id)
	}
	c.mu.Unlock()
}

type entry struct {
	key      string // unhashed identity, guards against hash collisions
	prepared *core.Prepared
}

// Scope is the per-request arena of prepared bindings.
type Scope struct {
	id    string
	owner *Coordinator
	group singleflight.Group

	mu       sync.Mutex
	entries  map[string]*entry
	orphans  []*core.Prepared
	closed   bool
	produced int
}

// ID returns the request id the scope belongs to.
func (s *Scope) ID() string { return s.id }

// Obtain returns the prepared bindings for key, running produce when no
// caller in this scope has produced them yet. first is true for the caller
// whose producer ran. identity is compared on hash hits so two different
// helper programs never share bindings.
func (s *Scope) Obtain(ctx context.Context, key, identity string, produce Producer) (p *core.Prepared, first bool, err error) {
	if p, ok, err := s.lookup(key, identity); err != nil || ok {
		return p, false, err
	}
	if s.collides(key, identity) {
		return s.produceOrphan(ctx, produce)
	}

	var ran bool
	ch := s.group.DoChan(key, func() (any, error) {
		if p, ok, err := s.lookup(key, identity); err != nil || ok {
			return p, err
		}
		ran = true
		p, err := produce(ctx)
		if err != nil {
			// Nothing is stored, so a later Obtain runs the producer again.
			return nil, err
		}
		if !s.store(key, identity, p) {
			p.Release()
			return nil, ErrScopeClosed
		}
		return p, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		if ran {
			return res.Val.(*core.Prepared), true, nil
		}
		// A shared flight may have been started for a colliding identity.
		p, ok, err := s.lookup(key, identity)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return s.produceOrphan(ctx, produce)
		}
		return p, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (s *Scope) lookup(key, identity string) (*core.Prepared, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrScopeClosed
	}
	e, ok := s.entries[key]
	if !ok || e.key != identity {
		return nil, false, nil
	}
	return e.prepared, true, nil
}

func (s *Scope) collides(key, identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return ok && e.key != identity
}

func (s *Scope) store(key, identity string, p *core.Prepared) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	// Never replace another identity's bindings; they would not be released.
	if e, ok := s.entries[key]; ok && e.key != identity {
		s.orphans = append(s.orphans, p)
	} else {
		s.entries[key] = &entry{key: identity, prepared: p}
	}
	s.produced++
	return true
}

// produceOrphan serves the rare hash collision without deduplication. The
// result is still released with the scope.
func (s *Scope) produceOrphan(ctx context.Context, produce Producer) (*core.Prepared, bool, error) {
	p, err := produce(ctx)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		p.Release()
		return nil, false, ErrScopeClosed
	}
	s.orphans = append(s.orphans, p)
	s.produced++
	return p, true, nil
}

// Produced reports how many times a producer succeeded in this scope.
func (s *Scope) Produced() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.produced
}

// Close releases every prepared binding and unregisters the scope. Further
// Obtain calls fail with ErrScopeClosed.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	entries := s.entries
	orphans := s.orphans
	s.entries = nil
	s.orphans = nil
	s.mu.Unlock()

	for _, e := range entries {
		e.prepared.Release()
	}
	for _, p := range orphans {
		p.Release()
	}
	s.owner.forget(s)
}
