package store

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/dantte-lp/gotopo/internal/model"
)

type islKey struct {
	source model.Endpoint
	dest   model.Endpoint
}

// Memory is a Repository held in process memory. State is lost on restart.
type Memory struct {
	mu       sync.RWMutex
	closed   bool
	switches map[model.SwitchID]struct{}
	isls     map[islKey]model.IslStatus
	sessions map[model.Endpoint]uint32
}

var _ Repository = (*Memory)(nil)

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		switches: make(map[model.SwitchID]struct{}),
		isls:     make(map[islKey]model.IslStatus),
		sessions: make(map[model.Endpoint]uint32),
	}
}

// LoadAllSwitches returns the saved switches in ascending order.
func (m *Memory) LoadAllSwitches(_ context.Context) ([]model.SwitchID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	out := slices.Collect(maps.Keys(m.switches))
	sortSwitches(out)
	return out, nil
}

// SaveSwitch records a switch.
func (m *Memory) SaveSwitch(_ context.Context, id model.SwitchID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.switches[id] = struct{}{}
	return nil
}

// LoadAllIsls returns every link record ordered by source then destination.
func (m *Memory) LoadAllIsls(_ context.Context) ([]model.Isl, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	out := make([]model.Isl, 0, len(m.isls))
	for k, status := range m.isls {
		out = append(out, model.Isl{Source: k.source, Dest: k.dest, Status: status})
	}
	sortIsls(out)
	return out, nil
}

// PersistIslStatus writes status for both directions of ref.
func (m *Memory) PersistIslStatus(_ context.Context, ref model.IslReference, status model.IslStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.isls[islKey{source: ref.Source, dest: ref.Dest}] = status
	m.isls[islKey{source: ref.Dest, dest: ref.Source}] = status
	return nil
}

// LoadBfdSessions returns every discriminator binding ordered by endpoint.
func (m *Memory) LoadBfdSessions(_ context.Context) ([]model.BfdSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	out := make([]model.BfdSession, 0, len(m.sessions))
	for ep, d := range m.sessions {
		out = append(out, model.BfdSession{Endpoint: ep, Discriminator: d})
	}
	sortSessions(out)
	return out, nil
}

// SaveBfdSession records the discriminator bound to an endpoint.
func (m *Memory) SaveBfdSession(_ context.Context, s model.BfdSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.sessions[s.Endpoint] = s.Discriminator
	return nil
}

// DeleteBfdSession removes the binding of ep, if any.
func (m *Memory) DeleteBfdSession(_ context.Context, ep model.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.sessions, ep)
	return nil
}

// Close marks the repository closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}
