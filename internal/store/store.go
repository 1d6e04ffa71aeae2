// Package store persists the topology state the engine needs for a warm
// start: known switches, link records with their status, and BFD
// discriminator bindings.
package store

import (
	"context"
	"errors"

	"github.com/dantte-lp/gotopo/internal/model"
)

// ErrClosed indicates use of a repository after Close.
var ErrClosed = errors.New("repository closed")

// Repository is the persistence contract of the engine.
//
// PersistIslStatus writes the status of both directions of the link: the
// record attached to each endpoint's switch. Records that do not exist yet
// are created.
type Repository interface {
	LoadAllSwitches(ctx context.Context) ([]model.SwitchID, error)
	SaveSwitch(ctx context.Context, id model.SwitchID) error

	LoadAllIsls(ctx context.Context) ([]model.Isl, error)
	PersistIslStatus(ctx context.Context, ref model.IslReference, status model.IslStatus) error

	LoadBfdSessions(ctx context.Context) ([]model.BfdSession, error)
	SaveBfdSession(ctx context.Context, session model.BfdSession) error
	DeleteBfdSession(ctx context.Context, ep model.Endpoint) error

	Close() error
}
