package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dantte-lp/gotopo/internal/model"
	"github.com/dantte-lp/gotopo/internal/store"
)

func ep(sw model.SwitchID, port uint32) model.Endpoint { return model.NewEndpoint(sw, port) }

type opener func(t *testing.T) store.Repository

func repositories() map[string]opener {
	return map[string]opener{
		"memory": func(*testing.T) store.Repository { return store.NewMemory() },
		"sqlite": func(t *testing.T) store.Repository {
			t.Helper()
			repo, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "topo.db"))
			if err != nil {
				t.Fatalf("OpenSQLite: %v", err)
			}
			return repo
		},
	}
}

func TestRepositoryContract(t *testing.T) {
	t.Parallel()

	for name, open := range repositories() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			repo := open(t)
			t.Cleanup(func() { _ = repo.Close() })

			for _, id := range []model.SwitchID{3, 1, 1, 0xffff_ffff_ffff_fff0} {
				if err := repo.SaveSwitch(ctx, id); err != nil {
					t.Fatalf("SaveSwitch(%s): %v", id, err)
				}
			}
			switches, err := repo.LoadAllSwitches(ctx)
			if err != nil {
				t.Fatalf("LoadAllSwitches: %v", err)
			}
			if diff := cmp.Diff([]model.SwitchID{1, 3, 0xffff_ffff_ffff_fff0}, switches); diff != "" {
				t.Errorf("switches (-want +got):\n%s", diff)
			}

			ref := model.NewIslReference(ep(3, 7), ep(1, 2))
			if err := repo.PersistIslStatus(ctx, ref, model.IslActive); err != nil {
				t.Fatalf("PersistIslStatus: %v", err)
			}
			if err := repo.PersistIslStatus(ctx, ref, model.IslMoved); err != nil {
				t.Fatalf("PersistIslStatus: %v", err)
			}
			isls, err := repo.LoadAllIsls(ctx)
			if err != nil {
				t.Fatalf("LoadAllIsls: %v", err)
			}
			wantIsls := []model.Isl{
				{Source: ep(1, 2), Dest: ep(3, 7), Status: model.IslMoved},
				{Source: ep(3, 7), Dest: ep(1, 2), Status: model.IslMoved},
			}
			if diff := cmp.Diff(wantIsls, isls); diff != "" {
				t.Errorf("isls (-want +got):\n%s", diff)
			}

			if err := repo.SaveBfdSession(ctx, model.BfdSession{Endpoint: ep(3, 7), Discriminator: 10}); err != nil {
				t.Fatalf("SaveBfdSession: %v", err)
			}
			if err := repo.SaveBfdSession(ctx, model.BfdSession{Endpoint: ep(1, 2), Discriminator: 11}); err != nil {
				t.Fatalf("SaveBfdSession: %v", err)
			}
			if err := repo.SaveBfdSession(ctx, model.BfdSession{Endpoint: ep(3, 7), Discriminator: 12}); err != nil {
				t.Fatalf("SaveBfdSession: %v", err)
			}
			if err := repo.DeleteBfdSession(ctx, ep(1, 2)); err != nil {
				t.Fatalf("DeleteBfdSession: %v", err)
			}
			if err := repo.DeleteBfdSession(ctx, ep(9, 9)); err != nil {
				t.Fatalf("DeleteBfdSession of missing binding: %v", err)
			}
			sessions, err := repo.LoadBfdSessions(ctx)
			if err != nil {
				t.Fatalf("LoadBfdSessions: %v", err)
			}
			if diff := cmp.Diff([]model.BfdSession{{Endpoint: ep(3, 7), Discriminator: 12}}, sessions); diff != "" {
				t.Errorf("sessions (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSQLiteReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "topo.db")

	repo, err := store.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := repo.SaveSwitch(ctx, 5); err != nil {
		t.Fatalf("SaveSwitch: %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	repo, err = store.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer repo.Close()

	switches, err := repo.LoadAllSwitches(ctx)
	if err != nil {
		t.Fatalf("LoadAllSwitches: %v", err)
	}
	if diff := cmp.Diff([]model.SwitchID{5}, switches); diff != "" {
		t.Errorf("switches (-want +got):\n%s", diff)
	}
}

func TestSQLiteRejectsMemoryPath(t *testing.T) {
	t.Parallel()

	for _, path := range []string{"", ":memory:"} {
		if _, err := store.OpenSQLite(context.Background(), path); err == nil {
			t.Errorf("OpenSQLite(%q): expected error", path)
		}
	}
}

func TestMemoryClosed(t *testing.T) {
	t.Parallel()

	repo := store.NewMemory()
	_ = repo.Close()
	if err := repo.SaveSwitch(context.Background(), 1); !errors.Is(err, store.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}
