package admin

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nilsbr/rushd/internal/adminbus"
	"github.com/nilsbr/rushd/internal/backend"
	"github.com/nilsbr/rushd/internal/logger"
	"github.com/nilsbr/rushd/internal/portalloc"
	"github.com/nilsbr/rushd/internal/routetable"
	"github.com/nilsbr/rushd/internal/tlsstore"
)

type fakeRunner struct{}

func (fakeRunner) Start(ctx context.Context, b backend.Backend) error { return nil }
func (fakeRunner) Stop(ctx context.Context, b backend.Backend) error  { return nil }

func testManager(t *testing.T) *backend.Manager {
	t.Helper()
	dir := t.TempDir()
	certs, err := tlsstore.New(filepath.Join(dir, "certs"), 365, logger.New("error", false))
	if err != nil {
		t.Fatalf("tlsstore.New: %v", err)
	}
	m, err := backend.NewManager(backend.Options{
		RegistryPath: filepath.Join(dir, "registry.json"),
		DocRootBase:  dir,
		Ports:        portalloc.New("127.0.0.1", 19200, 19300),
		Certs:        certs,
		Routes:       routetable.New(),
		Bus:          adminbus.New(nil, logger.New("error", false)),
		Runner:       fakeRunner{},
		Log:          logger.New("error", false),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestDispatchCreateAddsBackend(t *testing.T) {
	m := testManager(t)
	res := Dispatch(context.Background(), m, "create site-a")
	if !res.OK {
		t.Fatalf("expected OK, got message %q", res.Message)
	}
	if len(res.Backends) != 1 || res.Backends[0].Name != "site-a" {
		t.Fatalf("unexpected backends: %+v", res.Backends)
	}
}

func TestDispatchCreateRequiresName(t *testing.T) {
	m := testManager(t)
	res := Dispatch(context.Background(), m, "create")
	if res.OK {
		t.Fatalf("expected failure for missing name")
	}
}

func TestDispatchStartByNameThenStop(t *testing.T) {
	m := testManager(t)
	Dispatch(context.Background(), m, "create site-a")

	res := Dispatch(context.Background(), m, "start site-a")
	if !res.OK {
		t.Fatalf("start failed: %s", res.Message)
	}
	got, _ := m.Get(res.Backends[0].ID)
	if got.Status != backend.StatusRunning {
		t.Fatalf("expected Running, got %s", got.Status)
	}

	res = Dispatch(context.Background(), m, "stop site-a")
	if !res.OK {
		t.Fatalf("stop failed: %s", res.Message)
	}
}

func TestDispatchStartAllBulk(t *testing.T) {
	m := testManager(t)
	Dispatch(context.Background(), m, "create site-a")
	Dispatch(context.Background(), m, "create site-b")

	res := Dispatch(context.Background(), m, "start all")
	if !res.OK {
		t.Fatalf("bulk start failed: %s", res.Message)
	}
	if len(res.Backends) != 2 {
		t.Fatalf("expected 2 backends matched, got %d", len(res.Backends))
	}
	for _, b := range m.List() {
		if b.Status != backend.StatusRunning {
			t.Fatalf("expected %s Running, got %s", b.Name, b.Status)
		}
	}
}

func TestDispatchUnknownSelectorFails(t *testing.T) {
	m := testManager(t)
	res := Dispatch(context.Background(), m, "start nope")
	if res.OK {
		t.Fatalf("expected failure for unmatched selector")
	}
}

func TestDispatchCleanupRemovesStopped(t *testing.T) {
	m := testManager(t)
	Dispatch(context.Background(), m, "create site-a")

	res := Dispatch(context.Background(), m, "cleanup stopped")
	if !res.OK {
		t.Fatalf("cleanup failed: %s", res.Message)
	}
	if len(m.List()) != 0 {
		t.Fatalf("expected registry emptied, got %d entries", len(m.List()))
	}
}

func TestDispatchListReturnsBackends(t *testing.T) {
	m := testManager(t)
	Dispatch(context.Background(), m, "create site-a")
	res := Dispatch(context.Background(), m, "list")
	if !res.OK || len(res.Backends) != 1 {
		t.Fatalf("unexpected list result: %+v", res)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	m := testManager(t)
	res := Dispatch(context.Background(), m, "frobnicate")
	if res.OK {
		t.Fatalf("expected failure for unknown command")
	}
}

func TestDispatchEmptyLine(t *testing.T) {
	m := testManager(t)
	res := Dispatch(context.Background(), m, "")
	if res.OK {
		t.Fatalf("expected failure for empty command")
	}
}
