package portalloc

import (
	"errors"
	"testing"

	"github.com/nilsbr/rushd/internal/apperr"
)

func TestAcquireReturnsPortInRange(t *testing.T) {
	a := New("127.0.0.1", 20000, 20010)
	port, err := a.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if port < 20000 || port > 20010 {
		t.Fatalf("port %d out of range", port)
	}
}

func TestAcquireSkipsReservedPorts(t *testing.T) {
	a := New("127.0.0.1", 20100, 20101)
	p1, err := a.Acquire()
	if err != nil {
		t.Fatalf("Acquire 1: %v", err)
	}
	p2, err := a.Acquire()
	if err != nil {
		t.Fatalf("Acquire 2: %v", err)
	}
	if p1 == p2 {
		t.Fatalf("expected distinct ports, got %d twice", p1)
	}
	if _, err := a.Acquire(); !errors.Is(err, apperr.ErrPortExhausted) {
		t.Fatalf("expected ErrPortExhausted, got %v", err)
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	a := New("127.0.0.1", 20200, 20200)
	port, err := a.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	a.Release(port)
	again, err := a.Acquire()
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if again != port {
		t.Fatalf("expected %d after release, got %d", port, again)
	}
}

func TestReserveBlocksAcquire(t *testing.T) {
	a := New("127.0.0.1", 20300, 20300)
	a.Reserve(20300)
	if _, err := a.Acquire(); !errors.Is(err, apperr.ErrPortExhausted) {
		t.Fatalf("expected exhausted after manual reserve, got %v", err)
	}
}

func TestAcquireFromPrefersPreferred(t *testing.T) {
	a := New("127.0.0.1", 20400, 20410)
	port, err := a.AcquireFrom(20405)
	if err != nil {
		t.Fatalf("AcquireFrom: %v", err)
	}
	if port != 20405 {
		t.Fatalf("expected preferred port 20405, got %d", port)
	}
}

func TestAcquireFromFallsBackWhenPreferredTaken(t *testing.T) {
	a := New("127.0.0.1", 20500, 20501)
	a.Reserve(20500)
	port, err := a.AcquireFrom(20500)
	if err != nil {
		t.Fatalf("AcquireFrom: %v", err)
	}
	if port != 20501 {
		t.Fatalf("expected fallback to 20501, got %d", port)
	}
}
