package capture

import (
	"testing"
	"time"
)

func TestGateBeginStartsNewEpoch(t *testing.T) {
	t.Parallel()

	g := NewGate()
	if s := g.Snapshot(); s.Open || s.Epoch != 0 {
		t.Fatalf("new gate = %+v, want closed at epoch 0", s)
	}
	if e := g.Begin(); e != 1 {
		t.Fatalf("first Begin = %d, want 1", e)
	}
	g.RequestEnd()
	if e := g.Begin(); e != 2 {
		t.Fatalf("second Begin = %d, want 2", e)
	}
	s := g.Snapshot()
	if !s.Open || s.EndRequested {
		t.Fatalf("after re-Begin = %+v, want open without end request", s)
	}
}

func TestGateRequestEndKeepsGateOpen(t *testing.T) {
	t.Parallel()

	g := NewGate()
	g.RequestEnd()
	if s := g.Snapshot(); s.EndRequested {
		t.Fatal("RequestEnd on closed gate should be a no-op")
	}

	g.Begin()
	g.RequestEnd()
	s := g.Snapshot()
	if !s.Open || !s.EndRequested {
		t.Fatalf("snapshot = %+v, want open with end requested", s)
	}
}

func TestGateCloseEpochIgnoresStaleEpoch(t *testing.T) {
	t.Parallel()

	g := NewGate()
	first := g.Begin()
	second := g.Begin()

	if g.CloseEpoch(first) {
		t.Fatal("CloseEpoch with superseded epoch closed the gate")
	}
	if !g.Snapshot().Open {
		t.Fatal("gate closed by stale epoch")
	}
	if !g.CloseEpoch(second) {
		t.Fatal("CloseEpoch with current epoch did not close the gate")
	}
	if g.CloseEpoch(second) {
		t.Fatal("CloseEpoch on a closed gate reported a transition")
	}
}

func TestGateChangedFiresOnTransitions(t *testing.T) {
	t.Parallel()

	g := NewGate()
	steps := []struct {
		name string
		do   func()
	}{
		{"begin", func() { g.Begin() }},
		{"request end", func() { g.RequestEnd() }},
		{"close", g.Close},
	}
	for _, s := range steps {
		ch := g.Changed()
		s.do()
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("%s: Changed channel not closed", s.name)
		}
	}

	ch := g.Changed()
	g.Close()
	select {
	case <-ch:
		t.Fatal("Close on a closed gate fired Changed")
	default:
	}
}
