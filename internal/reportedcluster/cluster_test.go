package reportedcluster

import (
	"context"
	"testing"

	"github.com/oriys/multischeduler/internal/protocol"
	"github.com/oriys/multischeduler/internal/store"
)

func TestConsumeSelfLeaderAnnouncement(t *testing.T) {
	c := New()
	c.Consume(protocol.New("A", "A", protocol.Available))
	c.Consume(protocol.New("A", "A", protocol.Leader))

	p, ok := c.PeerByKey(1)
	if !ok {
		t.Fatal("expected peer at key 1")
	}
	if p.Address != "A" || !p.Available || !p.Leading {
		t.Errorf("peer = %+v, want available leading A", p)
	}
}

func TestConsumeLeaderSetsFollowing(t *testing.T) {
	c := New()
	c.Consume(protocol.New("B", "A", protocol.Leader))

	a, ok := c.PeerByKey(1)
	if !ok || a.Address != "A" || !a.Leading {
		t.Errorf("A = %+v, want leading", a)
	}
	b, ok := c.PeerByKey(2)
	if !ok || b.Address != "B" || b.Following != "A" {
		t.Errorf("B = %+v, want following A", b)
	}
}

func TestUnavailableClearsLeadingAndFollowing(t *testing.T) {
	c := New()
	c.Consume(protocol.New("B", "A", protocol.Leader))
	c.Consume(protocol.New("A", "C", protocol.Leader))
	c.Consume(protocol.New("B", "A", protocol.Unavailable))

	a, _ := c.PeerByKey(1)
	if a.Leading || a.Available || a.Following != "" {
		t.Errorf("A = %+v, want demoted, unavailable and following nobody", a)
	}
}

func TestKeyDensityAfterRemove(t *testing.T) {
	c := New()
	c.Consume(protocol.New("A", "A", protocol.Available))
	c.Consume(protocol.New("B", "B", protocol.Available))
	c.Consume(protocol.New("C", "C", protocol.Available))

	if err := c.Remove(2); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	peers := c.Peers()
	if len(peers) != 2 {
		t.Fatalf("len(peers) = %d, want 2", len(peers))
	}
	for i, p := range peers {
		if p.Key != i+1 {
			t.Errorf("peers[%d].Key = %d, want %d", i, p.Key, i+1)
		}
	}
	if peers[0].Address != "A" || peers[1].Address != "C" {
		t.Errorf("peers = %+v, want [A C]", peers)
	}
}

func TestRemovedPeerReappearsOnNewMessage(t *testing.T) {
	c := New()
	c.Consume(protocol.New("A", "A", protocol.Available))
	c.Consume(protocol.New("B", "B", protocol.Available))
	c.Consume(protocol.New("C", "C", protocol.Available))
	if err := c.Remove(2); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	c.Consume(protocol.New("B", "B", protocol.Available))

	p, ok := c.PeerByKey(3)
	if !ok || p.Address != "B" {
		t.Errorf("readded peer = %+v, want B at key 3", p)
	}
}

func TestRemoveUnknownKey(t *testing.T) {
	c := New()
	if err := c.Remove(1); err == nil {
		t.Error("Remove on empty cluster: want error, got nil")
	}
}

type fakeRefresher struct {
	rows []store.AddressBirth
}

func (f fakeRefresher) DistinctAddressesByBirth(context.Context) ([]store.AddressBirth, error) {
	return f.rows, nil
}

func TestRefreshSynthesizesLeaderAndFollowers(t *testing.T) {
	c := New()
	r := fakeRefresher{rows: []store.AddressBirth{{Address: "A"}, {Address: "B"}, {Address: "C"}}}
	if err := c.Refresh(context.Background(), r); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// Refresh synthesizes {a,a,LEADER} for the oldest address only, so the
	// leader's Available stays false; Leading alone drives "is leading."
	a, _ := c.PeerByKey(1)
	if !a.Leading {
		t.Errorf("A = %+v, want leading", a)
	}
	b, _ := c.PeerByKey(2)
	if b.Leading || !b.Available {
		t.Errorf("B = %+v, want available non-leading", b)
	}
}

func TestRefreshIsIdempotent(t *testing.T) {
	c := New()
	r := fakeRefresher{rows: []store.AddressBirth{{Address: "A"}, {Address: "B"}}}
	if err := c.Refresh(context.Background(), r); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	first := c.Report()

	if err := c.Refresh(context.Background(), r); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	second := c.Report()

	if first != second {
		t.Errorf("Report differs across refreshes:\n%q\n%q", first, second)
	}
}

func TestReportFormatting(t *testing.T) {
	c := New()
	// A registers, ticks into self-leadership; B registers, then follows A
	// on its first tick — mirrors spec.md's S2 scenario message order.
	c.Consume(protocol.New("A", "A", protocol.Available))
	c.Consume(protocol.New("A", "A", protocol.Leader))
	c.Consume(protocol.New("B", "B", protocol.Available))
	c.Consume(protocol.New("B", "A", protocol.Leader))

	got := c.Report()
	want := "Scheduler 1 (A) is leading.\nScheduler 2 (B) is available and following A.\n"
	if got != want {
		t.Errorf("Report() = %q, want %q", got, want)
	}
}
