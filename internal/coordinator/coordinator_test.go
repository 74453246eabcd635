package coordinator

import (
	"context"
	"testing"

	"github.com/oriys/multischeduler/internal/bus"
	"github.com/oriys/multischeduler/internal/config"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateInit, "INIT"},
		{StateFollower, "FOLLOWER"},
		{StateLeader, "LEADER"},
		{StateDisconnected, "DISCONNECTED"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func newTestCoordinator(address, oldLeader string) *Coordinator {
	c := New(address, "", bus.Credentials{}, config.TimingConfig{}, ChildCommand{}, nil)
	c.oldLeader = oldLeader
	c.state = StateLeader
	return c
}

func TestAdjustLeadershipRelinquishesWithoutTouchingBus(t *testing.T) {
	c := newTestCoordinator("A", "A")

	err := c.adjustLeadership(context.Background(), nil, "B")
	if err == nil {
		t.Fatal("adjustLeadership() error = nil, want relinquish error")
	}
	if c.state != StateFollower {
		t.Errorf("state = %v, want FOLLOWER", c.state)
	}
	if c.oldLeader != "B" {
		t.Errorf("oldLeader = %q, want B", c.oldLeader)
	}
}

func TestAdjustLeadershipNoChangeIsANoOp(t *testing.T) {
	c := newTestCoordinator("A", "B")
	c.state = StateFollower

	err := c.adjustLeadership(context.Background(), nil, "B")
	if err != nil {
		t.Fatalf("adjustLeadership() error = %v, want nil", err)
	}
	if c.oldLeader != "B" {
		t.Errorf("oldLeader = %q, want unchanged B", c.oldLeader)
	}
	if c.state != StateFollower {
		t.Errorf("state = %v, want unchanged FOLLOWER", c.state)
	}
}
