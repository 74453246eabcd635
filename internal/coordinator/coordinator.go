// Package coordinator implements the per-node election-and-liveness state
// machine: registration, periodic check-in, peer eviction, leader
// derivation, child-process lifecycle, and status publication.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oriys/multischeduler/internal/bus"
	"github.com/oriys/multischeduler/internal/config"
	"github.com/oriys/multischeduler/internal/logging"
	"github.com/oriys/multischeduler/internal/metrics"
	"github.com/oriys/multischeduler/internal/observability"
	"github.com/oriys/multischeduler/internal/protocol"
	"github.com/oriys/multischeduler/internal/store"
)

// State is one of the coordinator's four lifecycle states.
type State int

const (
	StateInit State = iota
	StateFollower
	StateLeader
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateFollower:
		return "FOLLOWER"
	case StateLeader:
		return "LEADER"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

const topicNews = "news"

// disconnectWait is the fixed backoff after any transport fault, per the
// connection-failure path.
const disconnectWait = 30 * time.Second

// errChildExited signals tick's observed-child-exit branch (spec.md §4.4
// step 7 / §7 "child exit"). Unlike a transport fault, re-registration
// follows immediately: there is no reason to believe the store or bus is
// unhealthy.
var errChildExited = errors.New("coordinator: child process exited")

// ChildCommand is the argument vector used to spawn the local scheduler
// process when this coordinator wins leadership.
type ChildCommand struct {
	Name string
	Args []string
}

// Coordinator is owned by a single task for the lifetime of one incarnation.
// It holds no state shared with any other coordinator.
type Coordinator struct {
	address string
	dsn     string
	creds   bus.Credentials
	timing  config.TimingConfig
	child   ChildCommand
	metrics *metrics.Metrics

	state     State
	birth     time.Time
	oldLeader string
	active    map[string]struct{}
	proc      *Child
}

// New builds a Coordinator for address, using dsn to reach the shared store
// and creds to reach the bus. metrics may be nil.
func New(address, dsn string, creds bus.Credentials, timing config.TimingConfig, child ChildCommand, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		address: address,
		dsn:     dsn,
		creds:   creds,
		timing:  timing,
		child:   child,
		metrics: m,
		state:   StateInit,
		active:  make(map[string]struct{}),
	}
}

// Run drives the coordinator until ctx is canceled. It implements the
// DISCONNECTED → INIT transition as an outer loop rather than recursion, so
// a long-running node never grows its stack across reconnects.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		if err := c.register(ctx); err != nil {
			logging.Op().Warn("registration failed", "address", c.address, "error", err)
			if waitOrDone(ctx, disconnectWait) {
				return ctx.Err()
			}
			continue
		}

		reconnect, err := c.runTicks(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Op().Warn("coordinator disconnected", "address", c.address, "error", err)
		}
		if !reconnect {
			return ctx.Err()
		}
		// A child exit relinquishes and re-registers immediately: the
		// transport is presumed healthy, unlike the fault path below.
		if errors.Is(err, errChildExited) {
			continue
		}
		if waitOrDone(ctx, disconnectWait) {
			return ctx.Err()
		}
	}
}

func waitOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return true
	case <-time.After(d):
		return false
	}
}

// register implements INIT → FOLLOWER.
func (c *Coordinator) register(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, "coordinator.register", observability.AttrNode.String(c.address))
	defer span.End()

	st, err := store.Connect(ctx, c.dsn)
	if err != nil {
		c.recordStoreErr("connect")
		observability.SetSpanError(span, err)
		return err
	}
	defer st.Disconnect()

	birth, err := st.Register(ctx, c.address)
	if err != nil {
		c.recordStoreErr("register")
		observability.SetSpanError(span, err)
		return err
	}

	bc, err := bus.Connect(c.creds)
	if err != nil {
		c.recordBusErr("connect")
		observability.SetSpanError(span, err)
		return err
	}
	defer bc.Disconnect()

	if err := bc.DeclareTopic(topicNews); err != nil {
		c.recordBusErr("declare_topic")
		observability.SetSpanError(span, err)
		return err
	}

	if err := c.publish(ctx, bc, protocol.New(c.address, c.address, protocol.Available)); err != nil {
		c.recordBusErr("publish")
		observability.SetSpanError(span, err)
		return err
	}

	c.birth = birth
	c.oldLeader = ""
	c.active = make(map[string]struct{})
	c.state = StateFollower
	observability.SetSpanOK(span)
	logging.Op().Info("registered", "address", c.address, "birth", c.birth)
	return nil
}

// runTicks ticks on the configured interval until ctx is canceled (returns
// reconnect=false) or a tick fails — a transport fault, self-eviction,
// relinquished leadership, or a child exit — and disconnects this node
// (reconnect=true).
func (c *Coordinator) runTicks(ctx context.Context) (reconnect bool, err error) {
	ticker := time.NewTicker(c.timing.TimeBetweenCheckins)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return false, ctx.Err()
		case <-ticker.C:
			if tickErr := c.tick(ctx); tickErr != nil {
				c.onDisconnect(ctx)
				return true, tickErr
			}
		}
	}
}

// tick runs the ordered per-tick algorithm: evict, check in, recompute
// leader, adjust leadership, recompute active set, publish departures,
// observe child exit.
func (c *Coordinator) tick(ctx context.Context) error {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "coordinator.tick", observability.AttrNode.String(c.address), observability.AttrState.String(c.state.String()))
	defer span.End()

	st, err := store.Connect(ctx, c.dsn)
	if err != nil {
		c.recordStoreErr("connect")
		observability.SetSpanError(span, err)
		return err
	}
	defer st.Disconnect()

	bc, err := bus.Connect(c.creds)
	if err != nil {
		c.recordBusErr("connect")
		observability.SetSpanError(span, err)
		return err
	}
	defer bc.Disconnect()

	if err := st.EvictStale(ctx, c.timing.GracePeriod); err != nil {
		c.recordStoreErr("evict")
		observability.SetSpanError(span, err)
		return err
	}

	if err := st.CheckIn(ctx, c.address, c.birth); err != nil {
		c.recordStoreErr("checkin")
		observability.SetSpanError(span, err)
		return err
	}

	leader, err := st.Leader(ctx)
	if err != nil {
		c.recordStoreErr("leader")
		observability.SetSpanError(span, err)
		return err
	}

	if err := c.adjustLeadership(ctx, bc, leader); err != nil {
		observability.SetSpanError(span, err)
		return err
	}

	newActive, err := st.ActiveSet(ctx)
	if err != nil {
		c.recordStoreErr("active_set")
		observability.SetSpanError(span, err)
		return err
	}
	if _, present := newActive[c.address]; !present {
		err := fmt.Errorf("coordinator: %s missing from active set", c.address)
		observability.SetSpanError(span, err)
		return err
	}

	for addr := range c.active {
		if _, stillPresent := newActive[addr]; !stillPresent {
			c.publishBestEffort(ctx, bc, protocol.New(c.address, addr, protocol.Unavailable))
		}
	}
	c.active = newActive

	if c.state == StateLeader && c.proc != nil && c.proc.Exited() {
		logging.Op().Warn("child exited, relinquishing leadership", "address", c.address, "error", c.proc.ExitErr())
		observability.SetSpanError(span, errChildExited)
		return errChildExited
	}

	if c.metrics != nil {
		c.metrics.SetActivePeers(len(c.active))
	}
	observability.SetSpanOK(span)
	if c.metrics != nil {
		c.metrics.ObserveTick(c.state.String(), time.Since(start))
	}
	return nil
}

// adjustLeadership implements the leadership-transition rules for a single
// tick given the freshly computed leader address.
func (c *Coordinator) adjustLeadership(ctx context.Context, bc *bus.Client, newLeader string) error {
	wasLeader := c.oldLeader == c.address
	isLeader := newLeader == c.address

	if wasLeader && !isLeader {
		if c.proc != nil {
			if err := c.proc.Stop(); err != nil {
				logging.Op().Warn("failed to stop child on relinquish", "address", c.address, "error", err)
			}
			c.proc = nil
		}
		c.oldLeader = newLeader
		c.state = StateFollower
		return fmt.Errorf("coordinator: %s relinquished leadership to %s", c.address, newLeader)
	}

	if !wasLeader && isLeader {
		time.Sleep(c.timing.Patience)
		proc, err := StartChild(c.child.Name, c.child.Args...)
		if err != nil {
			return fmt.Errorf("coordinator: spawn child: %w", err)
		}
		c.proc = proc
		c.state = StateLeader
		if st, serr := store.Connect(ctx, c.dsn); serr == nil {
			_ = st.CheckIn(ctx, c.address, c.birth)
			st.Disconnect()
		}
	}

	if newLeader != c.oldLeader && c.oldLeader != "" {
		c.publishBestEffort(ctx, bc, protocol.New(c.address, c.oldLeader, protocol.Unavailable))
	}
	if newLeader != c.oldLeader {
		c.publishBestEffort(ctx, bc, protocol.New(c.address, newLeader, protocol.Leader))
	}

	c.oldLeader = newLeader
	if c.metrics != nil {
		c.metrics.SetLeader(isLeader)
	}
	return nil
}

// onDisconnect implements the connection-failure path: relinquish
// leadership, publish a best-effort self-unavailable notice, and fall back
// to INIT via the caller's outer loop.
func (c *Coordinator) onDisconnect(ctx context.Context) {
	c.teardown()
	if bc, err := bus.Connect(c.creds); err == nil {
		c.publishBestEffort(ctx, bc, protocol.New(c.address, c.address, protocol.Unavailable))
		bc.Disconnect()
	}
	c.state = StateDisconnected
}

func (c *Coordinator) teardown() {
	if c.proc != nil {
		if err := c.proc.Stop(); err != nil {
			logging.Op().Warn("failed to stop child on teardown", "address", c.address, "error", err)
		}
		c.proc = nil
	}
}

func (c *Coordinator) publish(ctx context.Context, bc *bus.Client, msg protocol.StatusMessage) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("coordinator: encode status: %w", err)
	}
	if err := bc.Publish(ctx, topicNews, payload); err != nil {
		if c.metrics != nil {
			c.metrics.RecordPublish(string(msg.Status), false)
		}
		return err
	}
	if c.metrics != nil {
		c.metrics.RecordPublish(string(msg.Status), true)
	}
	return nil
}

// publishBestEffort swallows publish errors: per the protocol, bus
// notifications are hints, and the store remains the source of truth.
func (c *Coordinator) publishBestEffort(ctx context.Context, bc *bus.Client, msg protocol.StatusMessage) {
	if err := c.publish(ctx, bc, msg); err != nil {
		logging.Op().Warn("best-effort publish failed", "msg", msg.String(), "error", err)
	}
}

func (c *Coordinator) recordStoreErr(op string) {
	if c.metrics != nil {
		c.metrics.RecordStoreError(op)
	}
}

func (c *Coordinator) recordBusErr(op string) {
	if c.metrics != nil {
		c.metrics.RecordBusError(op)
	}
}

// State returns the coordinator's current lifecycle state.
func (c *Coordinator) State() State {
	return c.state
}
