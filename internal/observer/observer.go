// Package observer implements the operator-facing side of the protocol: a
// bus subscriber that folds status messages into a reported cluster view,
// and a command loop that lets an operator inspect that view and drive
// remote start/stop over SSH.
package observer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/oriys/multischeduler/internal/bus"
	"github.com/oriys/multischeduler/internal/logging"
	"github.com/oriys/multischeduler/internal/protocol"
	"github.com/oriys/multischeduler/internal/reportedcluster"
	"github.com/oriys/multischeduler/internal/sshop"
	"github.com/oriys/multischeduler/internal/store"
)

const topicNews = "news"

// Observer owns the reported cluster and the two concurrent activities that
// mutate it: the bus subscriber and the operator-input loop. Both are
// serialized behind mu; per spec.md §5, a lock is never held across bus or
// user I/O — it is acquired only around the Consume/Remove/Refresh/Report
// calls. Refresh runs its store query while mu is held.
type Observer struct {
	mu      sync.Mutex
	cluster *reportedcluster.Cluster

	dsn   string
	creds bus.Credentials
	ssh   sshop.Runner

	out io.Writer
}

// New builds an Observer. dsn is used only for explicit "update" refreshes;
// creds is used to open the bus subscriber. runner drives start/stop; pass
// nil to disable those commands (they will report an error instead).
func New(dsn string, creds bus.Credentials, runner sshop.Runner, out io.Writer) *Observer {
	return &Observer{
		cluster: reportedcluster.New(),
		dsn:     dsn,
		creds:   creds,
		ssh:     runner,
		out:     out,
	}
}

// Run connects to the bus, starts the subscriber, and drives the operator
// command loop read from in until ctx is canceled or the operator types
// exit/quit. It returns the exit code §6's CLI surface specifies: 0 for a
// clean exit/quit, nonzero only for fatal startup failure.
func (o *Observer) Run(ctx context.Context, in io.Reader) (int, error) {
	bc, err := bus.Connect(o.creds)
	if err != nil {
		return 1, fmt.Errorf("observer: connect bus: %w", err)
	}
	defer bc.Disconnect()

	if err := bc.DeclareTopic(topicNews); err != nil {
		return 1, fmt.Errorf("observer: declare topic: %w", err)
	}

	if err := bc.Subscribe(ctx, topicNews, o.handleDelivery); err != nil {
		return 1, fmt.Errorf("observer: subscribe: %w", err)
	}

	fmt.Fprintln(o.out)
	return o.commandLoop(ctx, in), nil
}

// handleDelivery is the bus callback: decode, drop malformed payloads
// rather than crash the subscriber, consume into the cluster, and reprint
// the view. Mirrors the original MessageConsumer.callback's consume+report
// pairing.
func (o *Observer) handleDelivery(payload []byte) {
	msg, err := protocol.Decode(payload)
	if err != nil {
		logging.Op().Warn("observer: dropping malformed status message", "error", err)
		return
	}

	o.mu.Lock()
	o.cluster.Consume(msg)
	report := o.cluster.Report()
	o.mu.Unlock()

	fmt.Fprint(o.out, report)
}

// commandLoop reads operator lines until exit/quit or ctx cancellation.
// Lines are read on a separate goroutine and dispatched on the calling
// goroutine; each parsed command acquires the mutex only around the
// cluster call, never while reading input or making bus/SSH calls.
func (o *Observer) commandLoop(ctx context.Context, in io.Reader) int {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return 0
		case line, ok := <-lines:
			if !ok {
				return 0
			}
			if o.dispatch(ctx, strings.TrimSpace(line)) {
				return 0
			}
		}
	}
}

// dispatch runs one operator command. Returns true when the operator asked
// to exit.
func (o *Observer) dispatch(ctx context.Context, cmd string) bool {
	switch {
	case cmd == "exit" || cmd == "quit":
		fmt.Fprintln(o.out, "Goodbye!")
		return true

	case cmd == "report":
		o.mu.Lock()
		report := o.cluster.Report()
		o.mu.Unlock()
		fmt.Fprint(o.out, report)

	case cmd == "update":
		o.update(ctx)

	default:
		o.dispatchKeyed(ctx, cmd)
	}
	return false
}

func (o *Observer) dispatchKeyed(ctx context.Context, cmd string) {
	parts := strings.Fields(cmd)
	if len(parts) != 2 {
		fmt.Fprintln(o.out, "...command not understood...")
		return
	}

	action, keyStr := parts[0], parts[1]
	key, err := strconv.Atoi(keyStr)
	if err != nil {
		fmt.Fprintln(o.out, "...command not understood...")
		return
	}

	switch action {
	case "start", "stop":
		o.startStop(ctx, sshop.Action(action), key)
	case "remove", "delete":
		o.remove(key)
	default:
		fmt.Fprintln(o.out, "...command not understood...")
	}
}

func (o *Observer) startStop(ctx context.Context, action sshop.Action, key int) {
	o.mu.Lock()
	peer, ok := o.cluster.PeerByKey(key)
	o.mu.Unlock()
	if !ok {
		fmt.Fprintf(o.out, "...no scheduler at key %d...\n", key)
		return
	}
	if o.ssh == nil {
		fmt.Fprintln(o.out, "...ssh is not configured, cannot start/stop remote schedulers...")
		return
	}

	if out, err := o.ssh.Run(ctx, action, peer.Address); err != nil {
		logging.Op().Warn("observer: ssh command failed", "action", action, "address", peer.Address, "error", err, "output", out)
		fmt.Fprintf(o.out, "...failed to %s Scheduler %d: %v...\n", action, key, err)
		return
	}

	o.mu.Lock()
	report := o.cluster.Report()
	o.mu.Unlock()
	fmt.Fprint(o.out, report)
	fmt.Fprintf(o.out, "...attempted to %s Scheduler %d...\n", action, key)
}

func (o *Observer) remove(key int) {
	o.mu.Lock()
	err := o.cluster.Remove(key)
	var report string
	if err == nil {
		report = o.cluster.Report()
	}
	o.mu.Unlock()

	if err != nil {
		fmt.Fprintf(o.out, "...no scheduler at key %d...\n", key)
		return
	}
	fmt.Fprint(o.out, report)
}

// update performs the explicit refresh-from-store command. The store
// connection is opened and closed for this single call, per spec.md §5's
// resource policy: the observer otherwise never touches the store.
func (o *Observer) update(ctx context.Context) {
	st, err := store.Connect(ctx, o.dsn)
	if err != nil {
		fmt.Fprintf(o.out, "...refresh failed: %v...\n", err)
		return
	}
	defer st.Disconnect()

	o.mu.Lock()
	err = o.cluster.Refresh(ctx, st)
	var report string
	if err == nil {
		report = o.cluster.Report()
	}
	o.mu.Unlock()

	if err != nil {
		fmt.Fprintf(o.out, "...refresh failed: %v...\n", err)
		return
	}
	fmt.Fprint(o.out, report)
}

// Cluster returns a copy of the reported peers, in key order, for
// read-only inspection.
func (o *Observer) Cluster() []reportedcluster.ReportedPeer {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cluster.Peers()
}
