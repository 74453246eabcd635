package observer

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/oriys/multischeduler/internal/bus"
	"github.com/oriys/multischeduler/internal/protocol"
	"github.com/oriys/multischeduler/internal/sshop"
)

type fakeRunner struct {
	calls []string
	err   error
}

func (f *fakeRunner) Run(_ context.Context, action sshop.Action, addr string) (string, error) {
	f.calls = append(f.calls, string(action)+" "+addr)
	return "", f.err
}

func newObserverForTest(out *bytes.Buffer, runner sshop.Runner) *Observer {
	return New("", bus.Credentials{}, runner, out)
}

func TestDispatchReportShowsConsumedPeers(t *testing.T) {
	out := &bytes.Buffer{}
	o := newObserverForTest(out, nil)

	o.handleDelivery(mustEncode(t, protocol.New("A", "A", protocol.Leader)))
	out.Reset()

	o.dispatch(context.Background(), "report")

	if !strings.Contains(out.String(), "Scheduler 1 (A) is leading.") {
		t.Errorf("report output = %q, want leading line", out.String())
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	out := &bytes.Buffer{}
	o := newObserverForTest(out, nil)

	o.dispatch(context.Background(), "frobnicate")

	if !strings.Contains(out.String(), "not understood") {
		t.Errorf("output = %q, want not-understood notice", out.String())
	}
}

func TestDispatchExitReturnsTrue(t *testing.T) {
	out := &bytes.Buffer{}
	o := newObserverForTest(out, nil)

	if !o.dispatch(context.Background(), "exit") {
		t.Error("dispatch(\"exit\") = false, want true")
	}
	if !o.dispatch(context.Background(), "quit") {
		t.Error("dispatch(\"quit\") = false, want true")
	}
}

func TestDispatchRemoveCompactsKeys(t *testing.T) {
	out := &bytes.Buffer{}
	o := newObserverForTest(out, nil)

	o.handleDelivery(mustEncode(t, protocol.New("A", "A", protocol.Available)))
	o.handleDelivery(mustEncode(t, protocol.New("B", "B", protocol.Available)))
	out.Reset()

	o.dispatch(context.Background(), "remove 1")

	peers := o.Cluster()
	if len(peers) != 1 || peers[0].Address != "B" || peers[0].Key != 1 {
		t.Errorf("peers = %+v, want [{Key:1 Address:B}]", peers)
	}
}

func TestDispatchStartStopInvokesSSHRunner(t *testing.T) {
	out := &bytes.Buffer{}
	runner := &fakeRunner{}
	o := newObserverForTest(out, runner)

	o.handleDelivery(mustEncode(t, protocol.New("A", "A", protocol.Available)))
	out.Reset()

	o.dispatch(context.Background(), "start 1")

	if len(runner.calls) != 1 || runner.calls[0] != "start A" {
		t.Errorf("ssh calls = %v, want [start A]", runner.calls)
	}
}

func TestDispatchStartUnknownKeyReportsError(t *testing.T) {
	out := &bytes.Buffer{}
	runner := &fakeRunner{}
	o := newObserverForTest(out, runner)

	o.dispatch(context.Background(), "start 9")

	if len(runner.calls) != 0 {
		t.Errorf("ssh calls = %v, want none", runner.calls)
	}
	if !strings.Contains(out.String(), "no scheduler at key 9") {
		t.Errorf("output = %q, want missing-key notice", out.String())
	}
}

func TestMalformedDeliveryIsDropped(t *testing.T) {
	out := &bytes.Buffer{}
	o := newObserverForTest(out, nil)

	o.handleDelivery([]byte("not json"))

	if len(o.Cluster()) != 0 {
		t.Errorf("Cluster() = %+v, want empty after malformed delivery", o.Cluster())
	}
}

func mustEncode(t *testing.T, m protocol.StatusMessage) []byte {
	t.Helper()
	b, err := protocol.Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return b
}
