package supervisor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/abgutierrez/buntime/internal/policy"
	"github.com/abgutierrez/buntime/internal/transport"
)

// fakeProcess is a minimal Process double: Kill closes a channel Wait blocks
// on, so tests can assert a worker was killed without touching a real OS
// process.
type fakeProcess struct {
	killed chan struct{}
	once   sync.Once
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{killed: make(chan struct{})}
}

func (p *fakeProcess) Wait() (int, error) {
	<-p.killed
	return 0, nil
}

func (p *fakeProcess) Signal(string) error { return nil }

func (p *fakeProcess) Kill() error {
	p.once.Do(func() { close(p.killed) })
	return nil
}

// fakeLauncher stands in for a real namespace/chroot launcher: it dials the
// control socket the Supervisor just opened, sends READY the way a worker
// would, and hands the client side of that connection back to the test so it
// can drive subsequent DATA/CHECK signals directly.
type fakeLauncher struct {
	conns chan net.Conn
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{conns: make(chan net.Conn, 8)}
}

func (l *fakeLauncher) Launch(_ context.Context, spec LaunchSpec) (Process, error) {
	conn, err := net.Dial("unix", spec.SocketPath)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write([]byte(transport.SignalReady + "\n")); err != nil {
		return nil, err
	}
	l.conns <- conn
	return newFakeProcess(), nil
}

func testShmName(t *testing.T) string {
	return fmt.Sprintf("buntime-sup-test-%s", t.Name())
}

func denyDefaultAllowTmpPolicy(t *testing.T) policy.Policy {
	p, err := policy.Normalize(policy.Document{
		Version:  1,
		Defaults: policy.Defaults{FS: policy.Deny, Net: policy.Allow, Exec: policy.Allow},
		FSRules: []policy.FSRule{
			{Action: policy.Allow, Path: "/tmp", Perms: map[policy.FSPerm]bool{
				policy.PermReadFile: true, policy.PermWriteFile: true,
			}},
		},
	})
	require.NoError(t, err)
	return p
}

func waitForState(t *testing.T, sup *Supervisor, want WorkerState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if sup.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("supervisor did not reach state %q within %s (currently %q)", want, timeout, sup.State())
}

func startTestSupervisor(t *testing.T, p policy.Policy) (*Supervisor, *fakeLauncher, net.Conn) {
	t.Helper()
	launcher := newFakeLauncher()
	sup := New(launcher)

	err := sup.Start(context.Background(), StartConfig{
		Override:     p,
		HasOverride:  true,
		Entry:        "script.py",
		ShmName:      testShmName(t),
		ShmSize:      4096,
		ReadyTimeout: time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, Running, sup.State())

	var conn net.Conn
	select {
	case conn = <-launcher.conns:
	case <-time.After(time.Second):
		t.Fatal("launcher never received its worker-side connection")
	}

	t.Cleanup(func() { _ = sup.Stop() })
	return sup, launcher, conn
}

func TestStartReachesRunning(t *testing.T) {
	sup, _, _ := startTestSupervisor(t, denyDefaultAllowTmpPolicy(t))
	require.Equal(t, Running, sup.State())
}

func TestSendCodeWritesCodeFrameToS2W(t *testing.T) {
	sup, _, _ := startTestSupervisor(t, denyDefaultAllowTmpPolicy(t))

	ok := sup.SendCode([]byte("print(1)"))
	require.True(t, ok)

	raw, found := sup.transport.S2W.Read()
	require.True(t, found)
	msg, err := transport.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, transport.MsgCode, msg.Type)
	require.Equal(t, "print(1)", string(msg.Payload))
}

func TestSendCodeFailsWhenNotRunning(t *testing.T) {
	sup := New(newFakeLauncher())
	require.False(t, sup.SendCode([]byte("x")))
}

func TestSynchronousCheckRespondsAllow(t *testing.T) {
	sup, _, conn := startTestSupervisor(t, denyDefaultAllowTmpPolicy(t))

	frame := transport.Encode(transport.MsgFSWrite, 42, []byte("/tmp/out.txt"))
	require.NotZero(t, sup.transport.W2S.Write(frame))
	_, err := conn.Write([]byte(transport.SignalCheck + "\n"))
	require.NoError(t, err)

	resp := readS2WWithin(t, sup, time.Second)
	require.Equal(t, transport.MsgAllow, resp.Type)
	require.Equal(t, uint32(42), resp.RequestID)
}

func TestSynchronousCheckRespondsDeny(t *testing.T) {
	sup, _, conn := startTestSupervisor(t, denyDefaultAllowTmpPolicy(t))

	frame := transport.Encode(transport.MsgFSWrite, 7, []byte("/etc/passwd"))
	require.NotZero(t, sup.transport.W2S.Write(frame))
	_, err := conn.Write([]byte(transport.SignalCheck + "\n"))
	require.NoError(t, err)

	resp := readS2WWithin(t, sup, time.Second)
	require.Equal(t, transport.MsgDeny, resp.Type)
	require.Equal(t, uint32(7), resp.RequestID)
}

func TestStdoutForwardedAsOutputEvent(t *testing.T) {
	sup, _, conn := startTestSupervisor(t, denyDefaultAllowTmpPolicy(t))
	events := sup.Events()

	frame := transport.Encode(transport.MsgStdout, transport.NoRequestID, []byte("hello"))
	require.NotZero(t, sup.transport.W2S.Write(frame))
	_, err := conn.Write([]byte(transport.SignalData + "\n"))
	require.NoError(t, err)

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == EventOutput {
				require.Equal(t, "hello", string(ev.Output))
				return
			}
		case <-deadline:
			t.Fatal("did not observe an output event")
		}
	}
}

func TestOptimisticDenyKillsAndRestarts(t *testing.T) {
	sup, launcher, conn := startTestSupervisor(t, denyDefaultAllowTmpPolicy(t))

	frame := transport.Encode(transport.MsgFSRead, transport.NoRequestID, []byte("/etc/shadow"))
	require.NotZero(t, sup.transport.W2S.Write(frame))
	_, err := conn.Write([]byte(transport.SignalCheck + "\n"))
	require.NoError(t, err)

	waitForState(t, sup, Running, 2*time.Second)

	select {
	case <-launcher.conns:
	case <-time.After(time.Second):
		t.Fatal("restart did not relaunch the worker")
	}
}

func readS2WWithin(t *testing.T, sup *Supervisor, timeout time.Duration) transport.Message {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if raw, ok := sup.transport.S2W.Read(); ok {
			msg, err := transport.Decode(raw)
			require.NoError(t, err)
			return msg
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no response frame appeared on s2w in time")
	return transport.Message{}
}
