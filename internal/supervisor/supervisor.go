// Package supervisor binds the ring-buffer transport, the policy evaluator,
// and a worker process handle into the lifecycle state machine spec.md §4.7
// describes: start, permission-check arbitration, restart-on-violation, and
// teardown.
package supervisor

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/abgutierrez/buntime/internal/netproxy"
	"github.com/abgutierrez/buntime/internal/policy"
	"github.com/abgutierrez/buntime/internal/ringbuf"
	"github.com/abgutierrez/buntime/internal/sandbox"
	"github.com/abgutierrez/buntime/internal/telemetry"
	"github.com/abgutierrez/buntime/internal/transport"
)

// telemetryInterval is the ~10 Hz cadence spec.md §4.7 documents for the
// "memory" event and the batching window for "audit-events".
const telemetryInterval = 100 * time.Millisecond

// StartConfig carries everything Start needs to bring a worker up: the
// resolved on-disk policy path (if any), a runtime override policy already
// composed from CLI flags, and the process-launch parameters forwarded to
// the Launcher.
type StartConfig struct {
	PolicyPath   string
	Override     policy.Policy
	HasOverride  bool
	WorkerBinary string
	Entry        string
	Args         []string
	Env          []string
	ShmName      string
	ShmSize      int
	ReadyTimeout time.Duration
	Interactive  bool

	// ProxyAddr is the veth-side address (e.g. launcher.ProxyHostPort) the
	// Supervisor binds its netproxy HTTP CONNECT and SOCKS5 listeners to
	// when the composed policy's net domain isn't fully open. Empty
	// disables the proxy entirely (non-Linux or --no-sandbox runs, where
	// there is no isolated network namespace for it to sit in front of).
	ProxyAddr string
}

// Supervisor is single-threaded cooperative: one goroutine drains the
// worker-to-supervisor ring in response to control-socket signals; every
// other method serializes through mu before touching shared state.
type Supervisor struct {
	launcher Launcher
	bus      *Bus

	mu         sync.Mutex
	state      WorkerState
	killReason KillReason

	evaluator *policy.Evaluator
	transport *transport.Handle
	process   Process
	conn      *transport.ControlConn

	cfg StartConfig

	loopDone      chan struct{}
	telemetryDone chan struct{}
	stopOnce      sync.Once

	auditMu  sync.Mutex
	auditBuf []policy.AuditEvent

	httpProxy *netproxy.HTTPProxy
	socksLn   net.Listener

	syscalls telemetry.Collector
}

// evaluatorChecker adapts a Supervisor's live evaluator pointer to
// netproxy.Checker, so a policy swap via ApplyPolicySet is observed by an
// already-running proxy listener without restarting it.
type evaluatorChecker struct{ s *Supervisor }

func (c evaluatorChecker) CheckNet(ip net.IP, port int, proto policy.Proto) policy.Action {
	c.s.mu.Lock()
	eval := c.s.evaluator
	c.s.mu.Unlock()
	if eval == nil {
		return policy.Deny
	}
	return eval.CheckNet(ip, port, proto)
}

// New constructs an idle Supervisor bound to the given worker launcher.
func New(launcher Launcher) *Supervisor {
	return &Supervisor{
		launcher: launcher,
		bus:      NewBus(),
		state:    Idle,
		syscalls: telemetry.NewCollector(),
	}
}

// Events returns a channel that receives every event this Supervisor emits
// from the moment of subscription onward.
func (s *Supervisor) Events() <-chan Event {
	return s.bus.Subscribe()
}

// State reports the current worker lifecycle state.
func (s *Supervisor) State() WorkerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ActivePolicy returns the composed policy currently governing the worker.
// It is the zero Policy before the first successful Start.
func (s *Supervisor) ActivePolicy() policy.Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evaluator == nil {
		return policy.Policy{}
	}
	return s.evaluator.Policy()
}

func (s *Supervisor) setState(to WorkerState, signal string) {
	s.mu.Lock()
	from := s.state
	if from != Idle || to != Idle {
		if !validTransition(from, to) && from != to {
			fmt.Fprintf(os.Stderr, "[buntime:supervisor] unusual state transition %s -> %s\n", from, to)
		}
	}
	s.state = to
	s.mu.Unlock()
	s.bus.broadcast(Event{Kind: EventState, Worker: to, Signal: signal})
}

func (s *Supervisor) emitError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "[buntime:supervisor] %s\n", msg)
	s.bus.broadcast(Event{Kind: EventError, Message: msg})
}

// Start loads and normalizes the on-disk policy (if any), composes it with
// the runtime override, opens the Transport, launches the worker, and waits
// for READY. It is the only entry point that may move the Supervisor out of
// Idle.
func (s *Supervisor) Start(ctx context.Context, cfg StartConfig) error {
	if s.State() != Idle {
		return fmt.Errorf("supervisor: Start called from state %q, want %q", s.State(), Idle)
	}
	s.cfg = cfg
	s.setState(Starting, "")

	composite, err := s.loadAndComposePolicy(cfg)
	if err != nil {
		s.setState(Stopped, "")
		return err
	}
	s.mu.Lock()
	s.evaluator = policy.NewEvaluator(composite)
	s.mu.Unlock()
	s.bus.broadcast(Event{Kind: EventPolicyLoaded})
	s.startProxy(cfg.ProxyAddr, composite)

	if err := s.openAndLaunch(ctx, cfg); err != nil {
		s.setState(Stopped, "")
		return err
	}

	s.setState(Running, "")
	s.loopDone = make(chan struct{})
	s.telemetryDone = make(chan struct{})
	go s.loop()
	go s.telemetryLoop()
	return nil
}

// telemetryLoop broadcasts the periodic "memory" event and flushes any
// batched "audit-events" at the cadence spec.md §4.7 documents, until Stop
// closes telemetryDone.
func (s *Supervisor) telemetryLoop() {
	ticker := time.NewTicker(telemetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.telemetryDone:
			return
		case <-ticker.C:
			s.mu.Lock()
			h := s.transport
			s.mu.Unlock()
			if h != nil {
				s.bus.broadcast(Event{Kind: EventMemory, Memory: combinedStats(h)})
			}
			s.flushAudit()
			if samples := s.syscalls.Sample(); len(samples) > 0 {
				s.bus.broadcast(Event{Kind: EventSyscalls, Syscalls: samples})
			}
		}
	}
}

func combinedStats(h *transport.Handle) ringbuf.Stats {
	s2w := h.S2W.Stats()
	w2s := h.W2S.Stats()
	return ringbuf.Stats{
		Used:     s2w.Used + w2s.Used,
		Capacity: s2w.Capacity + w2s.Capacity,
	}
}

// recordAudit appends kind to the pending batch when the active policy's
// audit domain is enabled and includes kind in its events set; it is a
// no-op otherwise, so callers can call it unconditionally from dispatch.
func (s *Supervisor) recordAudit(eval *policy.Evaluator, kind policy.AuditEvent) {
	audit := eval.Policy().Audit
	if !audit.Enabled || !audit.Events[kind] {
		return
	}
	s.auditMu.Lock()
	s.auditBuf = append(s.auditBuf, kind)
	s.auditMu.Unlock()
}

func (s *Supervisor) flushAudit() {
	s.auditMu.Lock()
	if len(s.auditBuf) == 0 {
		s.auditMu.Unlock()
		return
	}
	batch := s.auditBuf
	s.auditBuf = nil
	s.auditMu.Unlock()
	s.bus.broadcast(Event{Kind: EventAuditEvents, Audit: batch})
}

// startProxy brings up the supervisor-side HTTP CONNECT and SOCKS5 decision
// proxies spec.md §6/§9 describe as the concrete home for the worker's
// injected HTTP_PROXY/HTTPS_PROXY hints, but only when addr is set (the
// Launcher reports one only for a Linux, sandboxed run) and the composed
// policy's net domain isn't already wide open. Failures are reported as
// error events rather than aborting Start: a worker with a fully-open
// network policy never dials out through here anyway.
func (s *Supervisor) startProxy(addr string, composite policy.Policy) {
	if addr == "" || sandbox.NetworkFullyOpen(composite) {
		return
	}
	checker := evaluatorChecker{s: s}

	hp, err := netproxy.NewHTTPProxy(addr, checker)
	if err != nil {
		s.emitError("start http proxy: %v", err)
		return
	}
	go func() {
		if err := hp.Serve(); err != nil {
			s.emitError("http proxy serve: %v", err)
		}
	}()

	socksAddr := socksAddrFor(addr)
	ln, err := net.Listen("tcp", socksAddr)
	if err != nil {
		s.emitError("start socks5 proxy: %v", err)
		s.mu.Lock()
		s.httpProxy = hp
		s.mu.Unlock()
		return
	}
	sp := netproxy.NewSOCKS5Proxy(socksAddr, checker)
	go func() {
		_ = sp.ServeListener(ln)
	}()

	s.mu.Lock()
	s.httpProxy = hp
	s.socksLn = ln
	s.mu.Unlock()
}

// socksAddrFor derives the SOCKS5 listener address from the HTTP proxy
// address: same host, fixed conventional SOCKS5 port 1080, so the two
// listeners never collide.
func socksAddrFor(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return net.JoinHostPort(host, "1080")
}

// stopProxy idempotently tears down whatever startProxy brought up.
func (s *Supervisor) stopProxy() {
	s.mu.Lock()
	hp := s.httpProxy
	ln := s.socksLn
	s.httpProxy = nil
	s.socksLn = nil
	s.mu.Unlock()

	if hp != nil {
		_ = hp.Close()
	}
	if ln != nil {
		_ = ln.Close()
	}
}

func (s *Supervisor) loadAndComposePolicy(cfg StartConfig) (policy.Policy, error) {
	var policies []policy.Policy
	if cfg.PolicyPath != "" {
		p, err := policy.LoadAndNormalize(cfg.PolicyPath)
		if err != nil {
			return policy.Policy{}, fmt.Errorf("supervisor: load policy %q: %w", cfg.PolicyPath, err)
		}
		policies = append(policies, p)
	}
	if cfg.HasOverride {
		policies = append(policies, cfg.Override)
	}
	return policy.Compose(policies), nil
}

// openAndLaunch opens a fresh Transport, launches the worker through the
// Launcher collaborator, and blocks for the worker's READY signal.
func (s *Supervisor) openAndLaunch(ctx context.Context, cfg StartConfig) error {
	h, err := transport.Open(cfg.ShmName, cfg.ShmSize)
	if err != nil {
		return fmt.Errorf("supervisor: open transport: %w", err)
	}

	s.mu.Lock()
	currentPolicy := s.evaluator.Policy()
	s.mu.Unlock()

	proc, err := s.launcher.Launch(ctx, LaunchSpec{
		SocketPath:   h.SocketPath,
		ShmName:      h.ShmName,
		ShmSize:      h.ShmSize,
		WorkerBinary: cfg.WorkerBinary,
		Entry:        cfg.Entry,
		Args:         cfg.Args,
		Env:          cfg.Env,
		Policy:       currentPolicy,
		Interactive:  cfg.Interactive,
	})
	if err != nil {
		_ = h.Close()
		return fmt.Errorf("supervisor: launch worker: %w", err)
	}

	timeout := cfg.ReadyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if err := h.Listener().SetDeadline(time.Now().Add(timeout)); err != nil {
		_ = proc.Kill()
		_ = h.Close()
		return fmt.Errorf("supervisor: set accept deadline: %w", err)
	}
	rawConn, err := h.Listener().Accept()
	if err != nil {
		_ = proc.Kill()
		_ = h.Close()
		return fmt.Errorf("supervisor: accept worker control connection: %w", err)
	}
	_ = h.Listener().SetDeadline(time.Time{})

	conn := transport.NewControlConn(rawConn)
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		_ = conn.Close()
		_ = proc.Kill()
		_ = h.Close()
		return err
	}
	sig, err := conn.ReadSignal()
	if err != nil || sig.Token != transport.SignalReady {
		_ = conn.Close()
		_ = proc.Kill()
		_ = h.Close()
		return fmt.Errorf("supervisor: did not receive READY from worker: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	s.mu.Lock()
	s.transport = h
	s.process = proc
	s.conn = conn
	s.mu.Unlock()
	return nil
}

// SendCode encodes payload as a CODE frame and writes it to s2w. It returns
// false if the ring rejects the write or the Supervisor is not Running.
func (s *Supervisor) SendCode(payload []byte) bool {
	s.mu.Lock()
	state := s.state
	h := s.transport
	s.mu.Unlock()

	if state == Restarting {
		s.emitError("worker is restarting")
		return false
	}
	if state != Running || h == nil {
		return false
	}
	frame := transport.Encode(transport.MsgCode, transport.NoRequestID, payload)
	if h.S2W.Write(frame) == 0 {
		s.emitError("send code: ring buffer full")
		return false
	}
	return true
}

// Interrupt signals the worker process at the OS level; any in-flight
// synchronous checks resolve to DENY if the worker dies before a response
// reaches it.
func (s *Supervisor) Interrupt() error {
	s.mu.Lock()
	proc := s.process
	s.mu.Unlock()
	if proc == nil {
		return fmt.Errorf("supervisor: no running worker to interrupt")
	}
	return proc.Signal("INT")
}

// ApplyPolicySet composes policies into a new evaluator, replacing the
// active one. The worker is not restarted: new evaluations simply start
// using the new policy on the next check.
func (s *Supervisor) ApplyPolicySet(policies []policy.Policy, source string) (policy.Policy, error) {
	composite := policy.Compose(policies)
	s.mu.Lock()
	s.evaluator = policy.NewEvaluator(composite)
	s.mu.Unlock()
	s.bus.broadcast(Event{Kind: EventPolicySetLoaded, PolicySource: source})
	return composite, nil
}

// Stop is idempotent: it kills the worker, tears the transport down, and
// moves the Supervisor to Stopped. Pending synchronous checks are abandoned;
// their responses, if ever written, are simply never read.
func (s *Supervisor) Stop() error {
	var retErr error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		proc := s.process
		h := s.transport
		conn := s.conn
		loopDone := s.loopDone
		telemetryDone := s.telemetryDone
		s.mu.Unlock()

		if telemetryDone != nil {
			close(telemetryDone)
		}
		if conn != nil {
			_ = conn.Close()
		}
		if proc != nil {
			_ = proc.Kill()
		}
		if loopDone != nil {
			<-loopDone
		}
		if h != nil {
			if err := h.Close(); err != nil {
				retErr = err
			}
		}
		s.stopProxy()
		_ = s.syscalls.Close()
		s.setState(Stopped, "")
	})
	return retErr
}

// loop is the single cooperative reader: it blocks on the control socket for
// signals and drains w2s on each one, dispatching STDOUT and permission
// checks. It exits when the control connection errors out (worker death) or
// Stop closes it.
func (s *Supervisor) loop() {
	defer close(s.loopDone)
	for {
		sig, err := s.conn.ReadSignal()
		if err != nil {
			s.handleWorkerGone()
			return
		}
		if sig.State != nil {
			s.handleStateEvent(*sig.State)
			continue
		}
		switch sig.Token {
		case transport.SignalData, transport.SignalCheck:
			s.drainW2S()
		}
	}
}

func (s *Supervisor) handleStateEvent(ev transport.StateEvent) {
	switch ev.Event {
	case "exec_start":
		s.bus.broadcast(Event{Kind: EventAuditReset})
	default:
	}
	s.bus.broadcast(Event{Kind: EventState, Signal: ev.Event})
}

func (s *Supervisor) handleWorkerGone() {
	s.mu.Lock()
	state := s.state
	proc := s.process
	s.mu.Unlock()
	// Killed: killForPolicyViolation has already moved us out of Running and
	// queued restart(); this loop() iteration is just observing the
	// consequence of the proc.Kill() it issued, not an independent crash.
	// Without this case the EOF from that kill can reach ReadSignal before
	// restart() gets scheduled, and this generic-crash path would broadcast
	// a spurious exec_end/Stopped that races restart()'s own transitions
	// (spec.md §8 scenario 3 mandates killed -> RESTARTED with nothing
	// in between).
	if state == Stopped || state == Restarting || state == Killed {
		return
	}
	exitCode := 0
	if proc != nil {
		exitCode, _ = proc.Wait()
	}
	s.bus.broadcast(Event{Kind: EventState, Signal: "exec_end", ExitCode: exitCode})
	s.setState(Stopped, "")
}

// drainW2S reads every pending frame off the worker-to-supervisor ring and
// dispatches it by message type, per spec.md §4.7's check arbitration rule.
func (s *Supervisor) drainW2S() {
	s.mu.Lock()
	h := s.transport
	eval := s.evaluator
	s.mu.Unlock()
	if h == nil {
		return
	}
	for {
		raw, ok := h.W2S.Read()
		if !ok {
			return
		}
		msg, err := transport.Decode(raw)
		if err != nil {
			s.emitError("malformed frame dropped: %v", err)
			continue
		}
		s.dispatch(h, eval, msg)
	}
}

func (s *Supervisor) dispatch(h *transport.Handle, eval *policy.Evaluator, msg transport.Message) {
	switch msg.Type {
	case transport.MsgStdout:
		s.bus.broadcast(Event{Kind: EventOutput, Output: msg.Payload})

	case transport.MsgFSRead, transport.MsgListDir:
		perm := policy.PermReadFile
		if msg.Type == transport.MsgListDir {
			perm = policy.PermReadDir
		}
		action := eval.CheckFS(string(msg.Payload), perm)
		s.recordAudit(eval, policy.AuditOpenat)
		if action == policy.Deny {
			s.killForPolicyViolation()
		}

	case transport.MsgFSWrite:
		action := eval.CheckFS(string(msg.Payload), policy.PermWriteFile)
		s.recordAudit(eval, policy.AuditOpenat)
		s.respondSync(h, msg.RequestID, action)

	case transport.MsgExec:
		action := eval.CheckExec(string(msg.Payload))
		s.recordAudit(eval, policy.AuditExecve)
		s.respondSync(h, msg.RequestID, action)

	case transport.MsgNetConnect:
		action := s.checkNetConnect(eval, string(msg.Payload))
		s.recordAudit(eval, policy.AuditConnect)
		s.respondSync(h, msg.RequestID, action)

	default:
		s.emitError("unexpected message type %s from worker", msg.Type)
	}
}

// respondSync evaluates to allow or deny (warn is treated as allow plus a
// log line, per spec.md's documented limitation) and writes the matching
// ALLOW/DENY frame back with the original request id.
func (s *Supervisor) respondSync(h *transport.Handle, requestID uint32, action policy.Action) {
	respType := transport.MsgAllow
	if action == policy.Deny {
		respType = transport.MsgDeny
	}
	if action == policy.Warn {
		s.emitError("warn: request %d allowed under warn policy", requestID)
	}
	frame := transport.Encode(respType, requestID, nil)
	if h.S2W.Write(frame) == 0 {
		s.emitError("respond to request %d: ring buffer full", requestID)
	}
}

func (s *Supervisor) checkNetConnect(eval *policy.Evaluator, hostPort string) policy.Action {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return policy.Deny
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return policy.Deny
	}
	ip := resolveHost(host)
	if ip == nil {
		return policy.Deny
	}
	return eval.CheckNet(ip, port, policy.ProtoTCP)
}

func resolveHost(host string) net.IP {
	if ip := net.ParseIP(host); ip != nil {
		return ip
	}
	ips, err := net.DefaultResolver.LookupIP(context.Background(), "ip", host)
	if err != nil || len(ips) == 0 {
		return nil
	}
	return ips[0]
}

// killForPolicyViolation kills the worker after an optimistic check failed
// and begins the mandated restart sequence.
func (s *Supervisor) killForPolicyViolation() {
	s.mu.Lock()
	proc := s.process
	s.killReason = KillReasonPolicyViolation
	s.mu.Unlock()

	s.setState(Killed, string(KillReasonPolicyViolation))
	if proc != nil {
		_ = proc.Kill()
	}
	go s.restart()
}

// restart tears the Transport down completely, allocates a fresh one, and
// relaunches the worker with the same policy and config, per spec.md §4.7.
func (s *Supervisor) restart() {
	s.setState(Restarting, "")

	s.mu.Lock()
	h := s.transport
	conn := s.conn
	cfg := s.cfg
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if h != nil {
		_ = h.Close()
	}

	if err := s.openAndLaunch(context.Background(), cfg); err != nil {
		s.emitError("restart failed: %v", err)
		s.setState(Stopped, "")
		return
	}

	s.setState(Running, "RESTARTED")
	s.loopDone = make(chan struct{})
	go s.loop()
}
