// Package netproxy implements the supervisor-side decision proxy spec.md §2
// describes as sitting between the worker's veth pair and the outside
// world: an HTTP(S) CONNECT proxy and a SOCKS5 listener, both consulting the
// same policy.Evaluator the Supervisor uses for NET_CONNECT checks. The
// proxy's job is the allow/deny decision only (spec.md §1 explicitly scopes
// the CONNECT transport's implementation details — tunneling, buffering,
// TLS passthrough — out as "interface only"); everything past Decide
// approving a destination is a byte-for-byte copy.
package netproxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	socks5 "github.com/things-go/go-socks5"

	"github.com/abgutierrez/buntime/internal/policy"
)

// Checker is the decision interface both proxy front-ends consult. It is
// satisfied directly by *policy.Evaluator (see its CheckNet method);
// netproxy depends on this narrow interface instead of the concrete type so
// it can be tested with a fake.
type Checker interface {
	CheckNet(ip net.IP, port int, proto policy.Proto) policy.Action
}

func decide(checker Checker, proto policy.Proto, host string, port int) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.DefaultResolver.LookupIP(context.Background(), "ip", host)
		if err != nil || len(ips) == 0 {
			return false
		}
		ip = ips[0]
	}
	action := checker.CheckNet(ip, port, proto)
	return action == policy.Allow || action == policy.Warn
}

// HTTPProxy is a CONNECT-only HTTP(S) forward proxy: plain HTTP requests
// (GET/POST/...) are rejected since workers are expected to tunnel TLS
// through CONNECT exclusively, matching the HTTP_PROXY/HTTPS_PROXY hints
// internal/launcher injects.
type HTTPProxy struct {
	checker  Checker
	listener net.Listener
	server   *http.Server
}

// NewHTTPProxy constructs an HTTPProxy bound to addr (e.g. "169.254.1.1:8080").
func NewHTTPProxy(addr string, checker Checker) (*HTTPProxy, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("netproxy: listen %q: %w", addr, err)
	}
	p := &HTTPProxy{checker: checker, listener: ln}
	p.server = &http.Server{
		Handler:           http.HandlerFunc(p.handle),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return p, nil
}

// Addr returns the bound listener address.
func (p *HTTPProxy) Addr() string { return p.listener.Addr().String() }

// Serve blocks, accepting connections until Close is called.
func (p *HTTPProxy) Serve() error {
	err := p.server.Serve(p.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the proxy down.
func (p *HTTPProxy) Close() error {
	return p.server.Close()
}

func (p *HTTPProxy) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodConnect {
		http.Error(w, "netproxy: only CONNECT is supported", http.StatusMethodNotAllowed)
		return
	}

	host, portStr, err := net.SplitHostPort(r.Host)
	if err != nil {
		http.Error(w, "netproxy: bad CONNECT target", http.StatusBadRequest)
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		http.Error(w, "netproxy: bad CONNECT port", http.StatusBadRequest)
		return
	}

	if !decide(p.checker, policy.ProtoTCP, host, port) {
		http.Error(w, "netproxy: destination denied by policy", http.StatusForbidden)
		return
	}

	upstream, err := net.DialTimeout("tcp", r.Host, 10*time.Second)
	if err != nil {
		http.Error(w, "netproxy: dial upstream failed", http.StatusBadGateway)
		return
	}
	defer upstream.Close()

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "netproxy: hijack unsupported", http.StatusInternalServerError)
		return
	}
	client, rw, err := hijacker.Hijack()
	if err != nil {
		return
	}
	defer client.Close()

	if _, err := rw.WriteString("HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		return
	}
	if err := rw.Flush(); err != nil {
		return
	}

	pipe(client, upstream, rw.Reader)
}

// pipe copies bytes bidirectionally until either side closes. clientBuf
// drains whatever the hijacked bufio.ReadWriter had already buffered from
// the client before forwarding further reads directly from the socket.
func pipe(client net.Conn, upstream net.Conn, clientBuf *bufio.Reader) {
	type closeWriter interface {
		CloseWrite() error
	}

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(upstream, clientBuf)
		if cw, ok := upstream.(closeWriter); ok {
			_ = cw.CloseWrite()
		}
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(client, upstream)
		done <- struct{}{}
	}()
	<-done
	<-done
}

// SOCKS5Proxy wraps a things-go/go-socks5 server whose RuleSet defers every
// CONNECT decision to the same Checker the HTTP proxy and the Supervisor's
// synchronous NET_CONNECT arbitration use.
type SOCKS5Proxy struct {
	addr   string
	server *socks5.Server
}

// policyRuleSet adapts a Checker to the socks5.RuleSet interface so every
// CONNECT decision the SOCKS5 listener makes goes through the same
// evaluator as the HTTP proxy and the Supervisor's NET_CONNECT arbitration.
type policyRuleSet struct {
	checker Checker
}

func (r policyRuleSet) Allow(ctx context.Context, req *socks5.Request) (context.Context, bool) {
	host := req.DestAddr.FQDN
	if host == "" {
		host = req.DestAddr.IP.String()
	}
	return ctx, decide(r.checker, policy.ProtoTCP, host, req.DestAddr.Port)
}

// NewSOCKS5Proxy constructs a SOCKS5Proxy bound to addr.
func NewSOCKS5Proxy(addr string, checker Checker) *SOCKS5Proxy {
	server := socks5.NewServer(socks5.WithRule(policyRuleSet{checker: checker}))
	return &SOCKS5Proxy{addr: addr, server: server}
}

// ListenAndServe blocks, accepting connections until the listener is closed
// from another goroutine (things-go/go-socks5 has no built-in Close; callers
// that need a clean shutdown should run this in a goroutine keyed off a
// net.Listener they own and close themselves via ServeListener).
func (p *SOCKS5Proxy) ListenAndServe() error {
	return p.server.ListenAndServe("tcp", p.addr)
}

// ServeListener runs the SOCKS5 server over a caller-owned listener, so
// Close() on that listener is enough to shut the proxy down cleanly — the
// pattern the Supervisor's startProxy/stopProxy rely on, since Stop must be
// idempotent and bounded (spec.md §4.2's teardown contract).
func (p *SOCKS5Proxy) ServeListener(ln net.Listener) error {
	return p.server.Serve(ln)
}
