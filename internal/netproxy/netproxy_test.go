package netproxy

import (
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/abgutierrez/buntime/internal/policy"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	allowHost string
}

func (f fakeChecker) CheckNet(ip net.IP, port int, proto policy.Proto) policy.Action {
	if ip.String() == f.allowHost {
		return policy.Allow
	}
	return policy.Deny
}

func TestHTTPProxy_DeniesDisallowedDestination(t *testing.T) {
	checker := fakeChecker{allowHost: "127.0.0.1"}
	proxy, err := NewHTTPProxy("127.0.0.1:0", checker)
	require.NoError(t, err)
	defer proxy.Close()

	go func() { _ = proxy.Serve() }()
	time.Sleep(20 * time.Millisecond)

	req, err := http.NewRequest(http.MethodConnect, "http://93.184.216.34:443", nil)
	require.NoError(t, err)
	req.Host = "93.184.216.34:443"

	conn, err := net.Dial("tcp", proxy.Addr())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, req.Write(conn))

	buf := make([]byte, 512)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "403")
}

func TestDecide_AllowsResolvedLoopback(t *testing.T) {
	checker := fakeChecker{allowHost: "127.0.0.1"}
	require.True(t, decide(checker, policy.ProtoTCP, "127.0.0.1", 80))
	require.False(t, decide(checker, policy.ProtoTCP, "10.0.0.9", 80))
}
