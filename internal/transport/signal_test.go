package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestControlConnBareTokenRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := NewControlConn(server)
	done := make(chan Signal, 1)
	go func() {
		sig, err := cc.ReadSignal()
		require.NoError(t, err)
		done <- sig
	}()

	_, err := client.Write([]byte(SignalReady + "\n"))
	require.NoError(t, err)

	select {
	case sig := <-done:
		require.Equal(t, SignalReady, sig.Token)
		require.Nil(t, sig.State)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for signal")
	}
}

func TestControlConnStateEventRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	serverConn := NewControlConn(server)
	go func() {
		_ = serverConn.WriteState(StateEvent{Event: "exec_start"})
	}()

	clientConn := NewControlConn(client)
	sig, err := clientConn.ReadSignal()
	require.NoError(t, err)
	require.NotNil(t, sig.State)
	require.Equal(t, "state", sig.State.Type)
	require.Equal(t, "exec_start", sig.State.Event)
}
