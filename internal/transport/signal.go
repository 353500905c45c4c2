package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"
)

// Signal kinds sent over the control socket, worker -> supervisor, to
// indicate that one or more ring records are available for draining.
const (
	SignalReady = "READY"
	SignalData  = "DATA"
	SignalCheck = "CHECK"
)

// StateEvent is the JSON object form of a control-plane signal, used for
// lifecycle notices (exec_start, exec_end, exception, interrupted, ...).
type StateEvent struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Signal is a single decoded line from the control socket: either a bare
// token (READY/DATA/CHECK) or a decoded StateEvent.
type Signal struct {
	Token string
	State *StateEvent
}

// ControlConn wraps the accepted Unix socket connection between Supervisor
// and Worker, framing it as newline-delimited ASCII tokens or single-line
// JSON objects.
type ControlConn struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

// NewControlConn wraps an already-accepted or already-dialed connection.
func NewControlConn(conn net.Conn) *ControlConn {
	return &ControlConn{conn: conn, scanner: bufio.NewScanner(conn)}
}

// WriteSignal writes a bare token followed by a newline.
func (c *ControlConn) WriteSignal(token string) error {
	_, err := c.conn.Write([]byte(token + "\n"))
	return err
}

// WriteState writes a JSON-encoded state event followed by a newline.
func (c *ControlConn) WriteState(event StateEvent) error {
	event.Type = "state"
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("transport: encode state event: %w", err)
	}
	_, err = c.conn.Write(append(data, '\n'))
	return err
}

// ReadSignal blocks for the next line and decodes it as either a bare token
// or a JSON state event.
func (c *ControlConn) ReadSignal() (Signal, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return Signal{}, err
		}
		return Signal{}, fmt.Errorf("transport: control connection closed")
	}
	line := strings.TrimSpace(c.scanner.Text())
	if line == "" {
		return c.ReadSignal()
	}
	if strings.HasPrefix(line, "{") {
		var ev StateEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return Signal{}, fmt.Errorf("transport: malformed state event: %w", err)
		}
		return Signal{State: &ev}, nil
	}
	return Signal{Token: line}, nil
}

// SetReadDeadline proxies to the underlying connection, used to bound the
// wait for the worker's initial READY signal.
func (c *ControlConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close closes the underlying connection.
func (c *ControlConn) Close() error {
	return c.conn.Close()
}
