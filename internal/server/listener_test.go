package server

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"feederd/internal/actuator"
	logx "feederd/pkg/logx"
)

func startListener(t *testing.T) (*Listener, context.CancelFunc) {
	t.Helper()
	l := NewListener(Config{
		Enabled:       true,
		Addr:          "127.0.0.1:0",
		AcceptTimeout: 50 * time.Millisecond,
	}, newSessionStore(t, "08:00"), fastFeeder(&actuator.MockDriver{}), logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := l.Run(ctx); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("listener did not stop")
		}
	})

	// Wait for bind.
	deadline := time.Now().Add(time.Second)
	for l.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("listener never bound")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return l, cancel
}

func dial(t *testing.T, l *Listener) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, bufio.NewReader(conn)
}

func TestServesOneClientThenNext(t *testing.T) {
	t.Parallel()
	l, _ := startListener(t)

	c1, r1 := dial(t, l)
	if got := readLine(t, r1); got != "CONNECTED" {
		t.Fatalf("first client greeting = %q", got)
	}

	// Second client is queued, not greeted, while the first is live.
	c2, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer c2.Close()
	_ = c2.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	buf := make([]byte, 1)
	if _, err := c2.Read(buf); err == nil {
		t.Fatal("second client served while first still connected")
	}

	send(t, c1, "GET_SCHEDULES")
	if got := readLine(t, r1); got != `{"schedules":["08:00"]}` {
		t.Fatalf("response = %q", got)
	}
	_ = c1.Close()

	// After the first disconnects, the queued client gets its session.
	_ = c2.SetReadDeadline(time.Now().Add(2 * time.Second))
	r2 := bufio.NewReader(c2)
	if got := readLine(t, r2); got != "CONNECTED" {
		t.Fatalf("second client greeting = %q", got)
	}
}

func TestShutdownClosesActiveSession(t *testing.T) {
	t.Parallel()
	l, cancel := startListener(t)

	c, r := dial(t, l)
	if got := readLine(t, r); got != "CONNECTED" {
		t.Fatalf("greeting = %q", got)
	}

	cancel()

	// The active connection is closed by shutdown; the blocked read ends.
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := c.Read(buf); err == nil {
		t.Fatal("connection still open after shutdown")
	}
}
