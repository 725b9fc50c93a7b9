package server

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"feederd/internal/actuator"
	"feederd/internal/schedule"
	logx "feederd/pkg/logx"
)

func fastFeeder(drv *actuator.MockDriver) *actuator.Feeder {
	return actuator.NewFeeder(drv, actuator.Timing{
		RestSettle: time.Microsecond, DispenseHold: time.Microsecond, ReturnSettle: time.Microsecond,
	}, logx.Nop(), nil)
}

// sessionClient runs a Session on one end of a pipe and hands the test
// the client side plus a line reader already past the greeting.
func sessionClient(t *testing.T, store *schedule.Store, drv *actuator.MockDriver) (net.Conn, *bufio.Reader) {
	t.Helper()
	srv, cli := net.Pipe()
	sess := NewSession(srv, store, fastFeeder(drv), logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = cli.Close()
		_ = srv.Close()
		<-done
	})

	r := bufio.NewReader(cli)
	if got := readLine(t, r); got != "CONNECTED" {
		t.Fatalf("greeting = %q, want CONNECTED", got)
	}
	return cli, r
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return strings.TrimSpace(line)
}

func send(t *testing.T, c net.Conn, line string) {
	t.Helper()
	if _, err := c.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write %q: %v", line, err)
	}
}

func newSessionStore(t *testing.T, times ...string) *schedule.Store {
	t.Helper()
	st := schedule.Open(filepath.Join(t.TempDir(), "schedules.json"), logx.Nop(), nil)
	if len(times) > 0 {
		if _, err := st.Replace(times); err != nil {
			t.Fatalf("seed schedule: %v", err)
		}
	}
	return st
}

func TestGetSchedules(t *testing.T) {
	t.Parallel()
	cli, r := sessionClient(t, newSessionStore(t, "12:00", "08:00"), &actuator.MockDriver{})

	send(t, cli, "GET_SCHEDULES")
	if got := readLine(t, r); got != `{"schedules":["08:00","12:00"]}` {
		t.Fatalf("response = %q", got)
	}
}

func TestGetSchedulesEmpty(t *testing.T) {
	t.Parallel()
	cli, r := sessionClient(t, newSessionStore(t), &actuator.MockDriver{})

	send(t, cli, "GET_SCHEDULES")
	if got := readLine(t, r); got != `{"schedules":[]}` {
		t.Fatalf("response = %q", got)
	}
}

func TestReplaceThenGet(t *testing.T) {
	t.Parallel()
	cli, r := sessionClient(t, newSessionStore(t, "08:00"), &actuator.MockDriver{})

	send(t, cli, `{"schedules":["09:00"]}`)
	if got := readLine(t, r); got != "SCHEDULES_UPDATED:1" {
		t.Fatalf("response = %q", got)
	}
	send(t, cli, "GET_SCHEDULES")
	if got := readLine(t, r); got != `{"schedules":["09:00"]}` {
		t.Fatalf("response = %q", got)
	}
}

func TestReplaceValidationError(t *testing.T) {
	t.Parallel()
	cli, r := sessionClient(t, newSessionStore(t, "08:00"), &actuator.MockDriver{})

	send(t, cli, `{"schedules":["25:00"]}`)
	if got := readLine(t, r); !strings.HasPrefix(got, "ERROR:") {
		t.Fatalf("response = %q, want ERROR: prefix", got)
	}
	// Failed replace leaves the schedule untouched.
	send(t, cli, "GET_SCHEDULES")
	if got := readLine(t, r); got != `{"schedules":["08:00"]}` {
		t.Fatalf("response = %q", got)
	}
}

func TestMalformedJSONKeepsSessionAlive(t *testing.T) {
	t.Parallel()
	cli, r := sessionClient(t, newSessionStore(t), &actuator.MockDriver{})

	send(t, cli, `{"schedules":`)
	if got := readLine(t, r); got != "JSON_ERROR" {
		t.Fatalf("response = %q", got)
	}
	// Session survives and handles the next command.
	send(t, cli, "GET_SCHEDULES")
	if got := readLine(t, r); got != `{"schedules":[]}` {
		t.Fatalf("response = %q", got)
	}
}

func TestFeedCommands(t *testing.T) {
	t.Parallel()
	drv := &actuator.MockDriver{}
	cli, r := sessionClient(t, newSessionStore(t), drv)

	send(t, cli, "TEST")
	if got := readLine(t, r); got != "TEST_OK" {
		t.Fatalf("TEST response = %q", got)
	}
	send(t, cli, "FEED_NOW")
	if got := readLine(t, r); got != "FEED_OK" {
		t.Fatalf("FEED_NOW response = %q", got)
	}
}

func TestFailedTestStillReleases(t *testing.T) {
	t.Parallel()
	drv := &actuator.MockDriver{FailOn: "dispense"}
	cli, r := sessionClient(t, newSessionStore(t), drv)

	send(t, cli, "TEST")
	if got := readLine(t, r); got != "TEST_FAILED" {
		t.Fatalf("response = %q", got)
	}
	phases := drv.Phases()
	if len(phases) == 0 || phases[len(phases)-1] != "release" {
		t.Fatalf("actuator left energized, phases = %v", phases)
	}
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()
	cli, r := sessionClient(t, newSessionStore(t), &actuator.MockDriver{})

	send(t, cli, "SELF_DESTRUCT")
	if got := readLine(t, r); got != "UNKNOWN_COMMAND" {
		t.Fatalf("response = %q", got)
	}
}

func TestPipelinedCommandsAnsweredInOrder(t *testing.T) {
	t.Parallel()
	cli, r := sessionClient(t, newSessionStore(t, "08:00"), &actuator.MockDriver{})

	send(t, cli, "GET_SCHEDULES\nFEED_NOW")
	if got := readLine(t, r); got != `{"schedules":["08:00"]}` {
		t.Fatalf("first response = %q", got)
	}
	if got := readLine(t, r); got != "FEED_OK" {
		t.Fatalf("second response = %q", got)
	}
}

func TestCRLFTrimmed(t *testing.T) {
	t.Parallel()
	cli, r := sessionClient(t, newSessionStore(t), &actuator.MockDriver{})

	if _, err := cli.Write([]byte("GET_SCHEDULES\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readLine(t, r); got != `{"schedules":[]}` {
		t.Fatalf("response = %q", got)
	}
}
