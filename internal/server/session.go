package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"feederd/internal/actuator"
	"feederd/internal/schedule"
	logx "feederd/pkg/logx"
)

// SessionState tracks where a session is in its lifecycle. Closed is
// terminal; a session is never reused across connections.
type SessionState int

const (
	StateAwaitingLine SessionState = iota
	StateProcessing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateAwaitingLine:
		return "awaiting-line"
	case StateProcessing:
		return "processing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session speaks the line protocol over one connection: newline-delimited
// UTF-8 commands in, newline-terminated responses out. One command is in
// flight at a time; responses come back in order.
type Session struct {
	rw     io.ReadWriter
	store  *schedule.Store
	feeder *actuator.Feeder
	log    logx.Logger

	state SessionState
}

func NewSession(rw io.ReadWriter, store *schedule.Store, feeder *actuator.Feeder, log logx.Logger) *Session {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Session{rw: rw, store: store, feeder: feeder, log: log}
}

func (s *Session) State() SessionState { return s.state }

// Run greets the client and serves commands until EOF or a read error.
// Protocol and actuator errors are answered on the wire, never fatal;
// only losing the connection ends the session.
func (s *Session) Run(ctx context.Context) {
	defer func() { s.state = StateClosed }()

	s.writeLine("CONNECTED")

	r := bufio.NewReader(s.rw)
	for {
		s.state = StateAwaitingLine
		line, err := r.ReadString('\n')
		if cmd := strings.TrimSpace(line); cmd != "" {
			s.state = StateProcessing
			s.dispatch(ctx, cmd)
		}
		if err != nil {
			if err != io.EOF {
				s.log.Debug("session read ended", logx.Err(err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Session) dispatch(ctx context.Context, cmd string) {
	switch {
	case cmd == "TEST":
		if err := s.feeder.Feed(ctx, actuator.SourceRemoteTest); err != nil {
			s.log.Warn("test feed failed", logx.Err(err))
			s.writeLine("TEST_FAILED")
			return
		}
		s.writeLine("TEST_OK")

	case cmd == "FEED_NOW":
		if err := s.feeder.Feed(ctx, actuator.SourceManual); err != nil {
			s.log.Warn("manual feed failed", logx.Err(err))
			s.writeLine("FEED_FAILED")
			return
		}
		s.writeLine("FEED_OK")

	case cmd == "GET_SCHEDULES":
		b, err := json.Marshal(struct {
			Schedules []string `json:"schedules"`
		}{Schedules: s.store.Snapshot()})
		if err != nil {
			s.writeLine("ERROR:" + err.Error())
			return
		}
		s.writeLine(string(b))

	case strings.HasPrefix(cmd, "{"):
		s.replaceSchedules(cmd)

	default:
		s.writeLine("UNKNOWN_COMMAND")
	}
}

func (s *Session) replaceSchedules(raw string) {
	var req struct {
		Schedules []string `json:"schedules"`
	}
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		s.log.Debug("malformed schedule payload", logx.Err(err))
		s.writeLine("JSON_ERROR")
		return
	}
	n, err := s.store.Replace(req.Schedules)
	if err != nil {
		s.writeLine("ERROR:" + err.Error())
		return
	}
	s.writeLine(fmt.Sprintf("SCHEDULES_UPDATED:%d", n))
}

// writeLine sends one newline-terminated response. A failed write is
// logged and swallowed; the next read will notice a dead connection.
func (s *Session) writeLine(msg string) {
	if _, err := io.WriteString(s.rw, msg+"\n"); err != nil {
		s.log.Debug("session write failed", logx.Err(err))
	}
}
