package server

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"feederd/internal/actuator"
	"feederd/internal/schedule"
	logx "feederd/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
	// AcceptTimeout bounds each accept wait so shutdown latency stays
	// within one timeout. Default 1s.
	AcceptTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = "0.0.0.0:7777"
	}
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = time.Second
	}
	return c
}

// Listener serves the command protocol to one client at a time: accept,
// drive a Session to completion, accept again. A second client connecting
// while a session is live waits in the kernel backlog.
type Listener struct {
	cfg    Config
	store  *schedule.Store
	feeder *actuator.Feeder
	log    logx.Logger

	mu     sync.Mutex
	ln     *net.TCPListener
	active net.Conn
}

func NewListener(cfg Config, store *schedule.Store, feeder *actuator.Feeder, log logx.Logger) *Listener {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Listener{cfg: cfg.withDefaults(), store: store, feeder: feeder, log: log}
}

func (l *Listener) Enabled() bool { return l.cfg.Enabled }

// Run binds and serves until ctx is canceled. It is meant to run under
// the supervisor; a bind failure is returned so the supervisor can
// restart it with backoff.
func (l *Listener) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.cfg.Addr)
	if err != nil {
		return err
	}
	tcp := ln.(*net.TCPListener)

	l.mu.Lock()
	l.ln = tcp
	l.mu.Unlock()

	// Unblock a session stuck on read when shutdown arrives.
	stopWatch := context.AfterFunc(ctx, func() {
		l.closeActive()
		_ = tcp.Close()
	})
	defer stopWatch()
	defer tcp.Close()

	l.log.Info("listener started", logx.String("addr", l.cfg.Addr))

	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = tcp.SetDeadline(time.Now().Add(l.cfg.AcceptTimeout))
		conn, err := tcp.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			l.log.Warn("accept failed", logx.Err(err))
			continue
		}

		l.serve(ctx, conn)
	}
}

// serve owns conn for the life of one session.
func (l *Listener) serve(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	l.log.Info("client connected", logx.String("remote", remote))

	l.mu.Lock()
	l.active = conn
	l.mu.Unlock()

	NewSession(conn, l.store, l.feeder, l.log).Run(ctx)

	l.mu.Lock()
	l.active = nil
	l.mu.Unlock()
	_ = conn.Close()

	l.log.Info("client disconnected", logx.String("remote", remote))
}

func (l *Listener) closeActive() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active != nil {
		_ = l.active.Close()
	}
}

// Addr reports the bound address, for tests using ":0".
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}
