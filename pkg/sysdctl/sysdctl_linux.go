//go:build linux

package sysdctl

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Controller talks to systemd over D-Bus for the unit the daemon runs
// under. It exists so the control panel can restart the service and
// report its state the same way `systemctl` would.
type Controller struct {
	mu   sync.RWMutex
	conn *dbus.Conn
}

// NewController opens a system D-Bus connection.
func NewController(ctx context.Context) (*Controller, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to systemd: %w", err)
	}
	return &Controller{conn: conn}, nil
}

func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}

// Restart issues an asynchronous restart of the unit. The reply channel
// is deliberately nil: when the unit is this very process, waiting for
// the job to finish would deadlock against our own shutdown.
func (c *Controller) Restart(ctx context.Context, unit string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return fmt.Errorf("systemd connection is closed")
	}
	_, err := c.conn.RestartUnitContext(ctx, unitName(unit), "replace", nil)
	if err != nil {
		return fmt.Errorf("restart %s: %w", unit, err)
	}
	return nil
}

// ActiveState returns the unit's ActiveState ("active", "inactive",
// "failed", ...). A unit systemd doesn't know reports "unknown".
func (c *Controller) ActiveState(ctx context.Context, unit string) (string, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return "", fmt.Errorf("systemd connection is closed")
	}

	name := unitName(unit)
	units, err := conn.ListUnitsByPatternsContext(ctx, nil, []string{name})
	if err != nil {
		return "", fmt.Errorf("query %s: %w", unit, err)
	}
	for _, u := range units {
		if u.Name == name {
			if u.LoadState == "not-found" {
				return "unknown", nil
			}
			return u.ActiveState, nil
		}
	}
	return "unknown", nil
}

func unitName(unit string) string {
	unit = strings.TrimSpace(unit)
	if unit == "" {
		unit = "feederd"
	}
	if !strings.Contains(unit, ".") {
		unit += ".service"
	}
	return unit
}
