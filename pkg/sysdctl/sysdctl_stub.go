//go:build !linux

package sysdctl

import (
	"context"
	"errors"
)

var ErrUnsupported = errors.New("sysdctl: unsupported OS (linux only)")

type Controller struct{}

func NewController(ctx context.Context) (*Controller, error) {
	_ = ctx
	return nil, ErrUnsupported
}

func (c *Controller) Close() error { return nil }

func (c *Controller) Restart(ctx context.Context, unit string) error {
	_, _ = ctx, unit
	return ErrUnsupported
}

func (c *Controller) ActiveState(ctx context.Context, unit string) (string, error) {
	_, _ = ctx, unit
	return "", ErrUnsupported
}
