package actuator

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	logx "feederd/pkg/logx"
)

// PigpioConfig configures the pigpiod-backed servo driver.
//
// The servo is driven through the pigpio daemon's socket interface: each
// position is a SERVO command carrying a pulse width in microseconds, and
// pulse width 0 detaches the servo.
type PigpioConfig struct {
	// Addr is the pigpiod socket address, default "127.0.0.1:8888".
	Addr string
	// Pin is the BCM GPIO number driving the servo signal line.
	Pin int
	// RestPulseUS / DispensePulseUS are the servo pulse widths for the two
	// positions (defaults 500 / 2500, the servo's full travel).
	RestPulseUS     int
	DispensePulseUS int

	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// cmdServo is the pigpiod SERVO command: p1=gpio, p2=pulse width (us).
const cmdServo = 8

// PigpioDriver drives a hobby servo through a running pigpiod daemon.
//
// The connection is dialed lazily and re-dialed after an I/O error, so a
// pigpiod restart does not require a feeder restart.
type PigpioDriver struct {
	mu   sync.Mutex
	cfg  PigpioConfig
	conn net.Conn
	log  logx.Logger
}

// NewPigpio creates the driver and verifies pigpiod is reachable by
// probing the configured address once. The probe failing is fatal for the
// driver (the caller should then run with an uninitialized Feeder), but a
// later daemon restart is survived via lazy re-dial.
func NewPigpio(cfg PigpioConfig, log logx.Logger) (*PigpioDriver, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8888"
	}
	if cfg.Pin <= 0 {
		return nil, fmt.Errorf("pigpio: invalid gpio pin %d", cfg.Pin)
	}
	if cfg.RestPulseUS <= 0 {
		cfg.RestPulseUS = 500
	}
	if cfg.DispensePulseUS <= 0 {
		cfg.DispensePulseUS = 2500
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	d := &PigpioDriver{cfg: cfg, log: log}
	if err := d.ensureConn(); err != nil {
		return nil, fmt.Errorf("pigpio: connect %s: %w", cfg.Addr, err)
	}
	// Detach right away; a freshly started daemon may hold the last pulse.
	if err := d.servo(0); err != nil {
		return nil, err
	}
	log.Info("servo attached", logx.String("daemon", cfg.Addr), logx.Int("pin", cfg.Pin))
	return d, nil
}

func (d *PigpioDriver) MoveToRest() error     { return d.servo(d.cfg.RestPulseUS) }
func (d *PigpioDriver) MoveToDispense() error { return d.servo(d.cfg.DispensePulseUS) }
func (d *PigpioDriver) Release() error        { return d.servo(0) }

func (d *PigpioDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

func (d *PigpioDriver) ensureConn() error {
	if d.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", d.cfg.Addr, d.cfg.DialTimeout)
	if err != nil {
		return err
	}
	d.conn = conn
	return nil
}

// servo issues one SERVO command and waits for the daemon's status reply.
// On an I/O error the connection is dropped and the command retried once
// over a fresh dial.
func (d *PigpioDriver) servo(pulseUS int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := d.ensureConn(); err != nil {
			lastErr = err
			continue
		}
		res, err := d.command(cmdServo, uint32(d.cfg.Pin), uint32(pulseUS))
		if err != nil {
			// Connection likely died (daemon restart); re-dial once.
			_ = d.conn.Close()
			d.conn = nil
			lastErr = err
			continue
		}
		if res < 0 {
			return fmt.Errorf("pigpio: SERVO(%d, %dus) failed with status %d", d.cfg.Pin, pulseUS, res)
		}
		return nil
	}
	return fmt.Errorf("pigpio: %w", lastErr)
}

// command writes one 16-byte request (cmd, p1, p2, p3 as little-endian
// uint32) and reads the 16-byte reply, whose final word is the status.
func (d *PigpioDriver) command(cmd, p1, p2 uint32) (int32, error) {
	var req [16]byte
	binary.LittleEndian.PutUint32(req[0:4], cmd)
	binary.LittleEndian.PutUint32(req[4:8], p1)
	binary.LittleEndian.PutUint32(req[8:12], p2)
	// p3 (bytes 12..16) is the extension length; always 0 here.

	deadline := time.Now().Add(d.cfg.WriteTimeout)
	if err := d.conn.SetDeadline(deadline); err != nil {
		return 0, err
	}
	if _, err := d.conn.Write(req[:]); err != nil {
		return 0, err
	}

	var resp [16]byte
	if _, err := io.ReadFull(d.conn, resp[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(resp[12:16])), nil
}
