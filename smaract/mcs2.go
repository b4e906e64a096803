// Package smaract provides an interface to SmarAct MCS2 piezo stick-slip
// positioning controllers over their ASCII (SCPI style) command interface.
//
// All positions are in picometres and velocities in pm/s, the controller's
// native units for linear positioners.
package smaract

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"
	"golang.org/x/time/rate"

	"github.com/ptycholab/ptycholab/comm"
	"github.com/ptycholab/ptycholab/motion"
	"github.com/ptycholab/ptycholab/scpi"
)

const (
	// DefaultVelocity is the move velocity set on every channel by Initialize, pm/s
	DefaultVelocity = 1_000_000_000

	// DefaultAcceleration is the move acceleration set on every channel by Initialize, pm/s²
	DefaultAcceleration = 1_000_000_000

	// DefaultPollInterval is the minimum time between channel state queries
	DefaultPollInterval = 10 * time.Millisecond

	// HoldInfinite is the hold time which holds a channel at its target until stopped
	HoldInfinite = -1

	moveModeClosedLoopAbsolute = 0

	defaultPort = 55551
)

// channel state bits
const (
	StateActivelyMoving   = 1 << 0
	StateClosedLoopActive = 1 << 1
	StateMovementFailed   = 1 << 11
	StateAmplifierEnabled = 1 << 18
)

var (
	// ErrMovementFailed is wrapped in a MovementError when a channel reports
	// that it could not reach its target
	ErrMovementFailed = errors.New("movement failed")

	// ErrNoChannel is returned for an axis without a channel assignment
	ErrNoChannel = errors.New("axis not mapped to a controller channel")
)

// known error codes of the MCS2
var errCodes = map[int]string{
	-113: "undefined header",
	-222: "data out of range",
	-350: "queue overflow",
	0x0002: "invalid parameter",
	0x0100: "invalid channel index",
	0x0101: "invalid module index",
	0x0200: "amplifier disabled",
	0x0201: "invalid state",
	0x0301: "movement locked",
	0x0400: "range limit reached",
	0x0401: "physical position unknown",
	0x0402: "output buffer overflow",
	0x0500: "command not processable",
	0x0800: "end stop reached",
	0x0801: "following error limit reached",
}

// Error is an error reported by the controller
type Error struct {
	Code int
	Msg  string
}

func (e Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = errCodes[e.Code]
	}
	return fmt.Sprintf("MCS2 error %d - %s", e.Code, msg)
}

// DeviceCode returns the code of the error queue entry
func (e Error) DeviceCode() int {
	return e.Code
}

// MovementError reports a channel which failed to reach its target
type MovementError struct {
	Axis  motion.Axis
	State int64
}

func (e MovementError) Error() string {
	return fmt.Sprintf("%v: %s, channel state %#x", e.Axis, ErrMovementFailed, e.State)
}

// Unwrap returns ErrMovementFailed
func (e MovementError) Unwrap() error {
	return ErrMovementFailed
}

// wrapErr converts error queue entries into controller errors
func wrapErr(err error) error {
	var de scpi.DeviceError
	if errors.As(err, &de) {
		return Error{Code: de.Code, Msg: de.Msg}
	}
	return err
}

// Settings are the motion parameters applied to every channel by Initialize
type Settings struct {
	// Velocity in pm/s
	Velocity int64 `yaml:"velocity" koanf:"velocity"`

	// Acceleration in pm/s²
	Acceleration int64 `yaml:"acceleration" koanf:"acceleration"`
}

// DefaultSettings returns the settings used when none are given
func DefaultSettings() Settings {
	return Settings{Velocity: DefaultVelocity, Acceleration: DefaultAcceleration}
}

// Controller is an MCS2 controller driving an X, Y, Z stage
type Controller struct {
	scpi scpi.SCPI

	// Channels maps stage axes to controller channel indices
	Channels map[motion.Axis]int

	// Settings are applied to each channel by Initialize
	Settings Settings

	lim *rate.Limiter
}

// New returns a controller communicating over pool, with the X, Y and Z
// axes on channels 0, 1 and 2
func New(pool *comm.Pool) *Controller {
	return &Controller{
		scpi: scpi.SCPI{Pool: pool, Handshaking: true},
		Channels: map[motion.Axis]int{
			motion.X: 0,
			motion.Y: 1,
			motion.Z: 2,
		},
		Settings: DefaultSettings(),
		lim: rate.NewLimiter(rate.Every(DefaultPollInterval), 1),
	}
}

// NewController connects to a controller at addr.  If serial is true, addr
// is a serial port, else a host or host:port on the network
func NewController(addr string, serial bool) *Controller {
	var maker comm.CreationFunc
	if serial {
		maker = comm.SerialConnMaker(makeSerConf(addr))
	} else {
		if !strings.Contains(addr, ":") {
			addr = fmt.Sprintf("%s:%d", addr, defaultPort)
		}
		maker = comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	}
	return New(comm.NewPool(1, time.Hour, maker))
}

func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        115200,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 1 * time.Second}
}

// SetPollInterval sets the minimum time between state queries while waiting
// for motion to complete
func (c *Controller) SetPollInterval(d time.Duration) {
	c.lim.SetLimit(rate.Every(d))
}

func (c *Controller) channel(a motion.Axis) (int, error) {
	ch, ok := c.Channels[a]
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrNoChannel, a)
	}
	return ch, nil
}

func (c *Controller) write(cmds ...string) error {
	return wrapErr(c.scpi.Write(cmds...))
}

// Initialize prepares every mapped channel with InitializeAxis
func (c *Controller) Initialize() error {
	for _, a := range motion.AllAxes {
		if _, ok := c.Channels[a]; !ok {
			continue
		}
		if err := c.InitializeAxis(a); err != nil {
			return err
		}
	}
	return nil
}

// InitializeAxis puts the channel of an axis into closed loop absolute mode,
// applies the velocity and acceleration of Settings and enables the amplifier
func (c *Controller) InitializeAxis(a motion.Axis) error {
	ch, err := c.channel(a)
	if err != nil {
		return err
	}
	err = c.write(
		fmt.Sprintf(":CHANnel%d:MMODe %d", ch, moveModeClosedLoopAbsolute),
		fmt.Sprintf(":CHANnel%d:VELocity %d", ch, c.Settings.Velocity),
		fmt.Sprintf(":CHANnel%d:ACCeleration %d", ch, c.Settings.Acceleration),
		fmt.Sprintf(":CHANnel%d:AMPLifier:ENABled 1", ch))
	if err != nil {
		return fmt.Errorf("initializing %v (channel %d): %w", a, ch, err)
	}
	return nil
}

// SetVelocity sets the move velocity of an axis in pm/s
func (c *Controller) SetVelocity(a motion.Axis, v int64) error {
	ch, err := c.channel(a)
	if err != nil {
		return err
	}
	return c.write(fmt.Sprintf(":CHANnel%d:VELocity %d", ch, v))
}

// GetVelocity returns the move velocity of an axis in pm/s
func (c *Controller) GetVelocity(a motion.Axis) (int64, error) {
	ch, err := c.channel(a)
	if err != nil {
		return 0, err
	}
	v, err := c.scpi.ReadInt(fmt.Sprintf(":CHANnel%d:VELocity?", ch))
	return v, wrapErr(err)
}

// MoveAbs commands an axis to an absolute position in pm
func (c *Controller) MoveAbs(a motion.Axis, pos int64) error {
	ch, err := c.channel(a)
	if err != nil {
		return err
	}
	return c.write(fmt.Sprintf(":MOVE%d %d", ch, pos))
}

// MoveGroup commands every target in one transmission
func (c *Controller) MoveGroup(targets []motion.Target) error {
	cmds := make([]string, len(targets))
	for i, t := range targets {
		ch, err := c.channel(t.Axis)
		if err != nil {
			return err
		}
		cmds[i] = fmt.Sprintf(":MOVE%d %d", ch, t.Pos)
	}
	return c.write(cmds...)
}

// GetPos returns the current position of an axis in pm
func (c *Controller) GetPos(a motion.Axis) (int64, error) {
	ch, err := c.channel(a)
	if err != nil {
		return 0, err
	}
	pos, err := c.scpi.ReadInt(fmt.Sprintf(":CHANnel%d:POSition?", ch))
	return pos, wrapErr(err)
}

// SetHold holds the axis at its target indefinitely once reached, or
// releases it.  Releasing an axis stops it
func (c *Controller) SetHold(a motion.Axis, indefinite bool) error {
	ch, err := c.channel(a)
	if err != nil {
		return err
	}
	if indefinite {
		return c.write(fmt.Sprintf(":CHANnel%d:HOLDtime %d", ch, HoldInfinite))
	}
	return c.write(fmt.Sprintf(":CHANnel%d:HOLDtime 0", ch), fmt.Sprintf(":STOP%d", ch))
}

// Stop stops an axis, ending any hold
func (c *Controller) Stop(a motion.Axis) error {
	return c.StopGroup(a)
}

// StopGroup stops every given axis in a single transmission
func (c *Controller) StopGroup(axes ...motion.Axis) error {
	cmds := make([]string, 0, len(axes))
	for _, a := range axes {
		ch, err := c.channel(a)
		if err != nil {
			return err
		}
		cmds = append(cmds, fmt.Sprintf(":STOP%d", ch))
	}
	if len(cmds) == 0 {
		return nil
	}
	return c.write(cmds...)
}

// States returns the channel state words of the axes, queried together
func (c *Controller) States(axes ...motion.Axis) ([]int64, error) {
	cmds := make([]string, len(axes))
	for i, a := range axes {
		ch, err := c.channel(a)
		if err != nil {
			return nil, err
		}
		cmds[i] = fmt.Sprintf(":CHANnel%d:STATe?", ch)
	}
	resp, err := c.scpi.ReadString(cmds...)
	if err != nil {
		return nil, wrapErr(err)
	}
	pieces := strings.Split(resp, ";")
	if len(pieces) != len(axes) {
		return nil, fmt.Errorf("expected %d channel states, got %q", len(axes), resp)
	}
	out := make([]int64, len(pieces))
	for i, p := range pieces {
		out[i], err = strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// WaitForMotionComplete polls the channel states until no axis is moving.
// A channel reporting a failed movement ends the wait with a MovementError
func (c *Controller) WaitForMotionComplete(ctx context.Context, axes ...motion.Axis) error {
	if len(axes) == 0 {
		return nil
	}
	for {
		if err := c.lim.Wait(ctx); err != nil {
			// the next poll would land past the deadline
			<-ctx.Done()
			return ctx.Err()
		}
		states, err := c.States(axes...)
		if err != nil {
			return err
		}
		moving := false
		for i, s := range states {
			if s&StateMovementFailed != 0 {
				return MovementError{Axis: axes[i], State: s}
			}
			if s&StateActivelyMoving != 0 {
				moving = true
			}
		}
		if !moving {
			return nil
		}
	}
}

// EnableAmplifier enables the amplifier of an axis
func (c *Controller) EnableAmplifier(a motion.Axis) error {
	ch, err := c.channel(a)
	if err != nil {
		return err
	}
	return c.write(fmt.Sprintf(":CHANnel%d:AMPLifier:ENABled 1", ch))
}

// GetAmplifier returns true if the amplifier of an axis is enabled
func (c *Controller) GetAmplifier(a motion.Axis) (bool, error) {
	ch, err := c.channel(a)
	if err != nil {
		return false, err
	}
	i, err := c.scpi.ReadInt(fmt.Sprintf(":CHANnel%d:AMPLifier:ENABled?", ch))
	return i == 1, wrapErr(err)
}

// Raw sends a command to the controller and returns the response to a
// query.  The error queue is read in the same transmission, so a command
// the controller rejects returns an Error
func (c *Controller) Raw(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "?") {
		resp, err := c.scpi.ReadString(s)
		return resp, wrapErr(err)
	}
	return "", wrapErr(c.scpi.Write(s))
}
