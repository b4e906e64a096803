package smaract

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ptycholab/ptycholab/comm"
	"github.com/ptycholab/ptycholab/motion"
)

// fakeMCS2 answers the subset of the command set used by Controller.
// Channels report moving for busyPolls state queries after each move.
type fakeMCS2 struct {
	mu        sync.Mutex
	lines     []string
	pos       map[string]string
	busy      map[string]int
	busyPolls int
	state     map[string]int64
	errCode   int
}

func newFake() *fakeMCS2 {
	return &fakeMCS2{
		pos:   map[string]string{"0": "0", "1": "0", "2": "0"},
		busy:  map[string]int{},
		state: map[string]int64{},
	}
}

func (f *fakeMCS2) serve(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		f.mu.Lock()
		f.lines = append(f.lines, line)
		var resp []string
		for _, cmd := range strings.Split(line, ";") {
			if out, ok := f.handle(cmd); ok {
				resp = append(resp, out)
			}
		}
		f.mu.Unlock()
		if len(resp) > 0 {
			io.WriteString(conn, strings.Join(resp, ";")+"\n")
		}
	}
}

// handle processes one command.  The lock must be held
func (f *fakeMCS2) handle(cmd string) (string, bool) {
	var ch string
	switch {
	case cmd == ":SYSTem:ERRor?":
		if f.errCode != 0 {
			code := f.errCode
			f.errCode = 0
			return fmt.Sprintf("%d,\"Amplifier disabled\"", code), true
		}
		return `0,"No error"`, true
	case strings.HasPrefix(cmd, ":MOVE"):
		var pos string
		fmt.Sscanf(cmd, ":MOVE%s %s", &ch, &pos)
		f.pos[ch] = pos
		f.busy[ch] = f.busyPolls
	case strings.HasSuffix(cmd, ":POSition?"):
		fmt.Sscanf(cmd, ":CHANnel%1s", &ch)
		return f.pos[ch], true
	case strings.HasSuffix(cmd, ":STATe?"):
		fmt.Sscanf(cmd, ":CHANnel%1s", &ch)
		s := f.state[ch]
		if f.busy[ch] > 0 {
			f.busy[ch]--
			s |= StateActivelyMoving
		}
		return fmt.Sprint(s), true
	case strings.HasSuffix(cmd, ":AMPLifier:ENABled?"):
		return "1", true
	case strings.HasSuffix(cmd, ":VELocity?"):
		return "1000000000", true
	}
	return "", false
}

func (f *fakeMCS2) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.lines))
	copy(out, f.lines)
	return out
}

func setup(t *testing.T) (*Controller, *fakeMCS2) {
	f := newFake()
	maker := func() (io.ReadWriteCloser, error) {
		client, server := net.Pipe()
		go f.serve(server)
		t.Cleanup(func() { server.Close() })
		return client, nil
	}
	c := New(comm.NewPool(1, time.Minute, maker))
	c.SetPollInterval(time.Millisecond)
	return c, f
}

func TestInitialize(t *testing.T) {
	c, f := setup(t)
	if err := c.Initialize(); err != nil {
		t.Fatal(err)
	}
	sent := f.sent()
	if len(sent) != 3 {
		t.Fatalf("expected one transmission per channel, got %d: %v", len(sent), sent)
	}
	want := ":CHANnel1:MMODe 0;:CHANnel1:VELocity 1000000000;:CHANnel1:ACCeleration 1000000000;:CHANnel1:AMPLifier:ENABled 1;:SYSTem:ERRor?"
	if sent[1] != want {
		t.Errorf("expected\n%s\ngot\n%s", want, sent[1])
	}
}

func TestMoveGroupIsOneTransmission(t *testing.T) {
	c, f := setup(t)
	err := c.MoveGroup([]motion.Target{{Axis: motion.X, Pos: 1500}, {Axis: motion.Y, Pos: -20}})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{":MOVE0 1500;:MOVE1 -20;:SYSTem:ERRor?"}
	if diff := cmp.Diff(want, f.sent()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	pos, err := c.GetPos(motion.Y)
	if err != nil {
		t.Fatal(err)
	}
	if pos != -20 {
		t.Errorf("expected Y at -20 pm, got %d", pos)
	}
}

func TestStopGroupIsOneTransmission(t *testing.T) {
	c, f := setup(t)
	if err := c.StopGroup(motion.X, motion.Y, motion.Z); err != nil {
		t.Fatal(err)
	}
	want := []string{":STOP0;:STOP1;:STOP2;:SYSTem:ERRor?"}
	if diff := cmp.Diff(want, f.sent()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestSetHold(t *testing.T) {
	c, f := setup(t)
	c.SetHold(motion.Z, true)
	c.SetHold(motion.Z, false)
	want := []string{
		":CHANnel2:HOLDtime -1;:SYSTem:ERRor?",
		":CHANnel2:HOLDtime 0;:STOP2;:SYSTem:ERRor?",
	}
	if diff := cmp.Diff(want, f.sent()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestWaitForMotionComplete(t *testing.T) {
	c, f := setup(t)
	f.busyPolls = 3
	c.MoveGroup([]motion.Target{{Axis: motion.X, Pos: 1}, {Axis: motion.Y, Pos: 1}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.WaitForMotionComplete(ctx, motion.X, motion.Y); err != nil {
		t.Fatal(err)
	}
	polls := 0
	for _, l := range f.sent() {
		if strings.Contains(l, "STATe?") {
			polls++
		}
	}
	if polls != 4 {
		t.Errorf("expected 4 state polls, got %d", polls)
	}
}

func TestWaitForMotionCompleteTimesOut(t *testing.T) {
	c, f := setup(t)
	f.busyPolls = 1 << 30
	c.MoveAbs(motion.Z, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := c.WaitForMotionComplete(ctx, motion.Z)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestMovementFailed(t *testing.T) {
	c, f := setup(t)
	f.state["0"] = StateMovementFailed | StateAmplifierEnabled
	err := c.WaitForMotionComplete(context.Background(), motion.X)
	var me MovementError
	if !errors.As(err, &me) || me.Axis != motion.X {
		t.Fatalf("expected a MovementError on X, got %v", err)
	}
	if !errors.Is(err, ErrMovementFailed) {
		t.Error("expected MovementError to unwrap to ErrMovementFailed")
	}
}

func TestDeviceErrorsAreTyped(t *testing.T) {
	c, f := setup(t)
	f.errCode = 0x0200
	err := c.MoveAbs(motion.X, 5)
	var de Error
	if !errors.As(err, &de) || de.Code != 0x0200 {
		t.Errorf("expected controller error 0x200, got %v", err)
	}
}

func TestUnmappedAxis(t *testing.T) {
	c, _ := setup(t)
	delete(c.Channels, motion.Z)
	if err := c.MoveAbs(motion.Z, 1); !errors.Is(err, ErrNoChannel) {
		t.Errorf("expected ErrNoChannel, got %v", err)
	}
}

func TestControllerIsAStage(t *testing.T) {
	var _ motion.Stage = (*Controller)(nil)
}

func TestVelocity(t *testing.T) {
	c, f := setup(t)
	if err := c.SetVelocity(motion.Y, 5e8); err != nil {
		t.Fatal(err)
	}
	if sent := f.sent(); sent[0] != ":CHANnel1:VELocity 500000000;:SYSTem:ERRor?" {
		t.Errorf("unexpected transmission %q", sent[0])
	}
	v, err := c.GetVelocity(motion.Y)
	if err != nil {
		t.Fatal(err)
	}
	if v != DefaultVelocity {
		t.Errorf("expected %d pm/s, got %d", DefaultVelocity, v)
	}
}

func TestRaw(t *testing.T) {
	c, f := setup(t)
	resp, err := c.Raw(":CHANnel0:POSition?")
	if err != nil {
		t.Fatal(err)
	}
	if resp != "0" {
		t.Errorf("expected position 0, got %q", resp)
	}
	f.mu.Lock()
	f.errCode = 0x0200
	f.mu.Unlock()
	_, err = c.Raw(":CHANnel0:AMPLifier:ENABled 1")
	var de Error
	if !errors.As(err, &de) || de.DeviceCode() != 0x0200 {
		t.Errorf("expected the rejection as a controller error, got %v", err)
	}
	want := []string{
		":CHANnel0:POSition?;:SYSTem:ERRor?",
		":CHANnel0:AMPLifier:ENABled 1;:SYSTem:ERRor?",
	}
	if diff := cmp.Diff(want, f.sent()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}
