package motion_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ptycholab/ptycholab/motion"
	"github.com/ptycholab/ptycholab/util"
)

func ExampleMicronsToPicometres() {
	fmt.Println(motion.MicronsToPicometres(12.5), motion.MicronsToPicometres(-0.0000004))
	// Output: 12500000 0
}

func ExampleParseAxis() {
	a, _ := motion.ParseAxis("z")
	fmt.Println(a)
	// Output: Z
}

func TestParseAxisRejectsUnknown(t *testing.T) {
	if _, err := motion.ParseAxis("W"); err == nil {
		t.Error("expected an error for an unknown axis")
	}
}

func TestMockInstantMove(t *testing.T) {
	m := motion.NewMock()
	err := m.MoveGroup([]motion.Target{{Axis: motion.X, Pos: 100}, {Axis: motion.Y, Pos: -50}})
	if err != nil {
		t.Fatal(err)
	}
	x, _ := m.GetPos(motion.X)
	y, _ := m.GetPos(motion.Y)
	if x != 100 || y != -50 {
		t.Errorf("expected (100,-50), got (%d,%d)", x, y)
	}
}

func TestMockServoReachesTarget(t *testing.T) {
	m := motion.NewMock()
	m.Velocity = 1e9 // 1 mm/s, 1 µm per servo period
	if err := m.MoveAbs(motion.X, 20e6); err != nil {
		t.Fatal(err)
	}
	if !m.Moving(motion.X) {
		t.Error("expected axis to be moving right after the command")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.WaitForMotionComplete(ctx, motion.X); err != nil {
		t.Fatal(err)
	}
	if pos, _ := m.GetPos(motion.X); pos != 20e6 {
		t.Errorf("expected axis at 20e6 pm, got %d", pos)
	}
}

func TestMockWaitHonorsContext(t *testing.T) {
	m := motion.NewMock()
	m.Velocity = 1
	m.MoveAbs(motion.Z, 1e12)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.WaitForMotionComplete(ctx, motion.Z)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	m.StopGroup(motion.Z)
}

func TestMockStopGroupIsOneCall(t *testing.T) {
	m := motion.NewMock()
	m.Velocity = 1
	m.MoveGroup([]motion.Target{{Axis: motion.X, Pos: 1e9}, {Axis: motion.Y, Pos: 1e9}})
	m.SetHold(motion.Z, true)
	if err := m.StopGroup(motion.X, motion.Y, motion.Z); err != nil {
		t.Fatal(err)
	}
	if n := m.CallCount("StopGroup"); n != 1 {
		t.Errorf("expected one StopGroup call, got %d", n)
	}
	if m.Holding(motion.Z) {
		t.Error("expected stop to end the hold")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.WaitForMotionComplete(ctx, motion.X, motion.Y); err != nil {
		t.Errorf("expected stopped axes to settle, got %v", err)
	}
}

func TestMockFailOn(t *testing.T) {
	m := motion.NewMock()
	boom := errors.New("boom")
	m.FailOn("MoveGroup", boom)
	if err := m.MoveGroup([]motion.Target{{Axis: motion.X, Pos: 1}}); err != boom {
		t.Errorf("expected injected failure, got %v", err)
	}
	m.FailOn("MoveGroup", nil)
	if err := m.MoveGroup([]motion.Target{{Axis: motion.X, Pos: 1}}); err != nil {
		t.Errorf("expected failure to be cleared, got %v", err)
	}
}

func TestMockAmplifierDisabled(t *testing.T) {
	m := motion.NewMock()
	m.DisableAmplifier(motion.Y)
	err := m.MoveGroup([]motion.Target{{Axis: motion.X, Pos: 5}, {Axis: motion.Y, Pos: 5}})
	if err != motion.ErrAmplifierDisabled {
		t.Errorf("expected ErrAmplifierDisabled, got %v", err)
	}
	if pos, _ := m.GetPos(motion.X); pos != 0 {
		t.Errorf("expected no axis to move when one amplifier is off, X at %d", pos)
	}
}

func TestMockCallLog(t *testing.T) {
	m := motion.NewMock()
	m.MoveGroup([]motion.Target{{Axis: motion.X, Pos: 1}, {Axis: motion.Y, Pos: 2}})
	m.StopGroup(motion.X, motion.Y, motion.Z)
	want := []string{"MoveGroup X=1 Y=2", "StopGroup X,Y,Z"}
	if diff := cmp.Diff(want, m.Calls()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestLimitedRefusesOutOfRange(t *testing.T) {
	m := motion.NewMock()
	l := motion.Limited{Stage: m, Limits: map[motion.Axis]util.Limiter{motion.X: {Min: -10, Max: 10}}}
	err := l.MoveGroup([]motion.Target{{Axis: motion.X, Pos: motion.MicronsToPicometres(11)}, {Axis: motion.Y, Pos: 0}})
	if !errors.Is(err, motion.ErrLimit) {
		t.Errorf("expected ErrLimit, got %v", err)
	}
	if n := m.CallCount("MoveGroup"); n != 0 {
		t.Errorf("expected the move not to reach the stage, got %d calls", n)
	}
	if err := l.MoveAbs(motion.Y, motion.MicronsToPicometres(1e4)); err != nil {
		t.Errorf("expected unlimited axis to move freely, got %v", err)
	}
}
