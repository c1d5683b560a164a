package calibration

import (
	"errors"
	"testing"
	"time"

	"mavgcs/internal/bus"
	"mavgcs/internal/mavlink"
)

func TestParsePositionPrompt(t *testing.T) {
	cases := []struct {
		text   string
		want   Position
		wantOK bool
	}{
		{"Place vehicle level and press any key.", PositionLevel, true},
		{"Place vehicle on its LEFT side", PositionLeft, true},
		{"place vehicle on right side and press any key", PositionRight, true},
		{"Place vehicle nose down", PositionNoseDown, true},
		{"Place vehicle nose-up", PositionNoseUp, true},
		{"Place vehicle NOSEDOWN", PositionNoseDown, true},
		{"Place vehicle on its back", PositionBack, true},
		{"Calibration successful", PositionNone, false},
		{"vehicle is level", PositionNone, false},
		{"Place vehicle somewhere comfortable", PositionNone, false},
	}
	for _, tc := range cases {
		got, ok := parsePositionPrompt(tc.text)
		if got != tc.want || ok != tc.wantOK {
			t.Fatalf("parsePositionPrompt(%q) = (%v, %v), want (%v, %v)", tc.text, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestAccelPositionFlow(t *testing.T) {
	b := bus.New(discardLogger())
	defer b.Close()
	cmd := &stubCommander{}
	s := startSession(t, KindAccel, b, cmd)

	waitPhase(t, s, PhaseInProgress)
	publishStatus(b, "Place vehicle level and press any key.")

	state := waitPhase(t, s, PhaseAwaitingUser)
	if state.Position != PositionLevel {
		t.Fatalf("prompted position = %v, want level", state.Position)
	}

	if err := s.ConfirmPosition(); err != nil {
		t.Fatalf("ConfirmPosition: %v", err)
	}
	waitPhase(t, s, PhaseInProgress)

	var confirm *sentCommand
	for _, call := range cmd.sent() {
		if call.id == mavlink.CmdAccelCalVehiclePos {
			c := call
			confirm = &c
		}
	}
	if confirm == nil {
		t.Fatalf("position confirmation was never sent: %+v", cmd.sent())
	}
	if confirm.params[0] != float32(PositionLevel) {
		t.Fatalf("confirmation param1 = %v, want %v", confirm.params[0], float32(PositionLevel))
	}

	publishStatus(b, "Place vehicle nose down")
	state = waitPhase(t, s, PhaseAwaitingUser)
	if state.Position != PositionNoseDown {
		t.Fatalf("second prompt position = %v, want nose down", state.Position)
	}
	if err := s.ConfirmPosition(); err != nil {
		t.Fatalf("second ConfirmPosition: %v", err)
	}
	waitPhase(t, s, PhaseInProgress)

	publishStatus(b, "Accel calibration successful")
	state = waitPhase(t, s, PhaseSuccess)
	if !state.Confirmed {
		t.Fatalf("explicit outcome must be confirmed")
	}
}

func TestConfirmPositionOutsidePrompt(t *testing.T) {
	b := bus.New(discardLogger())
	defer b.Close()
	cmd := &stubCommander{}
	s := startSession(t, KindAccel, b, cmd)

	waitPhase(t, s, PhaseInProgress)
	if err := s.ConfirmPosition(); !errors.Is(err, ErrNotAwaitingPosition) {
		t.Fatalf("expected ErrNotAwaitingPosition, got %v", err)
	}
}

func TestAccelPromptPausesInactivityWatchdog(t *testing.T) {
	b := bus.New(discardLogger())
	defer b.Close()
	cmd := &stubCommander{}
	s := startSession(t, KindAccel, b, cmd)

	waitPhase(t, s, PhaseInProgress)
	publishStatus(b, "Place vehicle on its back")
	waitPhase(t, s, PhaseAwaitingUser)

	// Longer than the progress window: a human taking their time must not
	// trip the no-progress failure while a prompt is outstanding.
	time.Sleep(shortOpts().ProgressWindow * 2)
	if got := s.State().Phase; got != PhaseAwaitingUser {
		t.Fatalf("session left awaiting_user during prompt: %s", got)
	}
}
