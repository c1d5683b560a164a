package calibration

import (
	"fmt"
	"strings"
	"time"

	"mavgcs/internal/mavlink"
)

// Kind names one calibration flow.
type Kind string

const (
	KindCompass Kind = "compass"
	KindAccel   Kind = "accel"
	KindBaro    Kind = "baro"
	KindESC     Kind = "esc"
	KindRC      Kind = "rc"
	KindMotor   Kind = "motor"
)

type command struct {
	id     uint16
	params [7]float32
}

// plan describes how one calibration kind is driven: which command starts it,
// how it is stopped, and which signals decide its outcome.
type plan struct {
	kind     Kind
	start    command
	cancel   command
	keywords []string

	structured       bool // compass MAG_CAL_PROGRESS/REPORT aggregation
	positional       bool // accel position prompt/confirm loop
	captureRC        bool // record RC channel travel ranges
	requiresProgress bool // silence after an accepted ack is a failure
	acceptable       bool // compass two-step save via DO_ACCEPT_MAG_CAL
	ackOnlySuccess   bool // an accepted ack is the terminal success (motor test)
}

// Kinds without a firmware cancel command are stopped best-effort by
// re-sending the preflight-calibration command with all-neutral parameters.
var neutralPreflight = command{id: mavlink.CmdPreflightCalibration}

func planFor(kind Kind) (plan, error) {
	switch kind {
	case KindCompass:
		return plan{
			kind: kind,
			// mag bitmask 0 = all compasses, one retry, no autosave so the
			// result stays pending until Accept.
			start:            command{id: mavlink.CmdDoStartMagCal, params: [7]float32{0, 1, 0, 0, 0, 0, 0}},
			cancel:           command{id: mavlink.CmdDoCancelMagCal},
			keywords:         []string{"mag", "compass"},
			structured:       true,
			requiresProgress: true,
			acceptable:       true,
		}, nil
	case KindAccel:
		return plan{
			kind:             kind,
			start:            command{id: mavlink.CmdPreflightCalibration, params: [7]float32{0, 0, 0, 0, 1, 0, 0}},
			cancel:           neutralPreflight,
			keywords:         []string{"accel", "imu"},
			positional:       true,
			requiresProgress: true,
		}, nil
	case KindBaro:
		return plan{
			kind:     kind,
			start:    command{id: mavlink.CmdPreflightCalibration, params: [7]float32{0, 0, 1, 0, 0, 0, 0}},
			cancel:   neutralPreflight,
			keywords: []string{"baro", "barometer", "pressure"},
		}, nil
	case KindESC:
		return plan{
			kind:     kind,
			start:    command{id: mavlink.CmdPreflightCalibration, params: [7]float32{0, 0, 0, 0, 0, 0, 3}},
			cancel:   neutralPreflight,
			keywords: []string{"esc"},
		}, nil
	case KindRC:
		return plan{
			kind:      kind,
			start:     command{id: mavlink.CmdPreflightCalibration, params: [7]float32{0, 0, 0, 1, 0, 0, 0}},
			cancel:    neutralPreflight,
			keywords:  []string{"rc", "radio", "trim"},
			captureRC: true,
		}, nil
	case KindMotor:
		return plan{}, fmt.Errorf("motor test needs explicit parameters; use NewMotorTest")
	default:
		return plan{}, fmt.Errorf("unknown calibration kind: %q", kind)
	}
}

func motorPlan(motor int, throttlePct float64, duration time.Duration) (plan, error) {
	if motor < 1 {
		return plan{}, fmt.Errorf("%w: motor index %d (first motor is 1)", ErrInvalidInput, motor)
	}
	if throttlePct < 0 || throttlePct > 100 {
		return plan{}, fmt.Errorf("%w: throttle %.1f%% out of range 0-100", ErrInvalidInput, throttlePct)
	}
	if duration <= 0 {
		return plan{}, fmt.Errorf("%w: non-positive test duration %s", ErrInvalidInput, duration)
	}

	// param2 = 0 selects percent throttle type.
	return plan{
		kind:           KindMotor,
		start:          command{id: mavlink.CmdDoMotorTest, params: [7]float32{float32(motor), 0, float32(throttlePct), float32(duration.Seconds()), 0, 0, 0}},
		cancel:         command{id: mavlink.CmdDoMotorTest, params: [7]float32{float32(motor), 0, 0, 0, 0, 0, 0}},
		keywords:       []string{"motor"},
		ackOnlySuccess: true,
	}, nil
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeSuccess
	outcomeFailure
)

var (
	successWords = []string{"success", "complete", "done"}
	failureWords = []string{"fail", "error", "abort"}
)

// matchOutcome classifies a free-text status line for this plan's kind. The
// line must name the subsystem and carry an outcome word; anything else is
// not a verdict.
func (p plan) matchOutcome(text string) outcome {
	t := strings.ToLower(text)

	named := false
	for _, kw := range p.keywords {
		if strings.Contains(t, kw) {
			named = true
			break
		}
	}
	if !named {
		return outcomeNone
	}

	for _, w := range failureWords {
		if strings.Contains(t, w) {
			return outcomeFailure
		}
	}
	for _, w := range successWords {
		if strings.Contains(t, w) {
			return outcomeSuccess
		}
	}
	return outcomeNone
}
