package calibration

import "strings"

// Position is one of the six vehicle orientations requested during
// accelerometer calibration; values match ACCELCAL_VEHICLE_POS param1.
type Position uint8

const (
	PositionNone     Position = 0
	PositionLevel    Position = 1
	PositionLeft     Position = 2
	PositionRight    Position = 3
	PositionNoseDown Position = 4
	PositionNoseUp   Position = 5
	PositionBack     Position = 6
)

func (p Position) String() string {
	switch p {
	case PositionLevel:
		return "level"
	case PositionLeft:
		return "left side"
	case PositionRight:
		return "right side"
	case PositionNoseDown:
		return "nose down"
	case PositionNoseUp:
		return "nose up"
	case PositionBack:
		return "on its back"
	default:
		return "unknown"
	}
}

// parsePositionPrompt recognizes firmware "place vehicle ..." prompts against
// a fixed keyword vocabulary. Prompt wording is not a protocol contract and
// drifts between firmware releases; there is no structured fallback, so this
// stays deliberately loose.
func parsePositionPrompt(text string) (Position, bool) {
	t := strings.ToLower(text)
	if !strings.Contains(t, "place") {
		return PositionNone, false
	}

	switch {
	case strings.Contains(t, "nose down"), strings.Contains(t, "nosedown"), strings.Contains(t, "nose-down"):
		return PositionNoseDown, true
	case strings.Contains(t, "nose up"), strings.Contains(t, "noseup"), strings.Contains(t, "nose-up"):
		return PositionNoseUp, true
	case strings.Contains(t, "left"):
		return PositionLeft, true
	case strings.Contains(t, "right"):
		return PositionRight, true
	case strings.Contains(t, "back"):
		return PositionBack, true
	case strings.Contains(t, "level"):
		return PositionLevel, true
	default:
		return PositionNone, false
	}
}
