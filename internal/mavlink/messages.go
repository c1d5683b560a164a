package mavlink

import "strings"

// ParamNameLen is the fixed identifier width of parameter names on the wire.
const ParamNameLen = 16

// Vec3 is a float triple used by calibration progress/report payloads.
type Vec3 struct {
	X, Y, Z float32
}

// Message is one decoded MAVLink payload.
type Message interface {
	MsgID() uint32
}

// Frame is a decoded inbound packet: who sent it plus its payload. Frames are
// immutable once published; subscribers must not modify them.
type Frame struct {
	SystemID    uint8
	ComponentID uint8
	Message     Message
}

type Heartbeat struct {
	CustomMode     uint32
	Type           uint8
	Autopilot      uint8
	BaseMode       uint8
	SystemStatus   uint8
	MavlinkVersion uint8
}

func (Heartbeat) MsgID() uint32 { return MsgIDHeartbeat }

type CommandLong struct {
	Params          [7]float32
	Command         uint16
	TargetSystem    uint8
	TargetComponent uint8
	Confirmation    uint8
}

func (CommandLong) MsgID() uint32 { return MsgIDCommandLong }

type CommandAck struct {
	Command uint16
	Result  Result
}

func (CommandAck) MsgID() uint32 { return MsgIDCommandAck }

type StatusText struct {
	Severity uint8
	Text     string
}

func (StatusText) MsgID() uint32 { return MsgIDStatusText }

type MagCalProgress struct {
	Direction     Vec3
	CompassID     uint8
	CalMask       uint8
	Status        CalStatus
	Attempt       uint8
	CompletionPct uint8
}

func (MagCalProgress) MsgID() uint32 { return MsgIDMagCalProgress }

type MagCalReport struct {
	Fitness   float32
	Offsets   Vec3
	Diag      Vec3
	OffDiag   Vec3
	CompassID uint8
	CalMask   uint8
	Status    CalStatus
	Autosaved uint8
}

func (MagCalReport) MsgID() uint32 { return MsgIDMagCalReport }

type ParamValue struct {
	Value float32
	Count uint16
	Index uint16
	Name  string
	Type  ParamType
}

func (ParamValue) MsgID() uint32 { return MsgIDParamValue }

type ParamRequestRead struct {
	Index           int16
	TargetSystem    uint8
	TargetComponent uint8
	Name            string
}

func (ParamRequestRead) MsgID() uint32 { return MsgIDParamRequestRead }

type ParamSet struct {
	Value           float32
	TargetSystem    uint8
	TargetComponent uint8
	Name            string
	Type            ParamType
}

func (ParamSet) MsgID() uint32 { return MsgIDParamSet }

// RCChannels carries raw RC input readings, used during RC calibration to
// capture per-channel travel ranges.
type RCChannels struct {
	TimeBootMs uint32
	Channels   [18]uint16
	ChanCount  uint8
	RSSI       uint8
}

func (RCChannels) MsgID() uint32 { return MsgIDRCChannels }

// NormalizeParamName maps a human-entered parameter name to its wire identity:
// upper-cased and truncated to the fixed 16-char width. Two names are the same
// parameter iff their normalized forms are equal.
func NormalizeParamName(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	if len(name) > ParamNameLen {
		name = name[:ParamNameLen]
	}
	return name
}
