package mavlink

// Message ids handled by this codec.
const (
	MsgIDHeartbeat        uint32 = 0
	MsgIDParamRequestRead uint32 = 20
	MsgIDParamValue       uint32 = 22
	MsgIDParamSet         uint32 = 23
	MsgIDRCChannels       uint32 = 65
	MsgIDCommandLong      uint32 = 76
	MsgIDCommandAck       uint32 = 77
	MsgIDMagCalProgress   uint32 = 191
	MsgIDMagCalReport     uint32 = 192
	MsgIDStatusText       uint32 = 253
)

// MAV_CMD values. These are wire-level constants shared with the autopilot
// firmware and must never change.
const (
	CmdDoMotorTest          uint16 = 209
	CmdPreflightCalibration uint16 = 241
	CmdDoStartMagCal        uint16 = 42424
	CmdDoAcceptMagCal       uint16 = 42425
	CmdDoCancelMagCal       uint16 = 42426
	CmdAccelCalVehiclePos   uint16 = 42429
)

// Result is a MAV_RESULT code carried by COMMAND_ACK.
type Result uint8

const (
	ResultAccepted            Result = 0
	ResultTemporarilyRejected Result = 1
	ResultDenied              Result = 2
	ResultUnsupported         Result = 3
	ResultFailed              Result = 4
	ResultInProgress          Result = 5
	ResultCancelled           Result = 6
)

// IsProceeding reports whether the ack means the command was taken up by the
// autopilot. InProgress is as good as Accepted here; neither implies the
// underlying physical action finished.
func (r Result) IsProceeding() bool {
	return r == ResultAccepted || r == ResultInProgress
}

func (r Result) String() string {
	switch r {
	case ResultAccepted:
		return "accepted"
	case ResultTemporarilyRejected:
		return "temporarily_rejected"
	case ResultDenied:
		return "denied"
	case ResultUnsupported:
		return "unsupported"
	case ResultFailed:
		return "failed"
	case ResultInProgress:
		return "in_progress"
	case ResultCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ParamType is a MAV_PARAM_TYPE wire type. Callers of ParameterChannel.Set
// must supply the type matching the parameter's firmware definition; a wrong
// width silently corrupts the value on real hardware.
type ParamType uint8

const (
	ParamTypeUint8  ParamType = 1
	ParamTypeInt8   ParamType = 2
	ParamTypeUint16 ParamType = 3
	ParamTypeInt16  ParamType = 4
	ParamTypeUint32 ParamType = 5
	ParamTypeInt32  ParamType = 6
	ParamTypeReal32 ParamType = 9
)

func (t ParamType) String() string {
	switch t {
	case ParamTypeUint8:
		return "uint8"
	case ParamTypeInt8:
		return "int8"
	case ParamTypeUint16:
		return "uint16"
	case ParamTypeInt16:
		return "int16"
	case ParamTypeUint32:
		return "uint32"
	case ParamTypeInt32:
		return "int32"
	case ParamTypeReal32:
		return "real32"
	default:
		return "unknown"
	}
}

// CalStatus is a MAG_CAL_STATUS value carried by MAG_CAL_PROGRESS/REPORT.
type CalStatus uint8

const (
	CalStatusNotStarted     CalStatus = 0
	CalStatusWaitingToStart CalStatus = 1
	CalStatusRunningStepOne CalStatus = 2
	CalStatusRunningStepTwo CalStatus = 3
	CalStatusSuccess        CalStatus = 4
	CalStatusFailed         CalStatus = 5
	CalStatusBadOrientation CalStatus = 6
	CalStatusBadRadius      CalStatus = 7
)

// IsDone reports whether the status is a final verdict for one compass unit.
func (s CalStatus) IsDone() bool {
	return s >= CalStatusSuccess
}

func (s CalStatus) IsSuccess() bool {
	return s == CalStatusSuccess
}
