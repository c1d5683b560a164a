package link

const (
	TopicConnStatus        = "conn.status"
	TopicFrame             = "fc.frame"
	TopicHeartbeat         = "fc.heartbeat"
	TopicCommandAck        = "fc.command_ack"
	TopicStatusText        = "fc.statustext"
	TopicParamValue        = "fc.param_value"
	TopicCalProgress       = "fc.cal_progress"
	TopicCalReport         = "fc.cal_report"
	TopicCalibrationUpdate = "calibration.update"
	TopicRawFrameIn        = "raw.frame.in"
	TopicRawFrameOut       = "raw.frame.out"
)
