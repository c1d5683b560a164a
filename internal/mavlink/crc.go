package mavlink

// x25Accumulate folds one byte into the X.25 checksum (CRC-16/MCRF4XX) used
// by MAVLink.
func x25Accumulate(crc uint16, b byte) uint16 {
	tmp := b ^ byte(crc&0xFF)
	tmp ^= tmp << 4
	return (crc >> 8) ^ (uint16(tmp) << 8) ^ (uint16(tmp) << 3) ^ (uint16(tmp) >> 4)
}

func x25Sum(data []byte, extra byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = x25Accumulate(crc, b)
	}
	return x25Accumulate(crc, extra)
}

// crcExtras holds the per-message CRC seed derived from each message's XML
// definition. A packet whose msgid is missing here cannot be validated and is
// skipped by the decoder.
var crcExtras = map[uint32]byte{
	MsgIDHeartbeat:        50,
	MsgIDParamRequestRead: 214,
	MsgIDParamValue:       220,
	MsgIDParamSet:         168,
	MsgIDRCChannels:       118,
	MsgIDCommandLong:      152,
	MsgIDCommandAck:       143,
	MsgIDMagCalProgress:   92,
	MsgIDMagCalReport:     36,
	MsgIDStatusText:       83,
}
