package mavlink

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
)

const (
	magicV1 = 0xFE
	magicV2 = 0xFD

	// incompat flag marking a signed v2 packet (13-byte signature trailer).
	flagSigned = 0x01
)

var (
	ErrUnknownMessage = errors.New("unknown message id")
	ErrBadChecksum    = errors.New("bad checksum")
	ErrTruncated      = errors.New("truncated packet")
)

// Codec encodes outbound messages as MAVLink v2 packets and decodes inbound
// v1/v2 packets. It owns the outbound sequence counter and the GCS
// system/component ids stamped on every outbound packet.
type Codec struct {
	systemID    uint8
	componentID uint8

	mu  sync.Mutex
	seq uint8
}

func NewCodec(systemID, componentID uint8) *Codec {
	return &Codec{systemID: systemID, componentID: componentID}
}

func (c *Codec) Encode(msg Message) ([]byte, error) {
	extra, ok := crcExtras[msg.MsgID()]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, msg.MsgID())
	}
	payload, err := marshalPayload(msg)
	if err != nil {
		return nil, err
	}

	// v2 trailing-zero truncation; at least one payload byte stays.
	plen := len(payload)
	for plen > 1 && payload[plen-1] == 0 {
		plen--
	}

	c.mu.Lock()
	seq := c.seq
	c.seq++
	c.mu.Unlock()

	id := msg.MsgID()
	packet := make([]byte, 10+plen+2)
	packet[0] = magicV2
	packet[1] = byte(plen)
	packet[2] = 0 // incompat flags
	packet[3] = 0 // compat flags
	packet[4] = seq
	packet[5] = c.systemID
	packet[6] = c.componentID
	packet[7] = byte(id)
	packet[8] = byte(id >> 8)
	packet[9] = byte(id >> 16)
	copy(packet[10:], payload[:plen])

	crc := x25Sum(packet[1:10+plen], extra)
	binary.LittleEndian.PutUint16(packet[10+plen:], crc)

	return packet, nil
}

// Decode parses one complete packet as returned by the transport's packet
// reader. Unknown message ids yield ErrUnknownMessage so callers can skip
// traffic this core does not care about.
func Decode(packet []byte) (Frame, error) {
	if len(packet) < 3 {
		return Frame{}, ErrTruncated
	}

	var (
		id      uint32
		sysID   uint8
		compID  uint8
		payload []byte
		crcAt   int
		summed  []byte
	)

	switch packet[0] {
	case magicV2:
		plen := int(packet[1])
		if len(packet) < 12+plen {
			return Frame{}, ErrTruncated
		}
		sysID = packet[5]
		compID = packet[6]
		id = uint32(packet[7]) | uint32(packet[8])<<8 | uint32(packet[9])<<16
		payload = packet[10 : 10+plen]
		crcAt = 10 + plen
		summed = packet[1 : 10+plen]
	case magicV1:
		plen := int(packet[1])
		if len(packet) < 8+plen {
			return Frame{}, ErrTruncated
		}
		sysID = packet[3]
		compID = packet[4]
		id = uint32(packet[5])
		payload = packet[6 : 6+plen]
		crcAt = 6 + plen
		summed = packet[1 : 6+plen]
	default:
		return Frame{}, fmt.Errorf("unexpected magic byte 0x%02X", packet[0])
	}

	extra, ok := crcExtras[id]
	if !ok {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnknownMessage, id)
	}
	want := binary.LittleEndian.Uint16(packet[crcAt : crcAt+2])
	if got := x25Sum(summed, extra); got != want {
		return Frame{}, fmt.Errorf("%w: msg %d: got %04X want %04X", ErrBadChecksum, id, got, want)
	}

	msg, err := unmarshalPayload(id, payload)
	if err != nil {
		return Frame{}, err
	}

	return Frame{SystemID: sysID, ComponentID: compID, Message: msg}, nil
}

func marshalPayload(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case Heartbeat:
		buf := make([]byte, 9)
		binary.LittleEndian.PutUint32(buf[0:], m.CustomMode)
		buf[4] = m.Type
		buf[5] = m.Autopilot
		buf[6] = m.BaseMode
		buf[7] = m.SystemStatus
		buf[8] = m.MavlinkVersion
		return buf, nil
	case CommandLong:
		buf := make([]byte, 33)
		for i, p := range m.Params {
			putFloat32(buf[i*4:], p)
		}
		binary.LittleEndian.PutUint16(buf[28:], m.Command)
		buf[30] = m.TargetSystem
		buf[31] = m.TargetComponent
		buf[32] = m.Confirmation
		return buf, nil
	case CommandAck:
		buf := make([]byte, 3)
		binary.LittleEndian.PutUint16(buf[0:], m.Command)
		buf[2] = byte(m.Result)
		return buf, nil
	case StatusText:
		buf := make([]byte, 51)
		buf[0] = m.Severity
		putFixedString(buf[1:51], m.Text)
		return buf, nil
	case ParamRequestRead:
		buf := make([]byte, 20)
		binary.LittleEndian.PutUint16(buf[0:], uint16(m.Index))
		buf[2] = m.TargetSystem
		buf[3] = m.TargetComponent
		putFixedString(buf[4:20], m.Name)
		return buf, nil
	case ParamValue:
		buf := make([]byte, 25)
		putFloat32(buf[0:], m.Value)
		binary.LittleEndian.PutUint16(buf[4:], m.Count)
		binary.LittleEndian.PutUint16(buf[6:], m.Index)
		putFixedString(buf[8:24], m.Name)
		buf[24] = byte(m.Type)
		return buf, nil
	case ParamSet:
		buf := make([]byte, 23)
		putFloat32(buf[0:], m.Value)
		buf[4] = m.TargetSystem
		buf[5] = m.TargetComponent
		putFixedString(buf[6:22], m.Name)
		buf[22] = byte(m.Type)
		return buf, nil
	case MagCalProgress:
		buf := make([]byte, 27)
		putFloat32(buf[0:], m.Direction.X)
		putFloat32(buf[4:], m.Direction.Y)
		putFloat32(buf[8:], m.Direction.Z)
		buf[12] = m.CompassID
		buf[13] = m.CalMask
		buf[14] = byte(m.Status)
		buf[15] = m.Attempt
		buf[16] = m.CompletionPct
		return buf, nil
	case MagCalReport:
		buf := make([]byte, 44)
		putFloat32(buf[0:], m.Fitness)
		putVec3(buf[4:], m.Offsets)
		putVec3(buf[16:], m.Diag)
		putVec3(buf[28:], m.OffDiag)
		buf[40] = m.CompassID
		buf[41] = m.CalMask
		buf[42] = byte(m.Status)
		buf[43] = m.Autosaved
		return buf, nil
	case RCChannels:
		buf := make([]byte, 42)
		binary.LittleEndian.PutUint32(buf[0:], m.TimeBootMs)
		for i, ch := range m.Channels {
			binary.LittleEndian.PutUint16(buf[4+i*2:], ch)
		}
		buf[40] = m.ChanCount
		buf[41] = m.RSSI
		return buf, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
}

func unmarshalPayload(id uint32, payload []byte) (Message, error) {
	switch id {
	case MsgIDHeartbeat:
		p := padded(payload, 9)
		return Heartbeat{
			CustomMode:     binary.LittleEndian.Uint32(p[0:]),
			Type:           p[4],
			Autopilot:      p[5],
			BaseMode:       p[6],
			SystemStatus:   p[7],
			MavlinkVersion: p[8],
		}, nil
	case MsgIDCommandLong:
		p := padded(payload, 33)
		var m CommandLong
		for i := range m.Params {
			m.Params[i] = float32At(p, i*4)
		}
		m.Command = binary.LittleEndian.Uint16(p[28:])
		m.TargetSystem = p[30]
		m.TargetComponent = p[31]
		m.Confirmation = p[32]
		return m, nil
	case MsgIDCommandAck:
		p := padded(payload, 3)
		return CommandAck{
			Command: binary.LittleEndian.Uint16(p[0:]),
			Result:  Result(p[2]),
		}, nil
	case MsgIDStatusText:
		p := padded(payload, 51)
		return StatusText{Severity: p[0], Text: fixedString(p[1:51])}, nil
	case MsgIDParamRequestRead:
		p := padded(payload, 20)
		return ParamRequestRead{
			Index:           int16(binary.LittleEndian.Uint16(p[0:])),
			TargetSystem:    p[2],
			TargetComponent: p[3],
			Name:            fixedString(p[4:20]),
		}, nil
	case MsgIDParamValue:
		p := padded(payload, 25)
		return ParamValue{
			Value: float32At(p, 0),
			Count: binary.LittleEndian.Uint16(p[4:]),
			Index: binary.LittleEndian.Uint16(p[6:]),
			Name:  fixedString(p[8:24]),
			Type:  ParamType(p[24]),
		}, nil
	case MsgIDParamSet:
		p := padded(payload, 23)
		return ParamSet{
			Value:           float32At(p, 0),
			TargetSystem:    p[4],
			TargetComponent: p[5],
			Name:            fixedString(p[6:22]),
			Type:            ParamType(p[22]),
		}, nil
	case MsgIDMagCalProgress:
		p := padded(payload, 27)
		return MagCalProgress{
			Direction:     vec3At(p, 0),
			CompassID:     p[12],
			CalMask:       p[13],
			Status:        CalStatus(p[14]),
			Attempt:       p[15],
			CompletionPct: p[16],
		}, nil
	case MsgIDMagCalReport:
		p := padded(payload, 44)
		return MagCalReport{
			Fitness:   float32At(p, 0),
			Offsets:   vec3At(p, 4),
			Diag:      vec3At(p, 16),
			OffDiag:   vec3At(p, 28),
			CompassID: p[40],
			CalMask:   p[41],
			Status:    CalStatus(p[42]),
			Autosaved: p[43],
		}, nil
	case MsgIDRCChannels:
		p := padded(payload, 42)
		var m RCChannels
		m.TimeBootMs = binary.LittleEndian.Uint32(p[0:])
		for i := range m.Channels {
			m.Channels[i] = binary.LittleEndian.Uint16(p[4+i*2:])
		}
		m.ChanCount = p[40]
		m.RSSI = p[41]
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, id)
	}
}

// padded restores the trailing zero bytes a v2 sender may have truncated.
func padded(payload []byte, n int) []byte {
	if len(payload) >= n {
		return payload
	}
	p := make([]byte, n)
	copy(p, payload)
	return p
}

func putFloat32(dst []byte, v float32) {
	binary.LittleEndian.PutUint32(dst, math.Float32bits(v))
}

func float32At(p []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(p[off:]))
}

func putVec3(dst []byte, v Vec3) {
	putFloat32(dst[0:], v.X)
	putFloat32(dst[4:], v.Y)
	putFloat32(dst[8:], v.Z)
}

func vec3At(p []byte, off int) Vec3 {
	return Vec3{X: float32At(p, off), Y: float32At(p, off+4), Z: float32At(p, off+8)}
}

func putFixedString(dst []byte, s string) {
	copy(dst, s)
}

func fixedString(src []byte) string {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		src = src[:i]
	}
	return string(src)
}
