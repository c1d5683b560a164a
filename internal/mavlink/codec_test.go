package mavlink

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestEncodeDecodeCommandLong(t *testing.T) {
	codec := NewCodec(255, 190)

	in := CommandLong{
		Params:          [7]float32{0, 1, 0, 0, 0, 0, 0},
		Command:         CmdDoStartMagCal,
		TargetSystem:    1,
		TargetComponent: 1,
		Confirmation:    0,
	}
	packet, err := codec.Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	frame, err := Decode(packet)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.SystemID != 255 || frame.ComponentID != 190 {
		t.Fatalf("unexpected sender ids: %d/%d", frame.SystemID, frame.ComponentID)
	}
	out, ok := frame.Message.(CommandLong)
	if !ok {
		t.Fatalf("unexpected message type: %T", frame.Message)
	}
	if out != in {
		t.Fatalf("roundtrip mismatch: got %+v want %+v", out, in)
	}
}

func TestEncodeTruncatesTrailingZeros(t *testing.T) {
	codec := NewCodec(1, 1)

	packet, err := codec.Encode(StatusText{Severity: 6, Text: "Baro"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// severity + 4 text chars survive; the rest of the 51-byte payload is
	// zero and must be trimmed.
	if payloadLen := int(packet[1]); payloadLen != 5 {
		t.Fatalf("unexpected payload length: %d", payloadLen)
	}

	frame, err := Decode(packet)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	st := frame.Message.(StatusText)
	if st.Text != "Baro" || st.Severity != 6 {
		t.Fatalf("unexpected statustext: %+v", st)
	}
}

func TestDecodeRejectsCorruptedChecksum(t *testing.T) {
	codec := NewCodec(1, 1)
	packet, err := codec.Encode(CommandAck{Command: CmdPreflightCalibration, Result: ResultAccepted})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	packet[len(packet)-1] ^= 0xFF

	if _, err := Decode(packet); !errors.Is(err, ErrBadChecksum) {
		t.Fatalf("expected checksum error, got %v", err)
	}
}

func TestDecodeV1CommandAck(t *testing.T) {
	payload := make([]byte, 3)
	binary.LittleEndian.PutUint16(payload, CmdPreflightCalibration)
	payload[2] = byte(ResultInProgress)

	packet := make([]byte, 0, 8+len(payload))
	packet = append(packet, 0xFE, byte(len(payload)), 7, 1, 1, byte(MsgIDCommandAck))
	packet = append(packet, payload...)
	crc := x25Sum(packet[1:], crcExtras[MsgIDCommandAck])
	packet = append(packet, byte(crc), byte(crc>>8))

	frame, err := Decode(packet)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ack := frame.Message.(CommandAck)
	if ack.Command != CmdPreflightCalibration || ack.Result != ResultInProgress {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}

func TestDecodeUnknownMessageID(t *testing.T) {
	codec := NewCodec(1, 1)
	packet, err := codec.Encode(Heartbeat{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	packet[7] = 0x21 // some id this codec does not know

	if _, err := Decode(packet); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("expected unknown message error, got %v", err)
	}
}

func TestNormalizeParamName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"batt_capacity", "BATT_CAPACITY"},
		{"Batt_Capacity", "BATT_CAPACITY"},
		{" FS_THR_ENABLE ", "FS_THR_ENABLE"},
		{"A_VERY_LONG_PARAMETER_NAME", "A_VERY_LONG_PARA"},
	}
	for _, tc := range cases {
		if got := NormalizeParamName(tc.in); got != tc.want {
			t.Fatalf("NormalizeParamName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMagCalReportRoundtrip(t *testing.T) {
	codec := NewCodec(1, 1)
	in := MagCalReport{
		Fitness:   3.2,
		Offsets:   Vec3{X: 1.5, Y: -2, Z: 0.25},
		CompassID: 1,
		Status:    CalStatusFailed,
	}
	packet, err := codec.Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	frame, err := Decode(packet)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out := frame.Message.(MagCalReport)
	if out != in {
		t.Fatalf("roundtrip mismatch: got %+v want %+v", out, in)
	}
}
