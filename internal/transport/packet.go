package transport

import (
	"fmt"
	"io"
)

const (
	magicV1 = 0xFE
	magicV2 = 0xFD

	v1Overhead   = 8  // magic+len+seq+sys+comp+msgid+crc16
	v2Overhead   = 12 // magic+len+flags2+seq+sys+comp+msgid24+crc16
	signatureLen = 13

	flagSigned = 0x01
)

type readFullFunc func(buf []byte) error

// readPacket scans the byte stream for the next MAVLink packet boundary and
// returns the whole packet, resynchronizing past garbage between packets.
func readPacket(readFull readFullFunc) ([]byte, error) {
	magic, err := resyncToMagic(readFull)
	if err != nil {
		return nil, err
	}

	var lenBuf [1]byte
	if err := readFull(lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read payload length: %w", err)
	}
	payloadLen := int(lenBuf[0])

	switch magic {
	case magicV1:
		rest := make([]byte, 4+payloadLen+2)
		if err := readFull(rest); err != nil {
			return nil, fmt.Errorf("read v1 packet body: %w", err)
		}
		return assemble(magic, lenBuf[0], rest), nil
	default: // magicV2
		head := make([]byte, 8)
		if err := readFull(head); err != nil {
			return nil, fmt.Errorf("read v2 header: %w", err)
		}
		tailLen := payloadLen + 2
		if head[0]&flagSigned != 0 {
			tailLen += signatureLen
		}
		tail := make([]byte, tailLen)
		if err := readFull(tail); err != nil {
			return nil, fmt.Errorf("read v2 packet body: %w", err)
		}
		return assemble(magic, lenBuf[0], head, tail), nil
	}
}

func assemble(magic, length byte, parts ...[]byte) []byte {
	total := 2
	for _, p := range parts {
		total += len(p)
	}
	packet := make([]byte, 0, total)
	packet = append(packet, magic, length)
	for _, p := range parts {
		packet = append(packet, p...)
	}
	return packet
}

func resyncToMagic(readFull readFullFunc) (byte, error) {
	buf := make([]byte, 1)
	for {
		if err := readFull(buf); err != nil {
			return 0, fmt.Errorf("read packet magic: %w", err)
		}
		if buf[0] == magicV1 || buf[0] == magicV2 {
			return buf[0], nil
		}
	}
}

func ioReadFullFunc(r io.Reader) readFullFunc {
	return func(buf []byte) error {
		_, err := io.ReadFull(r, buf)

		return err
	}
}
