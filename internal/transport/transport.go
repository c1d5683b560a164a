package transport

import "context"

// Transport is a byte link to the flight controller. ReadFrame returns one
// complete MAVLink packet (header through checksum/signature); WriteFrame
// sends an already-encoded packet.
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, packet []byte) error
}
