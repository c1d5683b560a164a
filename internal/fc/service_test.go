package fc

import (
	"context"
	"sync"
	"testing"
	"time"

	"mavgcs/internal/bus"
	"mavgcs/internal/link"
	"mavgcs/internal/mavlink"
)

// stubTransport feeds queued packets to the reader and records every write.
// An empty queue reads like a quiet serial line: nothing until more data is
// queued or the context expires.
type stubTransport struct {
	mu      sync.Mutex
	inbound [][]byte
	written [][]byte
}

func (s *stubTransport) Name() string                  { return "stub" }
func (s *stubTransport) Connect(context.Context) error { return nil }
func (s *stubTransport) Close() error                  { return nil }

func (s *stubTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	for {
		s.mu.Lock()
		if len(s.inbound) > 0 {
			packet := s.inbound[0]
			s.inbound = s.inbound[1:]
			s.mu.Unlock()
			return packet, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (s *stubTransport) WriteFrame(_ context.Context, packet []byte) error {
	s.mu.Lock()
	s.written = append(s.written, append([]byte(nil), packet...))
	s.mu.Unlock()
	return nil
}

func (s *stubTransport) queue(packet []byte) {
	s.mu.Lock()
	s.inbound = append(s.inbound, packet)
	s.mu.Unlock()
}

func encodeFrom(t *testing.T, systemID, componentID uint8, msg mavlink.Message) []byte {
	t.Helper()
	packet, err := mavlink.NewCodec(systemID, componentID).Encode(msg)
	if err != nil {
		t.Fatalf("encode %T: %v", msg, err)
	}
	return packet
}

func TestServiceDispatchesDecodedFrames(t *testing.T) {
	b := bus.New(discardLogger())
	defer b.Close()
	tr := &stubTransport{}
	tr.queue(encodeFrom(t, 1, 1, mavlink.Heartbeat{Type: 2}))
	tr.queue(encodeFrom(t, 1, 1, mavlink.StatusText{Severity: 6, Text: "ready"}))

	frames := b.Subscribe(link.TopicFrame)
	statuses := b.Subscribe(link.TopicStatusText)

	svc := NewService(discardLogger(), b, tr, mavlink.NewCodec(255, 190), 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	for i := 0; i < 2; i++ {
		select {
		case raw := <-frames:
			if _, ok := raw.(mavlink.Frame); !ok {
				t.Fatalf("unexpected payload on frame topic: %T", raw)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %d never dispatched", i)
		}
	}

	select {
	case raw := <-statuses:
		frame := raw.(mavlink.Frame)
		if st := frame.Message.(mavlink.StatusText); st.Text != "ready" {
			t.Fatalf("unexpected statustext: %+v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("statustext never reached its topic")
	}
}

func TestServiceConnectedNeedsRecentHeartbeat(t *testing.T) {
	b := bus.New(discardLogger())
	defer b.Close()
	tr := &stubTransport{}

	svc := NewService(discardLogger(), b, tr, mavlink.NewCodec(255, 190), 1, 1)
	if svc.Connected() {
		t.Fatalf("must not report connected before Start")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	// Transport comes up immediately, but no heartbeat has arrived yet.
	time.Sleep(50 * time.Millisecond)
	if svc.Connected() {
		t.Fatalf("transport alone must not count as connected")
	}

	tr.queue(encodeFrom(t, 1, 1, mavlink.Heartbeat{Type: 2}))
	deadline := time.Now().Add(2 * time.Second)
	for !svc.Connected() {
		if time.Now().After(deadline) {
			t.Fatalf("heartbeat never marked the link connected")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServiceIgnoresForeignHeartbeat(t *testing.T) {
	b := bus.New(discardLogger())
	defer b.Close()
	tr := &stubTransport{}
	// Another GCS on the same link.
	tr.queue(encodeFrom(t, 254, 190, mavlink.Heartbeat{Type: 6}))

	svc := NewService(discardLogger(), b, tr, mavlink.NewCodec(255, 190), 1, 1)
	heartbeats := b.Subscribe(link.TopicHeartbeat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	select {
	case <-heartbeats:
	case <-time.After(2 * time.Second):
		t.Fatalf("heartbeat never dispatched")
	}
	if svc.Connected() {
		t.Fatalf("foreign heartbeat must not mark the autopilot connected")
	}
}

func TestSendFramePublishesRawCopy(t *testing.T) {
	b := bus.New(discardLogger())
	defer b.Close()
	tr := &stubTransport{}
	svc := NewService(discardLogger(), b, tr, mavlink.NewCodec(255, 190), 1, 1)

	rawOut := b.Subscribe(link.TopicRawFrameOut)
	if err := svc.SendFrame(context.Background(), mavlink.Heartbeat{Type: 6}); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}

	tr.mu.Lock()
	writes := len(tr.written)
	tr.mu.Unlock()
	if writes != 1 {
		t.Fatalf("expected 1 write, got %d", writes)
	}

	select {
	case raw := <-rawOut:
		rf := raw.(link.RawFrame)
		if rf.Len == 0 || rf.Hex == "" {
			t.Fatalf("empty raw frame mirror: %+v", rf)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("raw outbound frame never published")
	}
}
