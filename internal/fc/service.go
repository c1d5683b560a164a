package fc

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"mavgcs/internal/bus"
	"mavgcs/internal/link"
	"mavgcs/internal/mavlink"
	"mavgcs/internal/transport"
)

const (
	heartbeatInterval = 1 * time.Second
	heartbeatStale    = 5 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 5 * time.Second
)

// Service owns the link to the flight controller: it keeps the transport
// connected, decodes inbound packets onto the bus, and emits the GCS
// heartbeat. It is the single writer to the transport.
type Service struct {
	logger      *slog.Logger
	bus         bus.MessageBus
	transport   transport.Transport
	codec       *mavlink.Codec
	fcSystem    uint8
	fcComponent uint8

	mu            sync.Mutex
	transportUp   bool
	lastHeartbeat time.Time
}

func NewService(logger *slog.Logger, b bus.MessageBus, tr transport.Transport, codec *mavlink.Codec, fcSystem, fcComponent uint8) *Service {
	return &Service{
		logger:      logger,
		bus:         b,
		transport:   tr,
		codec:       codec,
		fcSystem:    fcSystem,
		fcComponent: fcComponent,
	}
}

func (s *Service) Start(ctx context.Context) {
	go s.runConnector(ctx)
}

// Connected reports whether the transport is up and a flight-controller
// heartbeat arrived recently. Commands are pointless without both.
func (s *Service) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transportUp && time.Since(s.lastHeartbeat) < heartbeatStale
}

// SendFrame encodes and transmits one message, stamping the GCS ids.
func (s *Service) SendFrame(ctx context.Context, msg mavlink.Message) error {
	packet, err := s.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode msg %d: %w", msg.MsgID(), err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := s.transport.WriteFrame(writeCtx, packet); err != nil {
		return fmt.Errorf("write msg %d: %w", msg.MsgID(), err)
	}
	s.bus.Publish(link.TopicRawFrameOut, link.RawFrame{Hex: strings.ToUpper(hex.EncodeToString(packet)), Len: len(packet)})

	return nil
}

func (s *Service) runConnector(ctx context.Context) {
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		s.publishConnStatus(link.ConnectionStateConnecting, nil)
		if err := s.transport.Connect(ctx); err != nil {
			s.publishConnStatus(link.ConnectionStateReconnecting, err)
			s.logger.Error("transport connect failed", "error", err)
			if !sleepWithContext(ctx, backoff) {
				return
			}
			if backoff < 15*time.Second {
				backoff *= 2
			}
			continue
		}

		backoff = time.Second
		s.setTransportUp(true)
		s.publishConnStatus(link.ConnectionStateConnected, nil)

		hbCtx, cancelHeartbeat := context.WithCancel(ctx)
		go s.runHeartbeat(hbCtx)
		err := s.runReader(ctx)
		cancelHeartbeat()
		s.setTransportUp(false)
		_ = s.transport.Close()
		s.publishConnStatus(link.ConnectionStateReconnecting, err)

		if !sleepWithContext(ctx, backoff) {
			return
		}
		if backoff < 15*time.Second {
			backoff *= 2
		}
	}
}

func (s *Service) runReader(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		readCtx, cancel := context.WithTimeout(ctx, readTimeout)
		packet, err := s.transport.ReadFrame(readCtx)
		cancel()
		if err != nil {
			return err
		}

		s.bus.Publish(link.TopicRawFrameIn, link.RawFrame{Hex: strings.ToUpper(hex.EncodeToString(packet)), Len: len(packet)})
		frame, err := mavlink.Decode(packet)
		if err != nil {
			if errors.Is(err, mavlink.ErrUnknownMessage) {
				continue
			}
			s.logger.Warn("decode packet failed", "error", err)
			continue
		}
		s.dispatch(frame)
	}
}

// dispatch fans a decoded frame out: every frame on the frame topic, plus a
// per-type topic for consumers that only care about one message kind.
func (s *Service) dispatch(frame mavlink.Frame) {
	s.bus.Publish(link.TopicFrame, frame)

	switch msg := frame.Message.(type) {
	case mavlink.Heartbeat:
		if frame.SystemID == s.fcSystem {
			s.markHeartbeat()
		}
		s.bus.Publish(link.TopicHeartbeat, frame)
	case mavlink.CommandAck:
		s.bus.Publish(link.TopicCommandAck, frame)
	case mavlink.StatusText:
		s.logger.Debug("statustext", "severity", msg.Severity, "text", msg.Text)
		s.bus.Publish(link.TopicStatusText, frame)
	case mavlink.ParamValue:
		s.bus.Publish(link.TopicParamValue, frame)
	case mavlink.MagCalProgress:
		s.bus.Publish(link.TopicCalProgress, frame)
	case mavlink.MagCalReport:
		s.bus.Publish(link.TopicCalReport, frame)
	}
}

func (s *Service) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	hb := mavlink.Heartbeat{Type: 6, Autopilot: 8, MavlinkVersion: 3} // GCS, invalid autopilot
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SendFrame(ctx, hb); err != nil {
				s.logger.Debug("heartbeat send failed", "error", err)
			}
		}
	}
}

func (s *Service) setTransportUp(up bool) {
	s.mu.Lock()
	s.transportUp = up
	if !up {
		s.lastHeartbeat = time.Time{}
	}
	s.mu.Unlock()
}

func (s *Service) markHeartbeat() {
	s.mu.Lock()
	s.lastHeartbeat = time.Now()
	s.mu.Unlock()
}

func (s *Service) publishConnStatus(state link.ConnectionState, err error) {
	status := link.ConnStatus{
		State:         state,
		TransportName: s.transport.Name(),
		Timestamp:     time.Now(),
	}
	if err != nil {
		status.Err = err.Error()
	}
	s.bus.Publish(link.TopicConnStatus, status)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
