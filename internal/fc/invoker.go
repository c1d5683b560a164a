package fc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mavgcs/internal/bus"
	"mavgcs/internal/link"
	"mavgcs/internal/mavlink"
)

// Timeout/retry budget shared by every command flow in the app. The ack
// timeout bounds a single attempt; the outcome timeout bounds how long a
// caller waits for the physical action behind an accepted command.
const (
	DefaultAckTimeout     = 5 * time.Second
	DefaultMaxRetries     = 1
	DefaultOutcomeTimeout = 10 * time.Second
)

var (
	ErrNotConnected = errors.New("flight controller is not connected")
	ErrNoAck        = errors.New("no acknowledgment received")
)

// Sender transmits frames to the flight controller. Satisfied by *Service.
type Sender interface {
	SendFrame(ctx context.Context, msg mavlink.Message) error
	Connected() bool
}

// Invoker correlates COMMAND_LONG sends with their COMMAND_ACK within a
// bounded timeout, retransmitting a limited number of times.
type Invoker struct {
	logger          *slog.Logger
	bus             bus.MessageBus
	sender          Sender
	targetSystem    uint8
	targetComponent uint8
}

func NewInvoker(logger *slog.Logger, b bus.MessageBus, sender Sender, targetSystem, targetComponent uint8) *Invoker {
	return &Invoker{
		logger:          logger,
		bus:             b,
		sender:          sender,
		targetSystem:    targetSystem,
		targetComponent: targetComponent,
	}
}

// SendCommand transmits the command and returns the first matching ack from
// the flight controller. Whatever the ack's result, it is returned as-is: an
// Accepted/InProgress ack means the command was taken up, not that the action
// behind it completed, and a rejecting ack is the caller's to interpret.
// ErrNoAck is returned once the timeout budget across all attempts is spent.
func (i *Invoker) SendCommand(ctx context.Context, command uint16, params [7]float32, timeout time.Duration, maxRetries int) (mavlink.CommandAck, error) {
	if !i.sender.Connected() {
		return mavlink.CommandAck{}, ErrNotConnected
	}
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	// Subscribe before the first transmit so an ack cannot arrive in the gap
	// between send and listen.
	sub := i.bus.Subscribe(link.TopicFrame)
	defer i.bus.Unsubscribe(sub, link.TopicFrame)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		cmd := mavlink.CommandLong{
			Params:          params,
			Command:         command,
			TargetSystem:    i.targetSystem,
			TargetComponent: i.targetComponent,
			Confirmation:    uint8(attempt),
		}
		if err := i.sender.SendFrame(ctx, cmd); err != nil {
			return mavlink.CommandAck{}, fmt.Errorf("send command %d: %w", command, err)
		}

		ack, ok, err := i.awaitAck(ctx, sub, command, timeout)
		if err != nil {
			return mavlink.CommandAck{}, err
		}
		if ok {
			i.logger.Debug("command acked", "command", command, "result", ack.Result.String(), "attempt", attempt)
			return ack, nil
		}
		if attempt < maxRetries {
			i.logger.Debug("ack timeout, retransmitting", "command", command, "attempt", attempt)
		}
	}

	return mavlink.CommandAck{}, fmt.Errorf("command %d: %w", command, ErrNoAck)
}

func (i *Invoker) awaitAck(ctx context.Context, sub bus.Subscription, command uint16, timeout time.Duration) (mavlink.CommandAck, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return mavlink.CommandAck{}, false, ctx.Err()
		case <-timer.C:
			return mavlink.CommandAck{}, false, nil
		case raw, open := <-sub:
			if !open {
				return mavlink.CommandAck{}, false, errors.New("frame stream closed")
			}
			frame, isFrame := raw.(mavlink.Frame)
			if !isFrame {
				continue
			}
			if frame.SystemID != i.targetSystem || frame.ComponentID != i.targetComponent {
				continue
			}
			ack, isAck := frame.Message.(mavlink.CommandAck)
			if !isAck || ack.Command != command {
				continue
			}
			return ack, true, nil
		}
	}
}
