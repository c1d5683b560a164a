package param

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mavgcs/internal/bus"
	"mavgcs/internal/fc"
	"mavgcs/internal/link"
	"mavgcs/internal/mavlink"
	"mavgcs/internal/persistence"
)

const DefaultTimeout = 5 * time.Second

var (
	ErrTimeout = errors.New("no parameter response from flight controller")

	// ErrRejected means the flight controller echoed a different value than
	// the one written.
	ErrRejected = errors.New("parameter write rejected")
)

// Channel reads and writes named parameters over the command/echo substrate.
// Every operation is confirmed by the flight controller's echoed PARAM_VALUE;
// names are compared in their normalized wire form (upper-case, 16 chars).
type Channel struct {
	logger          *slog.Logger
	bus             bus.MessageBus
	sender          fc.Sender
	repo            *persistence.ParamRepo
	targetSystem    uint8
	targetComponent uint8
	timeout         time.Duration
}

// NewChannel builds a channel. repo may be nil to disable caching; with a
// repo, confirmed values are cached and Set skips writes of unchanged values.
func NewChannel(logger *slog.Logger, b bus.MessageBus, sender fc.Sender, repo *persistence.ParamRepo, targetSystem, targetComponent uint8) *Channel {
	if logger == nil {
		logger = slog.Default().With("component", "param")
	}
	return &Channel{
		logger:          logger,
		bus:             b,
		sender:          sender,
		repo:            repo,
		targetSystem:    targetSystem,
		targetComponent: targetComponent,
		timeout:         DefaultTimeout,
	}
}

// Start keeps the cache fresh from every PARAM_VALUE observed on the bus,
// including the full-list download performed elsewhere.
func (c *Channel) Start(ctx context.Context) {
	if c.repo == nil {
		return
	}
	sub := c.bus.Subscribe(link.TopicParamValue)
	go func() {
		defer c.bus.Unsubscribe(sub, link.TopicParamValue)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, open := <-sub:
				if !open {
					return
				}
				frame, isFrame := raw.(mavlink.Frame)
				if !isFrame || frame.SystemID != c.targetSystem {
					continue
				}
				if pv, isParam := frame.Message.(mavlink.ParamValue); isParam {
					c.cache(ctx, pv)
				}
			}
		}
	}()
}

// Request reads one parameter by name.
func (c *Channel) Request(ctx context.Context, name string) (mavlink.ParamValue, error) {
	if !c.sender.Connected() {
		return mavlink.ParamValue{}, fc.ErrNotConnected
	}
	wire := mavlink.NormalizeParamName(name)

	sub := fc.Filter(c.bus, c.paramEchoOf(wire))
	defer sub.Stop()

	req := mavlink.ParamRequestRead{
		Index:           -1, // by name
		TargetSystem:    c.targetSystem,
		TargetComponent: c.targetComponent,
		Name:            wire,
	}
	if err := c.sender.SendFrame(ctx, req); err != nil {
		return mavlink.ParamValue{}, fmt.Errorf("request param %s: %w", wire, err)
	}

	pv, ok := sub.First(ctx, c.timeout)
	if !ok {
		if err := ctx.Err(); err != nil {
			return mavlink.ParamValue{}, err
		}
		return mavlink.ParamValue{}, fmt.Errorf("param %s: %w", wire, ErrTimeout)
	}
	c.cache(ctx, pv)
	return pv, nil
}

// Set writes one parameter and waits for the echoed confirmation. The caller
// owns the wire type: the channel transmits exactly the width it is given,
// because a wrong width silently corrupts the value on real hardware. Unless
// force is set, a write whose value and type match the cached confirmation is
// skipped entirely.
func (c *Channel) Set(ctx context.Context, name string, value float32, typ mavlink.ParamType, force bool) (mavlink.ParamValue, error) {
	if !c.sender.Connected() {
		return mavlink.ParamValue{}, fc.ErrNotConnected
	}
	wire := mavlink.NormalizeParamName(name)

	if !force && c.repo != nil {
		rec, cached, err := c.repo.Get(ctx, wire)
		if err != nil {
			c.logger.Warn("param cache lookup failed", "param", wire, "error", err)
		} else if cached && rec.Value == value && rec.Type == typ {
			c.logger.Debug("param unchanged, skipping write", "param", wire, "value", value)
			return mavlink.ParamValue{Value: rec.Value, Count: rec.Count, Index: rec.Index, Name: rec.Name, Type: rec.Type}, nil
		}
	}

	sub := fc.Filter(c.bus, c.paramEchoOf(wire))
	defer sub.Stop()

	set := mavlink.ParamSet{
		Value:           value,
		TargetSystem:    c.targetSystem,
		TargetComponent: c.targetComponent,
		Name:            wire,
		Type:            typ,
	}
	if err := c.sender.SendFrame(ctx, set); err != nil {
		return mavlink.ParamValue{}, fmt.Errorf("set param %s: %w", wire, err)
	}

	pv, ok := sub.First(ctx, c.timeout)
	if !ok {
		if err := ctx.Err(); err != nil {
			return mavlink.ParamValue{}, err
		}
		return mavlink.ParamValue{}, fmt.Errorf("param %s: %w", wire, ErrTimeout)
	}
	c.cache(ctx, pv)
	if pv.Value != value {
		return pv, fmt.Errorf("param %s: %w: wrote %v, flight controller kept %v", wire, ErrRejected, value, pv.Value)
	}
	return pv, nil
}

type SetRequest struct {
	Name  string
	Value float32
	Type  mavlink.ParamType
}

type SetResult struct {
	Name  string
	Value mavlink.ParamValue
	Err   error
}

// SetMany writes parameters one after another, each with its own timeout.
// There is no atomicity or rollback: partial success is expected and reported
// per parameter.
func (c *Channel) SetMany(ctx context.Context, reqs []SetRequest, force bool) []SetResult {
	results := make([]SetResult, 0, len(reqs))
	for _, req := range reqs {
		pv, err := c.Set(ctx, req.Name, req.Value, req.Type, force)
		results = append(results, SetResult{Name: mavlink.NormalizeParamName(req.Name), Value: pv, Err: err})
	}
	return results
}

func (c *Channel) paramEchoOf(wire string) fc.Predicate[mavlink.ParamValue] {
	return func(f mavlink.Frame) (mavlink.ParamValue, bool) {
		if f.SystemID != c.targetSystem || f.ComponentID != c.targetComponent {
			return mavlink.ParamValue{}, false
		}
		pv, isParam := f.Message.(mavlink.ParamValue)
		if !isParam || mavlink.NormalizeParamName(pv.Name) != wire {
			return mavlink.ParamValue{}, false
		}
		return pv, true
	}
}

func (c *Channel) cache(ctx context.Context, pv mavlink.ParamValue) {
	if c.repo == nil {
		return
	}
	rec := persistence.ParamRecord{
		Name:      pv.Name,
		Value:     pv.Value,
		Type:      pv.Type,
		Index:     pv.Index,
		Count:     pv.Count,
		UpdatedAt: time.Now(),
	}
	if err := c.repo.Upsert(ctx, rec); err != nil {
		c.logger.Warn("cache param failed", "param", pv.Name, "error", err)
	}
}
