package calibration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mavgcs/internal/bus"
	"mavgcs/internal/fc"
	"mavgcs/internal/link"
	"mavgcs/internal/mavlink"
)

// Phase is the observable state of one calibration attempt.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseStarting     Phase = "starting"
	PhaseInProgress   Phase = "in_progress"
	PhaseAwaitingUser Phase = "awaiting_user"
	PhaseSuccess      Phase = "success"
	PhaseFailed       Phase = "failed"
	PhaseCancelled    Phase = "cancelled"
)

func (p Phase) Terminal() bool {
	return p == PhaseSuccess || p == PhaseFailed || p == PhaseCancelled
}

// ChannelRange is the observed travel of one RC channel in raw PWM units.
type ChannelRange struct {
	Min uint16
	Max uint16
}

// State is a snapshot of a session, published on the calibration update topic
// after every change. Instruction always carries a human-readable line; for
// an unconfirmed Success it says explicitly that no confirmation was seen.
type State struct {
	Kind            Kind
	Phase           Phase
	Instruction     string
	Position        Position
	Progress        int
	Confirmed       bool
	FailedCompasses []uint8
	ChannelRanges   map[int]ChannelRange
	Err             error
}

// Options are the per-session timeout budgets. Each layered wait gets its own
// fresh budget; they are not folded into a single deadline.
type Options struct {
	AckTimeout     time.Duration
	OutcomeTimeout time.Duration
	ProgressWindow time.Duration
	MaxRetries     int
}

func (o Options) withDefaults() Options {
	if o.AckTimeout <= 0 {
		o.AckTimeout = fc.DefaultAckTimeout
	}
	if o.OutcomeTimeout <= 0 {
		o.OutcomeTimeout = fc.DefaultOutcomeTimeout
	}
	if o.ProgressWindow <= 0 {
		o.ProgressWindow = 30 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	return o
}

// CommandSender is the command/ack substrate. Satisfied by *fc.Invoker.
type CommandSender interface {
	SendCommand(ctx context.Context, command uint16, params [7]float32, timeout time.Duration, maxRetries int) (mavlink.CommandAck, error)
}

type stopper interface{ Stop() }

// Session drives one calibration attempt through its state machine. A session
// is single-shot: once terminal it stays terminal, and a fresh attempt needs
// a fresh session.
type Session struct {
	plan    plan
	logger  *slog.Logger
	bus     bus.MessageBus
	invoker CommandSender
	opts    Options

	mu        sync.Mutex
	state     State
	started   bool
	runCancel context.CancelFunc
	subs      []stopper

	confirmCh chan Position
	done      chan struct{}
	agg       *compassAggregate
}

func New(kind Kind, logger *slog.Logger, b bus.MessageBus, invoker CommandSender, opts Options) (*Session, error) {
	p, err := planFor(kind)
	if err != nil {
		return nil, err
	}
	return newSession(p, logger, b, invoker, opts), nil
}

// NewMotorTest builds a motor-test session for one motor. Throttle is percent
// of full range; out-of-range values are rejected before anything is sent.
func NewMotorTest(logger *slog.Logger, b bus.MessageBus, invoker CommandSender, opts Options, motor int, throttlePct float64, duration time.Duration) (*Session, error) {
	p, err := motorPlan(motor, throttlePct, duration)
	if err != nil {
		return nil, err
	}
	return newSession(p, logger, b, invoker, opts), nil
}

func newSession(p plan, logger *slog.Logger, b bus.MessageBus, invoker CommandSender, opts Options) *Session {
	if logger == nil {
		logger = slog.Default().With("component", "calibration")
	}
	s := &Session{
		plan:      p,
		logger:    logger.With("kind", string(p.kind)),
		bus:       b,
		invoker:   invoker,
		opts:      opts.withDefaults(),
		confirmCh: make(chan Position, 1),
		done:      make(chan struct{}),
		state:     State{Kind: p.kind, Phase: PhaseIdle},
	}
	if p.structured {
		s.agg = newCompassAggregate()
	}
	return s
}

func (s *Session) Kind() Kind {
	return s.plan.kind
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Done is closed when the session's run loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start attaches all listeners and then issues the start command. Listeners
// attach before the command is transmitted so a fast response cannot slip
// past them. Start can be called once per session.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.state.Phase.Terminal() {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel

	statusSub := fc.Filter(s.bus, statusTextOf)
	s.subs = append(s.subs, statusSub)
	var progressSub *fc.Subscription[mavlink.MagCalProgress]
	var reportSub *fc.Subscription[mavlink.MagCalReport]
	var rcSub *fc.Subscription[mavlink.RCChannels]
	if s.plan.structured {
		progressSub = fc.Filter(s.bus, magCalProgressOf)
		reportSub = fc.Filter(s.bus, magCalReportOf)
		s.subs = append(s.subs, progressSub, reportSub)
	}
	if s.plan.captureRC {
		rcSub = fc.Filter(s.bus, rcChannelsOf)
		s.subs = append(s.subs, rcSub)
	}
	s.mu.Unlock()

	s.transition(func(st *State) {
		st.Phase = PhaseStarting
		st.Instruction = "starting " + string(s.plan.kind) + " calibration"
	})

	go s.run(runCtx, statusSub, progressSub, reportSub, rcSub)
	return nil
}

// Cancel is available from any non-terminal phase. The session transitions to
// Cancelled and tears its listeners down first; the kind-specific stop
// command then goes out best-effort, whether or not it gets acked.
func (s *Session) Cancel() {
	moved := s.transition(func(st *State) {
		st.Phase = PhaseCancelled
		st.Position = PositionNone
		st.Instruction = "calibration cancelled"
	})
	if !moved {
		return
	}

	cancelCmd := s.plan.cancel
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.AckTimeout)
		defer cancel()
		if _, err := s.invoker.SendCommand(ctx, cancelCmd.id, cancelCmd.params, s.opts.AckTimeout, 0); err != nil {
			s.logger.Debug("cancel command not acknowledged", "error", err)
		}
	}()
}

// ConfirmPosition acknowledges the currently prompted vehicle position during
// accelerometer calibration.
func (s *Session) ConfirmPosition() error {
	s.mu.Lock()
	if s.state.Phase != PhaseAwaitingUser {
		s.mu.Unlock()
		return ErrNotAwaitingPosition
	}
	pos := s.state.Position
	s.mu.Unlock()

	select {
	case s.confirmCh <- pos:
	default:
	}
	return nil
}

// Accept persists a successful compass calibration. Without it the computed
// offsets are discarded on reboot; after it the flight controller must be
// rebooted for them to apply.
func (s *Session) Accept(ctx context.Context) error {
	s.mu.Lock()
	available := s.plan.acceptable && s.state.Phase == PhaseSuccess
	s.mu.Unlock()
	if !available {
		return ErrAcceptNotAvailable
	}

	ack, err := s.invoker.SendCommand(ctx, mavlink.CmdDoAcceptMagCal, [7]float32{}, s.opts.AckTimeout, s.opts.MaxRetries)
	if err != nil {
		return fmt.Errorf("accept compass calibration: %w", err)
	}
	if !ack.Result.IsProceeding() {
		return &CommandRejectedError{Result: ack.Result}
	}
	s.annotate("calibration saved; reboot the flight controller to apply it")
	return nil
}

func (s *Session) run(
	ctx context.Context,
	statusSub *fc.Subscription[mavlink.StatusText],
	progressSub *fc.Subscription[mavlink.MagCalProgress],
	reportSub *fc.Subscription[mavlink.MagCalReport],
	rcSub *fc.Subscription[mavlink.RCChannels],
) {
	defer close(s.done)
	defer s.teardown()

	statusCh := statusSub.Events()
	var progressCh <-chan mavlink.MagCalProgress
	var reportCh <-chan mavlink.MagCalReport
	var rcCh <-chan mavlink.RCChannels
	if progressSub != nil {
		progressCh = progressSub.Events()
	}
	if reportSub != nil {
		reportCh = reportSub.Events()
	}
	if rcSub != nil {
		rcCh = rcSub.Events()
	}

	ack, err := s.invoker.SendCommand(ctx, s.plan.start.id, s.plan.start.params, s.opts.AckTimeout, s.opts.MaxRetries)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.fail(err, "calibration command failed: "+err.Error())
		return
	}

	proceeding := ack.Result.IsProceeding()
	if proceeding {
		if s.plan.ackOnlySuccess {
			s.succeed(true, "motor test accepted by flight controller")
			return
		}
		s.transition(func(st *State) {
			st.Phase = PhaseInProgress
			st.Instruction = "calibration in progress"
		})
	}
	// A rejecting ack is not final yet: a success status line inside the
	// outcome window still redeems it.

	// The timer's role depends on the plan. Progress-bearing kinds get an
	// inactivity watchdog reset on every signal and paused while a human is
	// being prompted; keyword-only kinds get a final-outcome window after
	// which completion is assumed.
	window := func() time.Duration {
		if proceeding && s.plan.requiresProgress {
			return s.opts.ProgressWindow
		}
		return s.opts.OutcomeTimeout
	}
	timer := time.NewTimer(window())
	defer timer.Stop()
	paused := false
	sawSignal := false

	drain := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
	reset := func() {
		if paused {
			return
		}
		drain()
		timer.Reset(window())
	}

	for {
		select {
		case <-ctx.Done():
			return

		case msg, open := <-statusCh:
			if !open {
				return
			}
			sawSignal = true
			switch s.plan.matchOutcome(msg.Text) {
			case outcomeSuccess:
				s.succeed(true, msg.Text)
				return
			case outcomeFailure:
				s.fail(fmt.Errorf("flight controller reported: %s", msg.Text), msg.Text)
				return
			}
			if s.plan.positional {
				if pos, prompted := parsePositionPrompt(msg.Text); prompted {
					paused = true
					drain()
					s.transition(func(st *State) {
						st.Phase = PhaseAwaitingUser
						st.Position = pos
						st.Instruction = msg.Text
					})
					continue
				}
			}
			if proceeding {
				reset()
			}

		case p, open := <-progressCh:
			if !open {
				return
			}
			sawSignal = true
			s.agg.noteProgress(p)
			pct := s.agg.overallCompletion()
			s.transition(func(st *State) { st.Progress = pct })
			if proceeding {
				reset()
			}

		case r, open := <-reportCh:
			if !open {
				return
			}
			sawSignal = true
			s.agg.noteReport(r)
			pct := s.agg.overallCompletion()
			s.transition(func(st *State) { st.Progress = pct })
			if s.agg.complete() {
				if ids := s.agg.failedIDs(); len(ids) > 0 {
					aggErr := &PartialFailureError{FailedIDs: ids}
					s.fail(aggErr, aggErr.Error())
				} else {
					s.succeed(true, "compass calibration complete")
				}
				return
			}
			if proceeding {
				reset()
			}

		case rc, open := <-rcCh:
			if !open {
				return
			}
			// Channel traffic flows whether or not the user is moving the
			// sticks, so it does not feed the watchdog.
			s.noteRCChannels(rc)

		case pos := <-s.confirmCh:
			if err := s.sendPositionConfirm(ctx, pos); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.fail(err, "position confirmation failed: "+err.Error())
				return
			}
			s.transition(func(st *State) {
				st.Phase = PhaseInProgress
				st.Position = PositionNone
				st.Instruction = "waiting for next position prompt"
			})
			paused = false
			reset()

		case <-timer.C:
			if !proceeding {
				rejErr := &CommandRejectedError{Result: ack.Result}
				s.fail(rejErr, rejErr.Error())
				return
			}
			if s.plan.requiresProgress {
				instruction := "calibration stalled: flight controller stopped reporting progress"
				if !sawSignal {
					instruction = "calibration produced no progress or status signals"
				}
				s.fail(ErrNoProgress, instruction)
				return
			}
			// Some firmware performs the action without confirming it.
			s.succeed(false, "no explicit confirmation received; assuming calibration completed")
			return
		}
	}
}

func (s *Session) sendPositionConfirm(ctx context.Context, pos Position) error {
	params := [7]float32{float32(pos)}
	ack, err := s.invoker.SendCommand(ctx, mavlink.CmdAccelCalVehiclePos, params, s.opts.AckTimeout, 0)
	if err != nil {
		return err
	}
	if !ack.Result.IsProceeding() {
		return &CommandRejectedError{Result: ack.Result}
	}
	return nil
}

func (s *Session) noteRCChannels(rc mavlink.RCChannels) {
	n := int(rc.ChanCount)
	if n > len(rc.Channels) {
		n = len(rc.Channels)
	}
	s.transition(func(st *State) {
		if st.ChannelRanges == nil {
			st.ChannelRanges = make(map[int]ChannelRange)
		}
		for i := 0; i < n; i++ {
			v := rc.Channels[i]
			if v == 0 || v == 0xFFFF {
				continue
			}
			r, seen := st.ChannelRanges[i+1]
			if !seen {
				r = ChannelRange{Min: v, Max: v}
			}
			if v < r.Min {
				r.Min = v
			}
			if v > r.Max {
				r.Max = v
			}
			st.ChannelRanges[i+1] = r
		}
	})
}

func (s *Session) succeed(confirmed bool, instruction string) {
	s.transition(func(st *State) {
		st.Phase = PhaseSuccess
		st.Confirmed = confirmed
		if confirmed {
			st.Progress = 100
		}
		st.Position = PositionNone
		st.Instruction = instruction
	})
}

func (s *Session) fail(err error, instruction string) {
	s.transition(func(st *State) {
		st.Phase = PhaseFailed
		st.Err = err
		st.Position = PositionNone
		st.Instruction = instruction
		var partial *PartialFailureError
		if errors.As(err, &partial) {
			st.FailedCompasses = partial.FailedIDs
		}
	})
}

// transition applies mutate unless the session is already terminal: terminal
// phases are sticky, so a second verdict arriving late is a no-op rather than
// an error. On entering a terminal phase every listener is stopped before the
// update is published, so no stale signal can land afterwards.
func (s *Session) transition(mutate func(*State)) bool {
	s.mu.Lock()
	if s.state.Phase.Terminal() {
		s.mu.Unlock()
		return false
	}
	mutate(&s.state)
	snapshot := s.snapshotLocked()
	var subs []stopper
	var cancelRun context.CancelFunc
	if s.state.Phase.Terminal() {
		subs = s.subs
		s.subs = nil
		cancelRun = s.runCancel
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Stop()
	}
	if cancelRun != nil {
		cancelRun()
	}
	s.publish(snapshot)
	return true
}

// annotate updates the status line without a phase change; unlike transition
// it is allowed in terminal phases (Accept reports the reboot requirement).
func (s *Session) annotate(instruction string) {
	s.mu.Lock()
	s.state.Instruction = instruction
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snapshot)
}

func (s *Session) teardown() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	cancelRun := s.runCancel
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Stop()
	}
	if cancelRun != nil {
		cancelRun()
	}
}

func (s *Session) publish(snapshot State) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(link.TopicCalibrationUpdate, snapshot)
}

func (s *Session) snapshotLocked() State {
	snapshot := s.state
	if s.state.ChannelRanges != nil {
		ranges := make(map[int]ChannelRange, len(s.state.ChannelRanges))
		for ch, r := range s.state.ChannelRanges {
			ranges[ch] = r
		}
		snapshot.ChannelRanges = ranges
	}
	snapshot.FailedCompasses = append([]uint8(nil), s.state.FailedCompasses...)
	return snapshot
}

func statusTextOf(f mavlink.Frame) (mavlink.StatusText, bool) {
	m, ok := f.Message.(mavlink.StatusText)
	return m, ok
}

func magCalProgressOf(f mavlink.Frame) (mavlink.MagCalProgress, bool) {
	m, ok := f.Message.(mavlink.MagCalProgress)
	return m, ok
}

func magCalReportOf(f mavlink.Frame) (mavlink.MagCalReport, bool) {
	m, ok := f.Message.(mavlink.MagCalReport)
	return m, ok
}

func rcChannelsOf(f mavlink.Frame) (mavlink.RCChannels, bool) {
	m, ok := f.Message.(mavlink.RCChannels)
	return m, ok
}
