package calibration

import (
	"errors"
	"fmt"
	"sort"

	"mavgcs/internal/mavlink"
)

var (
	// ErrNoProgress means the start command was acked but the firmware went
	// silent: zero progress or status signals inside the bounded window. The
	// command layer succeeded, so this is distinct from an ack timeout.
	ErrNoProgress = errors.New("no calibration progress observed")

	// ErrInvalidInput marks caller-supplied values rejected before any
	// command is sent (out-of-range throttle, bad motor index).
	ErrInvalidInput = errors.New("invalid input")

	ErrAlreadyStarted      = errors.New("calibration session already started")
	ErrNotAwaitingPosition = errors.New("session is not awaiting a position confirmation")
	ErrAcceptNotAvailable  = errors.New("accept is only available for a successful compass calibration")
)

// CommandRejectedError is a non-accepted ack that no later status line
// redeemed within the outcome window.
type CommandRejectedError struct {
	Result mavlink.Result
}

func (e *CommandRejectedError) Error() string {
	return fmt.Sprintf("calibration command rejected by flight controller: %s", e.Result)
}

// PartialFailureError reports which compass units failed when the others
// succeeded.
type PartialFailureError struct {
	FailedIDs []uint8
}

func (e *PartialFailureError) Error() string {
	ids := append([]uint8(nil), e.FailedIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return fmt.Sprintf("calibration failed for compass units %v", ids)
}
