package anomaly

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failed train or diagnose call.
type Kind string

const (
	KindInsufficientAudio  Kind = "insufficient_audio"
	KindProfileNotFound    Kind = "profile_not_found"
	KindCorruptProfile     Kind = "corrupt_profile"
	KindTrainingInProgress Kind = "training_in_progress"
	KindInvalidMode        Kind = "invalid_mode"
	KindAudioUnreadable    Kind = "audio_unreadable"
	KindCanceled           Kind = "canceled"
	KindInternal           Kind = "internal"
)

// Op names the operation that failed.
type Op string

const (
	OpTrain    Op = "train"
	OpDiagnose Op = "diagnose"
)

var (
	ErrInsufficientAudio  = errors.New("insufficient audio")
	ErrProfileNotFound    = errors.New("profile not found")
	ErrCorruptProfile     = errors.New("corrupt profile")
	ErrTrainingInProgress = errors.New("training already in progress")
	ErrInvalidMode        = errors.New("invalid mode")
	ErrAudioUnreadable    = errors.New("audio unreadable")

	// ErrTrainingFailed matches every error returned by Calibrator.Train.
	ErrTrainingFailed = errors.New("training failed")
)

var kindSentinels = map[Kind]error{
	KindInsufficientAudio:  ErrInsufficientAudio,
	KindProfileNotFound:    ErrProfileNotFound,
	KindCorruptProfile:     ErrCorruptProfile,
	KindTrainingInProgress: ErrTrainingInProgress,
	KindInvalidMode:        ErrInvalidMode,
	KindAudioUnreadable:    ErrAudioUnreadable,
}

// Error is the error type returned by Calibrator and Diagnostician.
type Error struct {
	Op   Op
	Mode Mode
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Op, e.Mode, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of e's Kind, and ErrTrainingFailed for any
// training error.
func (e *Error) Is(target error) bool {
	if target == ErrTrainingFailed {
		return e.Op == OpTrain
	}
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// NewError builds an *Error, classifying context errors as KindCanceled.
func NewError(op Op, mode Mode, kind Kind, err error) *Error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		kind = KindCanceled
	}
	return &Error{Op: op, Mode: mode, Kind: kind, Err: err}
}
