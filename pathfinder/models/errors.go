package models

import (
	"errors"
	"fmt"
)

// ErrorKind tags every error that crosses a package boundary in the router.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	// KindUnsupportedChain: no adapter or chain entry for a chain name. Caller-correctable.
	KindUnsupportedChain
	// KindTranslation: intent parameters malformed or action unsupported. Caller-correctable.
	KindTranslation
	// KindVerification: a proof failed a cryptographic check. Do not retry with the same proof.
	KindVerification
	// KindRouting: no path, unknown endpoints or invalid hop bound.
	KindRouting
	// KindNetwork: transport failure inside an adapter. Retry with backoff is allowed.
	KindNetwork
	// KindInvalidProof: a light-client update was rejected. Fatal for that update.
	KindInvalidProof
)

var kindNames = map[ErrorKind]string{
	KindUnknown:          "Unknown",
	KindUnsupportedChain: "UnsupportedChain",
	KindTranslation:      "TranslationError",
	KindVerification:     "VerificationError",
	KindRouting:          "RoutingError",
	KindNetwork:          "NetworkError",
	KindInvalidProof:     "InvalidProof",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

// Error is the tagged error value used across the router.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

// NewError creates a tagged error with a human readable detail.
func NewError(kind ErrorKind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// WrapError tags err with kind. The original error stays reachable through errors.Unwrap.
func WrapError(kind ErrorKind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Detail != "":
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, models.ErrRouting) works
// regardless of the detail text.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Detail == "" && t.Err == nil && t.Kind == e.Kind
}

// Retryable reports whether the operation that produced the error may be retried.
func (e *Error) Retryable() bool { return e.Kind == KindNetwork }

// Kind sentinels for errors.Is.
var (
	ErrUnsupportedChain = &Error{Kind: KindUnsupportedChain}
	ErrTranslation      = &Error{Kind: KindTranslation}
	ErrVerification     = &Error{Kind: KindVerification}
	ErrRouting          = &Error{Kind: KindRouting}
	ErrNetwork          = &Error{Kind: KindNetwork}
	ErrInvalidProof     = &Error{Kind: KindInvalidProof}
)

// KindOf returns the kind of the first tagged error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Stage names the step of the router pipeline that failed.
type Stage string

const (
	StageRouting       Stage = "routing"
	StageAdapterLookup Stage = "adapter-lookup"
	StageTranslation   Stage = "translation"
	StageVerification  Stage = "verification"
	StageSubmission    Stage = "submission"
)

// StageError tags an error with the pipeline stage it came from. The wrapped
// kind is preserved, it is never converted.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// AtStage wraps err with stage, or returns nil when err is nil.
func AtStage(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}
