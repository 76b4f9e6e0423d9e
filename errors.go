package adpulse

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by the intent entry points.
var (
	ErrClosed             = errors.New("dashboard closed")
	ErrInvalidCampaign    = errors.New("campaign id must be >= 1")
	ErrUnknownCampaign    = errors.New("campaign not in catalog")
	ErrCatalogUnavailable = errors.New("campaign catalog not loaded")
	ErrTotalsOverflow     = errors.New("snapshot would overflow accumulated totals")
)

// ErrorKind classifies a failed fetch. Only the fetcher cares about the
// distinction; the store treats every kind the same.
type ErrorKind int

const (
	KindNetwork ErrorKind = iota
	KindServer
	KindClient
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	case KindValidation:
		return "validation"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Retryable reports whether another attempt could change the outcome.
func (k ErrorKind) Retryable() bool {
	return k == KindNetwork || k == KindServer
}

// FetchError is the typed failure surfaced by the fetcher once it gives up.
type FetchError struct {
	Endpoint string
	Kind     ErrorKind
	Status   int // 0 when no HTTP response was received
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Kind == KindValidation {
		return fmt.Sprintf("%s: invalid payload: %v", e.Endpoint, e.Err)
	}

	msg := fmt.Sprintf("%s %s: %s error", e.Endpoint, attemptsLabel(e.Attempts), e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func attemptsLabel(n int) string {
	if n == 1 {
		return "failed after 1 attempt"
	}
	return fmt.Sprintf("failed after %d attempts", n)
}

// ErrorDescriptor is the store-level projection of a failure.
type ErrorDescriptor struct {
	Kind     ErrorKind
	Endpoint string
	Status   int
	Message  string
	At       time.Time
}

// Describe converts any fetch failure into an ErrorDescriptor.
func Describe(err error, at time.Time) ErrorDescriptor {
	d := ErrorDescriptor{
		Kind:    KindNetwork,
		Message: err.Error(),
		At:      at,
	}

	var fe *FetchError
	if errors.As(err, &fe) {
		d.Kind = fe.Kind
		d.Endpoint = fe.Endpoint
		d.Status = fe.Status
		return d
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		d.Kind = KindValidation
	}
	return d
}
