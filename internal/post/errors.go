package post

import (
	"errors"
	"strings"
)

// Kind classifies why a run did not fully succeed.
type Kind string

const (
	KindSourceUnavailable Kind = "SOURCE_UNAVAILABLE"
	KindMalformedSource   Kind = "MALFORMED_SOURCE"
	KindAssetNotFound     Kind = "ASSET_NOT_FOUND"
	KindDeliveryFailed    Kind = "DELIVERY_FAILED"
	KindPinFailed         Kind = "PIN_FAILED"
	KindInternal          Kind = "INTERNAL"
)

// Error is the typed failure carried through a run.
type Error struct {
	Kind   Kind
	Op     string
	Source string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Source != "" {
		b.WriteString(" [")
		b.WriteString(e.Source)
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an *Error.
func E(kind Kind, op, source string, err error) *Error {
	return &Error{Kind: kind, Op: op, Source: source, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

func IsKind(err error, k Kind) bool { return err != nil && KindOf(err) == k }
