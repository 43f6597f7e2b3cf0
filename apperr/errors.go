// Package apperr provides the structured error types shared across
// dsengine's packages: a small typed wrapper (Error) carrying the error
// kind the rest of the engine branches on, sentinel values for
// errors.Is comparisons, and Chain, which joins independent per-node
// failures into the single ";"-separated message a fan-out run reports.
package apperr

import (
	"errors"
	"strings"
)

// Kind classifies an error for branching and logging, mirroring the
// error kinds enumerated in the update engine's error handling design.
type Kind string

const (
	KindConfig        Kind = "config"
	KindInterpolation Kind = "interpolation"
	KindHTTP          Kind = "http"
	KindTransport     Kind = "transport"
	KindJSON          Kind = "json"
	KindWrite         Kind = "write"
	KindDeadline      Kind = "deadline"
	KindStorage       Kind = "storage"
)

// JSON sub-kinds, reported via Error.Sub.
const (
	SubBadPath  = "bad_path"
	SubBadJSON  = "bad_json"
	SubEvalErr  = "eval_error"
)

// Sentinel errors for comparison with errors.Is.
var (
	ErrReservedID       = errors.New("data source id is reserved")
	ErrNotFound         = errors.New("data source not found")
	ErrDeadlineExceeded = errors.New("update deadline exceeded")
	ErrPolicyServer     = errors.New("policy server not found for node")
	ErrNotImplemented   = errors.New("request mode not implemented")
)

// Error is a structured, context-carrying error. Op identifies the
// operation that failed (e.g. "manager.Save", "fanout.runNode"), ID is
// the optional entity id involved (a data source id or node id), and Err
// is the underlying cause, preserved for errors.Unwrap/errors.Is.
type Error struct {
	Op  string
	Kind Kind
	Sub  string
	ID   string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.ID != "" {
		b.WriteString("[")
		b.WriteString(e.ID)
		b.WriteString("] ")
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(string(e.Kind))
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a structured Error.
func New(op string, kind Kind, id string, err error) *Error {
	return &Error{Op: op, Kind: kind, ID: id, Err: err}
}

// NewJSON constructs a structured Error of kind KindJSON with a sub-kind
// (SubBadPath, SubBadJSON, SubEvalErr).
func NewJSON(op, sub string, err error) *Error {
	return &Error{Op: op, Kind: KindJSON, Sub: sub, Err: err}
}

// Chain aggregates independent per-node failures into one error whose
// message is the ";"-joined list of individual messages, as required by
// the update engine's propagation policy: per-node errors never abort a
// fan-out, but the caller must still learn which nodes failed and why.
type Chain struct {
	errs []error
}

// Add appends err to the chain if non-nil. Add is not safe on a nil
// *Chain (it panics when err is non-nil); obtain a Chain via NewChain.
func (c *Chain) Add(err error) {
	if err == nil {
		return
	}
	c.errs = append(c.errs, err)
}

// Len reports how many errors have been added.
func (c *Chain) Len() int { return len(c.errs) }

// ErrOrNil returns nil if no errors were added, otherwise an error whose
// message is the ";"-joined chain.
func (c *Chain) ErrOrNil() error {
	if len(c.errs) == 0 {
		return nil
	}
	return c
}

func (c *Chain) Error() string {
	msgs := make([]string, len(c.errs))
	for i, e := range c.errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap supports errors.Is/errors.As traversal into every chained error.
func (c *Chain) Unwrap() []error { return c.errs }

// NewChain creates an empty Chain ready for Add calls.
func NewChain() *Chain { return &Chain{} }
