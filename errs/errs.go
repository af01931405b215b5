// Package errs provides structured error types and helpers for pgkit.
package errs

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// Kind identifies a pgkit error category.
type Kind string

const (
	// KindConfiguration indicates invalid or missing configuration.
	KindConfiguration Kind = "configuration"
	// KindConnection indicates pool creation, acquisition, or init-order failures.
	KindConnection Kind = "connection"
	// KindSchema indicates DDL or migration failures.
	KindSchema Kind = "schema"
	// KindUserManagement indicates role or grant failures.
	KindUserManagement Kind = "user_management"
	// KindRepository indicates CRUD failures wrapping underlying driver errors.
	KindRepository Kind = "repository"
)

// E captures structured error information produced across the pgkit stack.
type E struct {
	Kind      Kind
	Op        string
	Table     string
	Migration string
	Message   string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the given kind.
func New(kind Kind, opts ...Option) *E {
	e := &E{
		Kind:      kind,
		Op:        "",
		Table:     "",
		Migration: "",
		Message:   "",
		cause:     nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithOp records the failing operation.
func WithOp(op string) Option {
	trimmed := strings.TrimSpace(op)
	return func(e *E) {
		e.Op = trimmed
	}
}

// WithTable records the table targeted by the failing operation.
func WithTable(table string) Option {
	trimmed := strings.TrimSpace(table)
	return func(e *E) {
		e.Table = trimmed
	}
}

// WithMigration records the migration name associated with the failure.
func WithMigration(name string) Option {
	trimmed := strings.TrimSpace(name)
	return func(e *E) {
		e.Migration = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	kind := strings.TrimSpace(string(e.Kind))
	if kind == "" {
		kind = "unknown"
	}
	parts = append(parts, "kind="+kind)

	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}
	if e.Table != "" {
		parts = append(parts, "table="+e.Table)
	}
	if e.Migration != "" {
		parts = append(parts, "migration="+strconv.Quote(e.Migration))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// KindOf returns the Kind carried by err, or the empty Kind when err is not a
// pgkit error.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Wrap rewraps err under the given kind unless it is already a pgkit error,
// in which case it passes through unchanged. A nil err yields nil.
func Wrap(kind Kind, op string, err error, opts ...Option) error {
	if err == nil {
		return nil
	}
	var e *E
	if errors.As(err, &e) {
		return err
	}
	all := make([]Option, 0, len(opts)+2)
	all = append(all, WithOp(op), WithCause(err))
	all = append(all, opts...)
	return New(kind, all...)
}

// IsUniqueViolation reports whether err stems from a Postgres unique
// constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// IsUndefinedTable reports whether err stems from a reference to a table that
// does not exist.
func IsUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable
}
