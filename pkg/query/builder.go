package query

import (
	"context"
	"errors"
	"time"

	"github.com/gridbase/gridbase.go/pkg/credentials"
	"github.com/gridbase/gridbase.go/pkg/logger"
)

// Authorizer supplies the bearer credential for query execution and the
// refresh hook used when a request is rejected for an expired token.
type Authorizer interface {
	AccessToken() string
	Refresh(ctx context.Context) (credentials.Session, error)
}

// Builder composes a Descriptor through chained calls. The zero value is
// not usable; start from NewBuilder (or Client.From at the SDK root).
type Builder struct {
	desc    Descriptor
	exec    Executor
	auth    Authorizer
	log     logger.Logger
	timeout time.Duration
	err     error
}

type BuilderOption func(*Builder)

// WithTimeout sets a per-call timeout applied inside Execute. Zero disables
// it; expiry surfaces as ReasonTransportError.
func WithTimeout(d time.Duration) BuilderOption {
	return func(b *Builder) {
		b.timeout = d
	}
}

func WithLogger(log logger.Logger) BuilderOption {
	return func(b *Builder) {
		b.log = log
	}
}

func NewBuilder(table string, exec Executor, auth Authorizer, opts ...BuilderOption) Builder {
	b := Builder{
		desc: Descriptor{Table: table},
		exec: exec,
		auth: auth,
		log:  logger.Nop{},
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// Descriptor returns a snapshot of the descriptor built so far.
func (b Builder) Descriptor() Descriptor {
	return b.desc
}

// Select marks the query as a read and records the projection. Called after
// Insert or Update it instead requests the affected rows back. No columns
// means all columns.
func (b Builder) Select(columns ...string) Builder {
	switch b.desc.Operation {
	case "":
		b.desc.Operation = OpSelect
	case OpSelect:
	default:
		b.desc.Returning = true
	}
	b.desc.Projection = append(cloneSlice(b.desc.Projection), columns...)
	return b
}

// Insert records one or more rows to create.
func (b Builder) Insert(rows ...Row) Builder {
	b = b.setOperation(OpInsert)
	b.desc.Payload = append(cloneSlice(b.desc.Payload), rows...)
	return b
}

// Update records the column changes to apply to all rows matching the
// filters.
func (b Builder) Update(changes Row) Builder {
	b = b.setOperation(OpUpdate)
	b.desc.Payload = append(cloneSlice(b.desc.Payload), changes)
	return b
}

// Delete marks the query as a delete of all rows matching the filters.
func (b Builder) Delete() Builder {
	return b.setOperation(OpDelete)
}

func (b Builder) setOperation(op Operation) Builder {
	switch b.desc.Operation {
	case "", OpSelect:
		// A leading Select only recorded a projection; the write operation
		// takes over and returns the projected rows.
		if b.desc.Operation == OpSelect && len(b.desc.Projection) > 0 {
			b.desc.Returning = true
		}
		b.desc.Operation = op
	default:
		if b.err == nil {
			b.err = ErrConflictingOperation
		}
	}
	return b
}

// Eq filters rows where column equals value.
func (b Builder) Eq(column string, value any) Builder {
	return b.filter(column, OpEq, value)
}

// Neq filters rows where column does not equal value.
func (b Builder) Neq(column string, value any) Builder {
	return b.filter(column, OpNeq, value)
}

func (b Builder) Lt(column string, value any) Builder {
	return b.filter(column, OpLt, value)
}

func (b Builder) Lte(column string, value any) Builder {
	return b.filter(column, OpLte, value)
}

func (b Builder) Gt(column string, value any) Builder {
	return b.filter(column, OpGt, value)
}

func (b Builder) Gte(column string, value any) Builder {
	return b.filter(column, OpGte, value)
}

// In filters rows where column is one of values.
func (b Builder) In(column string, values ...any) Builder {
	return b.filter(column, OpIn, values)
}

// Like filters rows where column matches the pattern; `%` is the wildcard.
func (b Builder) Like(column, pattern string) Builder {
	return b.filter(column, OpLike, pattern)
}

// Is filters with IS semantics; pass nil for a null check.
func (b Builder) Is(column string, value any) Builder {
	return b.filter(column, OpIs, value)
}

func (b Builder) filter(column string, op Operator, value any) Builder {
	b.desc.Filters = append(cloneSlice(b.desc.Filters), Filter{
		Column:   column,
		Operator: op,
		Value:    value,
	})
	return b
}

// Order appends an ordering clause.
func (b Builder) Order(column string, dir Direction) Builder {
	b.desc.Order = append(cloneSlice(b.desc.Order), Order{Column: column, Direction: dir})
	return b
}

// Limit caps the number of rows returned.
func (b Builder) Limit(n int) Builder {
	b.desc.Limit = n
	return b
}

// Execute submits the descriptor through the executor using the current
// session's access token. It returns the ordered rows, or a typed error;
// the underlying transport error is never surfaced raw.
//
// If the backend rejects the call because the access token expired, Execute
// refreshes the session once and retries the request with the new token.
func (b Builder) Execute(ctx context.Context) ([]Row, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.desc.validate(); err != nil {
		return nil, err
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	rows, err := b.exec.Execute(ctx, b.token(), b.desc)
	if err == nil {
		return rows, nil
	}

	qerr := classify(ctx, err)
	if qerr.TokenExpired && b.auth != nil {
		b.log.Debug("query rejected for expired token, refreshing session", "table", b.desc.Table)
		if _, refreshErr := b.auth.Refresh(ctx); refreshErr == nil {
			rows, err = b.exec.Execute(ctx, b.token(), b.desc)
			if err == nil {
				return rows, nil
			}
			qerr = classify(ctx, err)
		}
	}

	return nil, qerr
}

func (b Builder) token() string {
	if b.auth == nil {
		return ""
	}
	return b.auth.AccessToken()
}

// classify folds executor and context failures into the Error taxonomy.
func classify(ctx context.Context, err error) *Error {
	var qerr *Error
	if errors.As(err, &qerr) {
		return qerr
	}

	switch {
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return &Error{Reason: ReasonCancelled, Detail: err.Error()}
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Error{Reason: ReasonTransportError, Detail: "deadline exceeded: " + err.Error()}
	default:
		return &Error{Reason: ReasonTransportError, Detail: err.Error()}
	}
}

func cloneSlice[T any](in []T) []T {
	if len(in) == 0 {
		return nil
	}
	out := make([]T, len(in), len(in)+1)
	copy(out, in)
	return out
}
