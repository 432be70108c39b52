// Package query builds declarative request descriptions against the tabular
// data API and submits them through an injected executor.
//
// A Builder is a value: every chained call returns an updated copy, so
// partially built queries can be shared and branched freely. Only Execute
// touches the network, exactly once per call (plus at most one retry after
// a token refresh).
package query

import "context"

// Row is one record returned by the backend.
type Row = map[string]any

// Operation is the single data operation a descriptor performs.
type Operation string

const (
	OpSelect Operation = "select"
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Operator is a filter predicate on a column.
type Operator string

const (
	OpEq   Operator = "eq"
	OpNeq  Operator = "neq"
	OpLt   Operator = "lt"
	OpLte  Operator = "lte"
	OpGt   Operator = "gt"
	OpGte  Operator = "gte"
	OpIn   Operator = "in"
	OpLike Operator = "like"
	OpIs   Operator = "is"
)

// Filter is one predicate on a column. Filters on the same column are
// conjunctive: adding a second one narrows the result, it never replaces
// the first.
type Filter struct {
	Column   string
	Operator Operator
	Value    any
}

type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

type Order struct {
	Column    string
	Direction Direction
}

// Descriptor is the immutable, declarative description of one data
// operation. The executor translates it into a request; the descriptor
// itself only records the request shape.
type Descriptor struct {
	Table     string
	Operation Operation
	Filters   []Filter
	Order     []Order

	// Projection lists the column paths to return. Entries may embed
	// related tables by name, e.g. "author(name)"; join semantics belong
	// to the executor.
	Projection []string

	// Payload carries the rows for insert, or the single change mapping
	// for update.
	Payload []Row

	// Returning requests the affected rows back for insert/update/delete.
	Returning bool

	Limit int
}

func (d *Descriptor) validate() error {
	if d.Table == "" {
		return ErrNoTable
	}
	switch d.Operation {
	case OpSelect:
	case OpInsert:
		if len(d.Filters) > 0 {
			return ErrFilterNotAllowed
		}
		if len(d.Payload) == 0 {
			return ErrNoPayload
		}
	case OpUpdate:
		if len(d.Payload) == 0 {
			return ErrNoPayload
		}
	case OpDelete:
	default:
		return ErrNoOperation
	}
	return nil
}

// Executor is the external collaborator that turns a descriptor into a
// request against the data backend. HTTP semantics, transport-level
// retries, and pooling all live behind this interface.
type Executor interface {
	Execute(ctx context.Context, accessToken string, desc Descriptor) ([]Row, error)
}
