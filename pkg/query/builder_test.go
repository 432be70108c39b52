package query

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gridbase/gridbase.go/pkg/credentials"
)

type stubExecutor struct {
	mu    sync.Mutex
	calls []struct {
		Token string
		Desc  Descriptor
	}
	rows []Row
	errs []error // consumed per call; nil entry means success

	// block, when set, makes Execute wait for ctx cancellation.
	block bool
}

func (s *stubExecutor) Execute(ctx context.Context, token string, desc Descriptor) ([]Row, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	s.mu.Lock()
	s.calls = append(s.calls, struct {
		Token string
		Desc  Descriptor
	}{token, desc})
	n := len(s.calls)
	s.mu.Unlock()

	if n <= len(s.errs) && s.errs[n-1] != nil {
		return nil, s.errs[n-1]
	}
	return s.rows, nil
}

type stubAuthorizer struct {
	token        string
	refreshed    string
	refreshCalls int
	refreshErr   error
}

func (a *stubAuthorizer) AccessToken() string {
	return a.token
}

func (a *stubAuthorizer) Refresh(ctx context.Context) (credentials.Session, error) {
	a.refreshCalls++
	if a.refreshErr != nil {
		return credentials.Session{}, a.refreshErr
	}
	a.token = a.refreshed
	return credentials.Session{AccessToken: a.token}, nil
}

func TestPublishedPostsDescriptorShape(t *testing.T) {
	exec := &stubExecutor{rows: []Row{
		{"id": 1, "title": "A"},
		{"id": 2, "title": "B"},
	}}
	auth := &stubAuthorizer{token: "access"}

	builder := NewBuilder("posts", exec, auth).
		Select().
		Eq("is_published", true).
		Order("created_at", Descending)

	rows, err := builder.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, exec.rows, rows)

	require.Len(t, exec.calls, 1)
	require.Equal(t, "access", exec.calls[0].Token)
	require.Equal(t, Descriptor{
		Table:     "posts",
		Operation: OpSelect,
		Filters:   []Filter{{Column: "is_published", Operator: OpEq, Value: true}},
		Order:     []Order{{Column: "created_at", Direction: Descending}},
	}, exec.calls[0].Desc)
}

func TestReadIdempotence(t *testing.T) {
	exec := &stubExecutor{rows: []Row{{"id": 1}, {"id": 2}}}
	builder := NewBuilder("posts", exec, &stubAuthorizer{}).Select().Eq("id", 1)

	first, err := builder.Execute(context.Background())
	require.NoError(t, err)
	second, err := builder.Execute(context.Background())
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Len(t, exec.calls, 2)
	require.Equal(t, exec.calls[0].Desc, exec.calls[1].Desc)
}

func TestBuilderBranchesDoNotShareState(t *testing.T) {
	base := NewBuilder("posts", &stubExecutor{}, nil).Select().Eq("a", 1)

	left := base.Eq("b", 2)
	right := base.Eq("c", 3)

	require.Len(t, base.Descriptor().Filters, 1)
	require.Len(t, left.Descriptor().Filters, 2)
	require.Len(t, right.Descriptor().Filters, 2)
	require.Equal(t, "b", left.Descriptor().Filters[1].Column)
	require.Equal(t, "c", right.Descriptor().Filters[1].Column)
}

func TestSameColumnFiltersAreConjunctive(t *testing.T) {
	builder := NewBuilder("posts", &stubExecutor{}, nil).
		Select().
		Gte("score", 10).
		Lt("score", 20)

	filters := builder.Descriptor().Filters
	require.Len(t, filters, 2)
	require.Equal(t, OpGte, filters[0].Operator)
	require.Equal(t, OpLt, filters[1].Operator)
}

func TestValidation(t *testing.T) {
	exec := &stubExecutor{}
	ctx := context.Background()

	_, err := NewBuilder("posts", exec, nil).Execute(ctx)
	require.ErrorIs(t, err, ErrNoOperation)

	_, err = NewBuilder("", exec, nil).Select().Execute(ctx)
	require.ErrorIs(t, err, ErrNoTable)

	_, err = NewBuilder("posts", exec, nil).Eq("id", 1).Insert(Row{"title": "A"}).Execute(ctx)
	require.ErrorIs(t, err, ErrFilterNotAllowed)

	_, err = NewBuilder("posts", exec, nil).Insert().Execute(ctx)
	require.ErrorIs(t, err, ErrNoPayload)

	_, err = NewBuilder("posts", exec, nil).Insert(Row{"a": 1}).Delete().Execute(ctx)
	require.ErrorIs(t, err, ErrConflictingOperation)

	require.Empty(t, exec.calls, "validation failures must not reach the executor")
}

func TestInsertWithProjectionRequestsRowsBack(t *testing.T) {
	exec := &stubExecutor{rows: []Row{{"id": 1, "title": "A"}}}

	builder := NewBuilder("posts", exec, nil).
		Insert(Row{"title": "A"}).
		Select("id", "title")

	rows, err := builder.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, exec.rows, rows)

	desc := exec.calls[0].Desc
	require.Equal(t, OpInsert, desc.Operation)
	require.True(t, desc.Returning)
	require.Equal(t, []string{"id", "title"}, desc.Projection)
}

func TestExecuteCancellation(t *testing.T) {
	exec := &stubExecutor{block: true}
	builder := NewBuilder("posts", exec, nil).Select()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := builder.Execute(ctx)

	var qerr *Error
	require.ErrorAs(t, err, &qerr)
	require.Equal(t, ReasonCancelled, qerr.Reason)
}

func TestExecuteTimeout(t *testing.T) {
	exec := &stubExecutor{block: true}
	builder := NewBuilder("posts", exec, nil, WithTimeout(10*time.Millisecond)).Select()

	_, err := builder.Execute(context.Background())

	var qerr *Error
	require.ErrorAs(t, err, &qerr)
	require.Equal(t, ReasonTransportError, qerr.Reason)
}

func TestExpiredTokenRefreshesAndRetriesOnce(t *testing.T) {
	exec := &stubExecutor{
		rows: []Row{{"id": 1}},
		errs: []error{&Error{Reason: ReasonNotAuthorized, TokenExpired: true}},
	}
	auth := &stubAuthorizer{token: "stale", refreshed: "fresh"}

	rows, err := NewBuilder("posts", exec, auth).Select().Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, exec.rows, rows)

	require.Equal(t, 1, auth.refreshCalls)
	require.Len(t, exec.calls, 2)
	require.Equal(t, "stale", exec.calls[0].Token)
	require.Equal(t, "fresh", exec.calls[1].Token)
}

func TestNotAuthorizedWithoutExpiryIsNotRetried(t *testing.T) {
	exec := &stubExecutor{
		errs: []error{&Error{Reason: ReasonNotAuthorized}},
	}
	auth := &stubAuthorizer{token: "access"}

	_, err := NewBuilder("posts", exec, auth).Select().Execute(context.Background())

	var qerr *Error
	require.ErrorAs(t, err, &qerr)
	require.Equal(t, ReasonNotAuthorized, qerr.Reason)
	require.Zero(t, auth.refreshCalls)
	require.Len(t, exec.calls, 1)
}

func TestRawExecutorErrorsAreWrapped(t *testing.T) {
	exec := &stubExecutor{errs: []error{context.DeadlineExceeded}}

	_, err := NewBuilder("posts", exec, nil).Select().Execute(context.Background())

	var qerr *Error
	require.ErrorAs(t, err, &qerr)
	require.Equal(t, ReasonTransportError, qerr.Reason)
}
