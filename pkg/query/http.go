package query

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/buger/jsonparser"

	"github.com/gridbase/gridbase.go/internal/codec"
)

const restPath = "/rest/v1/"

// HTTPExecutor translates descriptors into requests against the platform's
// tabular REST API. Filters, ordering and projection are encoded into the
// query string; payloads travel as JSON bodies.
type HTTPExecutor struct {
	baseURL string
	apiKey  string

	httpClient  *http.Client
	marshaler   codec.Marshaler
	unmarshaler codec.Unmarshaler
}

type HTTPExecutorOption func(*HTTPExecutor)

func WithExecutorHTTPClient(c *http.Client) HTTPExecutorOption {
	return func(e *HTTPExecutor) {
		e.httpClient = c
	}
}

func NewHTTPExecutor(baseURL, apiKey string, opts ...HTTPExecutorOption) *HTTPExecutor {
	e := &HTTPExecutor{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		marshaler:   codec.JSON{},
		unmarshaler: codec.JSON{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *HTTPExecutor) Execute(ctx context.Context, accessToken string, desc Descriptor) ([]Row, error) {
	req, err := e.buildRequest(ctx, accessToken, desc)
	if err != nil {
		return nil, err
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		// Left raw: the builder folds transport and context failures into
		// the error taxonomy.
		return nil, err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errorFromStatus(resp, respBytes)
	}

	return e.decodeRows(respBytes)
}

func (e *HTTPExecutor) buildRequest(ctx context.Context, accessToken string, desc Descriptor) (*http.Request, error) {
	var (
		method string
		body   io.Reader
	)

	switch desc.Operation {
	case OpSelect:
		method = http.MethodGet
	case OpInsert:
		method = http.MethodPost
		data, err := e.marshaler.Marshal(desc.Payload)
		if err != nil {
			return nil, &Error{Reason: ReasonTransportError, Detail: err.Error()}
		}
		body = bytes.NewReader(data)
	case OpUpdate:
		method = http.MethodPatch
		data, err := e.marshaler.Marshal(desc.Payload[0])
		if err != nil {
			return nil, &Error{Reason: ReasonTransportError, Detail: err.Error()}
		}
		body = bytes.NewReader(data)
	case OpDelete:
		method = http.MethodDelete
	}

	if body == nil {
		body = http.NoBody
	}

	endpoint := e.baseURL + restPath + url.PathEscape(desc.Table) + encodeQuery(desc)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, &Error{Reason: ReasonTransportError, Detail: err.Error()}
	}

	req.Header.Set("apikey", e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if desc.Returning {
		req.Header.Set("Prefer", "return=representation")
	}
	return req, nil
}

// encodeQuery flattens the descriptor's read shape into the query string,
// e.g. ?select=id,title&is_published=eq.true&order=created_at.desc&limit=2.
func encodeQuery(desc Descriptor) string {
	params := url.Values{}

	if len(desc.Projection) > 0 {
		params.Set("select", strings.Join(desc.Projection, ","))
	}

	for _, f := range desc.Filters {
		params.Add(f.Column, string(f.Operator)+"."+encodeFilterValue(f))
	}

	if len(desc.Order) > 0 {
		clauses := make([]string, 0, len(desc.Order))
		for _, o := range desc.Order {
			clauses = append(clauses, o.Column+"."+string(o.Direction))
		}
		params.Set("order", strings.Join(clauses, ","))
	}

	if desc.Limit > 0 {
		params.Set("limit", strconv.Itoa(desc.Limit))
	}

	if len(params) == 0 {
		return ""
	}
	return "?" + params.Encode()
}

func encodeFilterValue(f Filter) string {
	if f.Operator == OpIn {
		values, ok := f.Value.([]any)
		if !ok {
			return "(" + encodeScalar(f.Value) + ")"
		}
		encoded := make([]string, 0, len(values))
		for _, v := range values {
			encoded = append(encoded, encodeScalar(v))
		}
		return "(" + strings.Join(encoded, ",") + ")"
	}
	return encodeScalar(f.Value)
}

func encodeScalar(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprint(v)
}

func (e *HTTPExecutor) decodeRows(data []byte) ([]Row, error) {
	if len(data) == 0 {
		return []Row{}, nil
	}

	var rows []Row
	if err := e.unmarshaler.Unmarshal(data, &rows); err == nil {
		return rows, nil
	}

	// Some endpoints return a bare object for single-row responses.
	var row Row
	if err := e.unmarshaler.Unmarshal(data, &row); err != nil {
		return nil, &Error{Reason: ReasonTransportError, Detail: fmt.Sprintf("malformed response body: %v", err)}
	}
	return []Row{row}, nil
}

func errorFromStatus(resp *http.Response, body []byte) *Error {
	detail, _ := jsonparser.GetString(body, "message")
	if detail == "" {
		detail = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return &Error{
			Reason:       ReasonNotAuthorized,
			Detail:       detail,
			TokenExpired: tokenExpired(resp, body),
		}
	case http.StatusForbidden:
		return &Error{Reason: ReasonNotAuthorized, Detail: detail}
	case http.StatusNotFound:
		return &Error{Reason: ReasonNotFound, Detail: detail}
	case http.StatusConflict:
		return &Error{Reason: ReasonConstraintViolation, Detail: detail}
	default:
		return &Error{Reason: ReasonTransportError, Detail: detail}
	}
}

// tokenExpired distinguishes "token expired, refresh and retry" from a
// plain authorization failure.
func tokenExpired(resp *http.Response, body []byte) bool {
	if strings.Contains(resp.Header.Get("WWW-Authenticate"), "expired") {
		return true
	}
	code, _ := jsonparser.GetString(body, "code")
	if code == "token_expired" {
		return true
	}
	msg, _ := jsonparser.GetString(body, "message")
	return strings.Contains(strings.ToLower(msg), "expired")
}
