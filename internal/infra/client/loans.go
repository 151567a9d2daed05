package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/boddenberg/loandesk-go/internal/domain"
	"github.com/boddenberg/loandesk-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("client")

const serviceName = "loan-api"

// APIKeyHeader carries the service key on every loan API call.
const APIKeyHeader = "X-API-Key"

// LoanClient talks to the external loan API. It implements port.LoanAPI and
// port.IdentityFetcher.
type LoanClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

// NewLoanClient creates a new LoanClient.
func NewLoanClient(httpClient *http.Client, baseURL, apiKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *LoanClient {
	return &LoanClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		cb:         cb,
		cfg:        cfg,
	}
}

// ListLoans fetches the owner's full loan list.
func (c *LoanClient) ListLoans(ctx context.Context, ownerID int64) ([]domain.LoanRecord, error) {
	ctx, span := tracer.Start(ctx, "LoanClient.ListLoans")
	defer span.End()
	span.SetAttributes(attribute.Int64("owner.id", ownerID))

	var loans []domain.LoanRecord
	path := fmt.Sprintf("/v1/users/%d/loans", ownerID)
	if err := c.call(ctx, http.MethodGet, path, nil, &loans, true); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("loans.count", len(loans)))
	return loans, nil
}

// ApplyLoan submits a loan application. Not retried: the API is not
// idempotent for applications.
func (c *LoanClient) ApplyLoan(ctx context.Context, ownerID int64, app *domain.LoanApplication) (*domain.LoanRecord, error) {
	ctx, span := tracer.Start(ctx, "LoanClient.ApplyLoan")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("owner.id", ownerID),
		attribute.String("loan.type", string(app.LoanType)),
	)

	var rec domain.LoanRecord
	path := fmt.Sprintf("/v1/users/%d/loans", ownerID)
	if err := c.call(ctx, http.MethodPost, path, app, &rec, false); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int64("loan.id", rec.ID))
	return &rec, nil
}

// PayLoan submits a payment and returns the updated record. Not retried.
func (c *LoanClient) PayLoan(ctx context.Context, ownerID int64, req *domain.PaymentRequest) (*domain.LoanRecord, error) {
	ctx, span := tracer.Start(ctx, "LoanClient.PayLoan")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("owner.id", ownerID),
		attribute.Int64("loan.id", req.LoanID),
	)

	var rec domain.LoanRecord
	path := fmt.Sprintf("/v1/users/%d/loans/%d/pay", ownerID, req.LoanID)
	body := map[string]any{"amount": req.Amount}
	if err := c.call(ctx, http.MethodPost, path, body, &rec, false); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &rec, nil
}

// GetIdentity fetches the principal's display identity.
func (c *LoanClient) GetIdentity(ctx context.Context, ownerID int64) (*domain.Identity, error) {
	ctx, span := tracer.Start(ctx, "LoanClient.GetIdentity")
	defer span.End()
	span.SetAttributes(attribute.Int64("owner.id", ownerID))

	var id domain.Identity
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/v1/users/%d", ownerID), nil, &id, true); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if id.ID == 0 {
		id.ID = ownerID
	}
	return &id, nil
}

// rejected wraps a 4xx answer. It passes through the breaker as a success so
// that bad requests never trip it.
type rejected struct{ err error }

// call performs one JSON round trip through the circuit breaker. With retry
// set, transport errors and 5xx answers are retried with backoff.
func (c *LoanClient) call(ctx context.Context, method, path string, in, out any, retry bool) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encoding %s request: %w", path, err)
		}
	}

	cfg := c.cfg
	if !retry {
		cfg.MaxRetries = 0
	}

	result, err := c.cb.Execute(func() (any, error) {
		innerErr := resilience.RetryWithBackoff(ctx, cfg, func() error {
			return c.roundTrip(ctx, method, path, payload, out)
		})
		var perm *clientError
		if errors.As(innerErr, &perm) {
			return rejected{err: perm.err}, nil
		}
		return nil, innerErr
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return &domain.ErrCircuitOpen{Service: serviceName}
	case err != nil:
		return &domain.ErrExternalService{Service: serviceName, Err: err}
	}
	if r, ok := result.(rejected); ok {
		return r.err
	}
	return nil
}

// clientError is a 4xx answer mapped onto a domain error.
type clientError struct{ err error }

func (e *clientError) Error() string { return e.err.Error() }

func (c *LoanClient) roundTrip(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &resilience.Permanent{Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &resilience.Permanent{Err: &clientError{err: statusError(resp, path)}}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loan API returned status %d for %s", resp.StatusCode, path)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &resilience.Permanent{Err: fmt.Errorf("decoding %s response: %w", path, err)}
	}
	return nil
}

// statusError maps a 4xx answer onto the matching domain error, keeping the
// API's "detail" message when it sends one.
func statusError(resp *http.Response, path string) error {
	var problem struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &problem)
	msg := problem.Detail
	if msg == "" {
		msg = problem.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return &domain.ErrNotFound{Resource: "loan", ID: path}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &domain.ErrUnauthorized{Message: msg}
	default:
		return &domain.ErrValidation{Field: "request", Message: fmt.Sprintf("loan API rejected request (%d): %s", resp.StatusCode, msg)}
	}
}
