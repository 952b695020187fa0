package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paystream-keeper/pkg/db/models"
	"github.com/angelmondragon/paystream-keeper/pkg/enums"
	pkgerrors "github.com/angelmondragon/paystream-keeper/pkg/errors"
)

const defaultRequestTimeout = 15 * time.Second

// RESTStore talks to the ledger service over its PostgREST-style API.
// Status writes filter on the expected prior status and ask for the
// updated representation back; an empty result means the row moved
// underneath us and the write did not apply.
type RESTStore struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	table      string
}

// RESTOption customizes a RESTStore.
type RESTOption func(*RESTStore)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) RESTOption {
	return func(s *RESTStore) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) RESTOption {
	return func(s *RESTStore) {
		if d > 0 {
			s.httpClient.Timeout = d
		}
	}
}

// WithTable overrides the payments table name.
func WithTable(name string) RESTOption {
	return func(s *RESTStore) {
		if name != "" {
			s.table = name
		}
	}
}

// NewRESTStore builds a ledger client for the given base URL and service key.
func NewRESTStore(baseURL, serviceKey string, opts ...RESTOption) (*RESTStore, error) {
	if baseURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ledger base URL is required")
	}
	if serviceKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ledger service key is required")
	}
	s := &RESTStore{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		table:      models.ScheduledPayment{}.TableName(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DueFor returns pending payments whose release time has passed.
func (s *RESTStore) DueFor(ctx context.Context, now time.Time) ([]models.ScheduledPayment, error) {
	query := url.Values{}
	query.Set("status", "eq."+enums.PaymentStatusPending.String())
	query.Set("release_time", "lte."+strconv.FormatInt(now.Unix(), 10))
	query.Set("order", "release_time.asc")
	query.Set("select", "*")

	var rows []models.ScheduledPayment
	if err := s.do(ctx, http.MethodGet, query, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Get fetches a single payment by id.
func (s *RESTStore) Get(ctx context.Context, id uuid.UUID) (*models.ScheduledPayment, error) {
	query := url.Values{}
	query.Set("id", "eq."+id.String())
	query.Set("select", "*")

	var rows []models.ScheduledPayment
	if err := s.do(ctx, http.MethodGet, query, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("payment %s not found", id))
	}
	return &rows[0], nil
}

// UpdateStatus transitions id from the expected prior status to the target
// status via a filtered PATCH.
func (s *RESTStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.PaymentStatus) error {
	return s.patchStatus(ctx, id, from, to, map[string]any{
		"status": to.String(),
	})
}

// MarkExecuted records a confirmed release.
func (s *RESTStore) MarkExecuted(ctx context.Context, id uuid.UUID, txHash string, executedAt time.Time) error {
	if txHash == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction hash is required")
	}
	return s.patchStatus(ctx, id, enums.PaymentStatusPending, enums.PaymentStatusExecuted, map[string]any{
		"status":            enums.PaymentStatusExecuted.String(),
		"execution_tx_hash": txHash,
		"executed_at":       executedAt.UTC().Format(time.RFC3339),
	})
}

// Ping issues a minimal read to verify the ledger responds.
func (s *RESTStore) Ping(ctx context.Context) error {
	query := url.Values{}
	query.Set("select", "id")
	query.Set("limit", "1")
	var rows []models.ScheduledPayment
	return s.do(ctx, http.MethodGet, query, nil, &rows)
}

func (s *RESTStore) patchStatus(ctx context.Context, id uuid.UUID, from, to enums.PaymentStatus, body map[string]any) error {
	if !from.CanTransitionTo(to) {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("illegal status transition %s -> %s", from, to))
	}

	query := url.Values{}
	query.Set("id", "eq."+id.String())
	query.Set("status", "eq."+from.String())

	var updated []models.ScheduledPayment
	if err := s.do(ctx, http.MethodPatch, query, body, &updated); err != nil {
		return err
	}
	if len(updated) == 0 {
		// The filter matched nothing: either the row is gone or another
		// writer moved it off the expected status first.
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return pkgerrors.New(pkgerrors.CodeConflict,
			fmt.Sprintf("payment %s is no longer %s", id, from))
	}
	return nil
}

func (s *RESTStore) do(ctx context.Context, method string, query url.Values, body any, out any) error {
	endpoint := fmt.Sprintf("%s/%s?%s", s.baseURL, s.table, query.Encode())

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal ledger request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build ledger request")
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ledger request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read ledger response")
	}

	if resp.StatusCode >= 400 {
		return ledgerStatusError(resp.StatusCode, raw)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode ledger response")
		}
	}
	return nil
}

func ledgerStatusError(status int, body []byte) error {
	msg := fmt.Sprintf("ledger returned %d", status)
	if len(body) > 0 {
		const maxBody = 512
		if len(body) > maxBody {
			body = body[:maxBody]
		}
		msg = fmt.Sprintf("%s: %s", msg, string(body))
	}
	switch {
	case status == http.StatusNotFound:
		return pkgerrors.New(pkgerrors.CodeNotFound, msg)
	case status == http.StatusConflict:
		return pkgerrors.New(pkgerrors.CodeConflict, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return pkgerrors.New(pkgerrors.CodeInternal, msg)
	case status >= 500 || status == http.StatusTooManyRequests:
		return pkgerrors.New(pkgerrors.CodeDependency, msg)
	default:
		return pkgerrors.New(pkgerrors.CodeInternal, msg)
	}
}
