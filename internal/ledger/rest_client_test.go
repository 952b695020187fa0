package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/paystream-keeper/pkg/db/models"
	"github.com/angelmondragon/paystream-keeper/pkg/enums"
	pkgerrors "github.com/angelmondragon/paystream-keeper/pkg/errors"
)

const testServiceKey = "svc-key-test"

func testPayment(status enums.PaymentStatus) models.ScheduledPayment {
	return models.ScheduledPayment{
		ID:              uuid.New(),
		Kind:            enums.PaymentKindSingle,
		ContractAddress: "0x1111111111111111111111111111111111111111",
		Payer:           "0x2222222222222222222222222222222222222222",
		Payee:           "0x3333333333333333333333333333333333333333",
		Amount:          "250000000",
		TokenAddress:    "0x4444444444444444444444444444444444444444",
		AmountDecimals:  6,
		ReleaseTime:     1_700_000_000,
		Status:          status,
	}
}

func TestNewRESTStore_Validation(t *testing.T) {
	_, err := NewRESTStore("", testServiceKey)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = NewRESTStore("http://ledger.local", "")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestRESTStore_DueFor(t *testing.T) {
	due := testPayment(enums.PaymentStatusPending)
	now := time.Unix(1_700_000_050, 0)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/scheduled_payments", r.URL.Path)
		assert.Equal(t, "Bearer "+testServiceKey, r.Header.Get("Authorization"))
		assert.Equal(t, testServiceKey, r.Header.Get("apikey"))

		query := r.URL.Query()
		assert.Equal(t, "eq.pending", query.Get("status"))
		assert.Equal(t, "lte.1700000050", query.Get("release_time"))
		assert.Equal(t, "release_time.asc", query.Get("order"))

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode([]models.ScheduledPayment{due}))
	}))
	defer server.Close()

	store, err := NewRESTStore(server.URL, testServiceKey)
	require.NoError(t, err)

	rows, err := store.DueFor(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, due.ID, rows[0].ID)
	assert.Equal(t, due.Amount, rows[0].Amount)
}

func TestRESTStore_Get_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
	}))
	defer server.Close()

	store, err := NewRESTStore(server.URL, testServiceKey)
	require.NoError(t, err)

	_, err = store.Get(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestRESTStore_MarkExecuted(t *testing.T) {
	payment := testPayment(enums.PaymentStatusPending)
	executedAt := time.Unix(1_700_000_100, 0)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))

		query := r.URL.Query()
		assert.Equal(t, "eq."+payment.ID.String(), query.Get("id"))
		assert.Equal(t, "eq.pending", query.Get("status"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "executed", body["status"])
		assert.Equal(t, "0xfeed", body["execution_tx_hash"])
		assert.Equal(t, executedAt.UTC().Format(time.RFC3339), body["executed_at"])

		updated := payment
		updated.Status = enums.PaymentStatusExecuted
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode([]models.ScheduledPayment{updated}))
	}))
	defer server.Close()

	store, err := NewRESTStore(server.URL, testServiceKey)
	require.NoError(t, err)

	err = store.MarkExecuted(context.Background(), payment.ID, "0xfeed", executedAt)
	require.NoError(t, err)
}

func TestRESTStore_UpdateStatus_LostRace(t *testing.T) {
	payment := testPayment(enums.PaymentStatusCancelled)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPatch:
			// Filter on the prior status matched nothing.
			_, _ = w.Write([]byte("[]"))
		case http.MethodGet:
			require.NoError(t, json.NewEncoder(w).Encode([]models.ScheduledPayment{payment}))
		default:
			t.Fatalf("unexpected method %s", r.Method)
		}
	}))
	defer server.Close()

	store, err := NewRESTStore(server.URL, testServiceKey)
	require.NoError(t, err)

	err = store.UpdateStatus(context.Background(), payment.ID, enums.PaymentStatusPending, enums.PaymentStatusExecuted)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
}

func TestRESTStore_UpdateStatus_RowMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
	}))
	defer server.Close()

	store, err := NewRESTStore(server.URL, testServiceKey)
	require.NoError(t, err)

	err = store.UpdateStatus(context.Background(), uuid.New(), enums.PaymentStatusPending, enums.PaymentStatusCancelled)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestRESTStore_UpdateStatus_IllegalTransition(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for an illegal transition")
	}))
	defer server.Close()

	store, err := NewRESTStore(server.URL, testServiceKey)
	require.NoError(t, err)

	err = store.UpdateStatus(context.Background(), uuid.New(), enums.PaymentStatusExecuted, enums.PaymentStatusPending)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
}

func TestRESTStore_ServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	store, err := NewRESTStore(server.URL, testServiceKey)
	require.NoError(t, err)

	_, err = store.DueFor(context.Background(), time.Now())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(err))
	assert.True(t, pkgerrors.IsRetryable(err))
}

func TestRESTStore_Ping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
	}))
	defer server.Close()

	store, err := NewRESTStore(server.URL, testServiceKey)
	require.NoError(t, err)
	require.NoError(t, store.Ping(context.Background()))
}
