package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDeposit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/deposit", r.URL.Path)
		assert.Equal(t, "500", r.URL.Query().Get("amount"))
		assert.Equal(t, "secret", r.URL.Query().Get("apikey"))
		w.Write([]byte(`{"data":{"amount":"500","fee":12.5,"total_amount":"512","transaction_id":"TX-1",
			"qris_url":" https://qr.example/1` + "`" + `","expired_at":"2026-03-01T12:30:00Z","expired_minutes":30}}`))
	}))
	defer srv.Close()

	dep, err := NewClient(srv.URL, time.Second).CreateDeposit(context.Background(), 500, "secret")
	require.NoError(t, err)
	assert.Equal(t, int64(500), dep.Amount)
	assert.Equal(t, int64(12), dep.Fee)
	assert.Equal(t, int64(512), dep.Total)
	assert.Equal(t, "TX-1", dep.TransactionID)
	assert.Equal(t, "https://qr.example/1", dep.QRISURL)
	assert.Equal(t, 30, dep.ExpiredMinutes)
	require.NotNil(t, dep.ExpiredAt)
	assert.True(t, dep.ExpiredAt.Equal(time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)))
}

func TestCreateDepositExpiryWithoutZone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"amount":500,"transaction_id":"TX-2","expired_at":"2026-03-01 12:30:00"}}`))
	}))
	defer srv.Close()

	// 默认按 WIB（UTC+7）解析
	dep, err := NewClient(srv.URL, time.Second).CreateDeposit(context.Background(), 500, "k")
	require.NoError(t, err)
	require.NotNil(t, dep.ExpiredAt)
	assert.True(t, dep.ExpiredAt.Equal(time.Date(2026, 3, 1, 5, 30, 0, 0, time.UTC)), dep.ExpiredAt.String())

	client := NewClient(srv.URL, time.Second)
	client.Location = time.UTC
	dep, err = client.CreateDeposit(context.Background(), 500, "k")
	require.NoError(t, err)
	assert.True(t, dep.ExpiredAt.Equal(time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)))
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
		ok   bool
	}{
		{"2026-03-01T12:30:00Z", time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC), true},
		{"2026-03-01T19:30:00+07:00", time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC), true},
		{"2026-03-01T19:30:00", time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC), true},
		{"2026-03-01 19:30:00", time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC), true},
		{"besok", time.Time{}, false},
	}
	for _, tt := range tests {
		at, ok := parseTime(tt.raw, DefaultLocation)
		assert.Equal(t, tt.ok, ok, tt.raw)
		if tt.ok {
			assert.True(t, at.Equal(tt.want), tt.raw)
		}
	}
}

func TestCreateDepositErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"non 200", http.StatusBadGateway, `{"error":"down"}`},
		{"missing data", http.StatusOK, `{"ok":true}`},
		{"missing transaction id", http.StatusOK, `{"data":{"amount":500}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second).CreateDeposit(context.Background(), 500, "k")
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.body, apiErr.Body)
		})
	}
}

func TestCheckStatus(t *testing.T) {
	tests := []struct {
		body string
		paid bool
	}{
		{`{"paid":true,"status":"PAID"}`, true},
		{`{"paid":"true","status":"PAID"}`, false},
		{`{"paid":false,"status":"UNPAID"}`, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/status/payment", r.URL.Path)
			assert.Equal(t, "TX-1", r.URL.Query().Get("transaction_id"))
			w.Write([]byte(tt.body))
		}))

		st, err := NewClient(srv.URL+"/", time.Second).CheckStatus(context.Background(), "TX-1", "k")
		require.NoError(t, err)
		assert.Equal(t, tt.paid, st.Paid, tt.body)
		srv.Close()
	}
}
