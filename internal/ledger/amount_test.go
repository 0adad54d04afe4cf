package ledger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXRPToDrops(t *testing.T) {
	cases := map[string]int64{
		"1":         1_000_000,
		"0.5":       500_000,
		".25":       250_000,
		"12.000001": 12_000_001,
		" 3 ":       3_000_000,
		"0":         0,
	}
	for in, want := range cases {
		got, err := XRPToDrops(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "-1", "1.", "1.0000001", "abc", "1,5", "1e6"} {
		_, err := XRPToDrops(bad)
		assert.ErrorIs(t, err, ErrInvalidAmount, bad)
	}
}

func TestDropsToXRP(t *testing.T) {
	assert.Equal(t, "1", DropsToXRP(1_000_000))
	assert.Equal(t, "0.5", DropsToXRP(500_000))
	assert.Equal(t, "12.000001", DropsToXRP(12_000_001))
	assert.Equal(t, "-2.1", DropsToXRP(-2_100_000))
	assert.Equal(t, "0", DropsToXRP(0))
}

func TestFaucetFund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_, _ = w.Write([]byte(`{"account":{"xAddress":"X7","classicAddress":"rNew","address":"rNew"},"amount":100,"balance":100,"seed":"sSeed"}`))
	}))
	defer srv.Close()

	acc, err := NewFaucet(srv.URL, time.Second).Fund(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rNew", acc.Address)
	assert.Equal(t, "sSeed", acc.Secret)
	assert.Equal(t, "100", acc.BalanceXRP)
}

func TestFaucetError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewFaucet(srv.URL, time.Second).Fund(context.Background())
	assert.Error(t, err)
}
