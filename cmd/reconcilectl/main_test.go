package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablepay/payments-reconciler/internal/auth"
)

func TestTokenCmd(t *testing.T) {
	t.Setenv("OPERATOR_TOKEN_SECRET", "cli-secret")

	var out bytes.Buffer
	cmd := tokenCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--operator", "ops-carol"})
	require.NoError(t, cmd.Execute())

	claims, err := auth.ValidateOperatorToken(strings.TrimSpace(out.String()), "cli-secret")
	require.NoError(t, err)
	assert.Equal(t, "ops-carol", claims.OperatorID)
}

func TestTriggerCmd(t *testing.T) {
	var gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		assert.Equal(t, "/api/v1/reconcile", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"examined":2}}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	cmd := triggerCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--server", srv.URL, "--token", "tok", "--limit", "10", "--window-hours", "6"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "limit=10&window_hours=6", gotQuery)
	assert.Contains(t, out.String(), `"examined": 2`)
}

func TestTriggerCmd_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"success":false}`))
	}))
	defer srv.Close()

	cmd := triggerCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--server", srv.URL, "--token", "tok"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry after 30s")
}
