package idempotency

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pantry-service/internal/apperr"
)

func TestMemoryStore_Lifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	resp, err := s.Reserve(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, resp)

	_, err = s.Reserve(ctx, "k1")
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	stored := &Response{Status: http.StatusCreated, Body: json.RawMessage(`{"transaction_id":"WD-1"}`)}
	require.NoError(t, s.Complete(ctx, "k1", stored))

	resp, err = s.Reserve(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.JSONEq(t, `{"transaction_id":"WD-1"}`, string(resp.Body))
}

func TestMemoryStore_ReleaseAllowsRetry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Reserve(ctx, "k1")
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, "k1"))

	resp, err := s.Reserve(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestDecode(t *testing.T) {
	_, err := decode("k", pending)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = decode("k", "not json")
	assert.Error(t, err)
}
