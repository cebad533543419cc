package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"luarename/pkg/contract"
)

func TestInvoke_ChatAndJSONMode(t *testing.T) {
	var got oaReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"mappings\":{}}"}}]}`))
	}))
	defer srv.Close()

	c, err := New(json.RawMessage(`{"base_url":"` + srv.URL + `/v1","api_key":"sk","model":"m"}`))
	require.NoError(t, err)
	raw, err := c.Invoke(context.Background(), contract.Batch{}, contract.ChatPrompt{
		{Role: "system", Content: "s"}, {Role: "user", Content: "u"}, {Role: contract.RoleJSONSchema, Content: "{}"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"mappings":{}}`, raw.Text)
	assert.Equal(t, "m", got.Model)
	require.Len(t, got.Messages, 2)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
}

func TestInvoke_Errors(t *testing.T) {
	status := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()
	c, err := New(json.RawMessage(`{"endpoint_path":"` + srv.URL + `","api_key":"k"}`))
	require.NoError(t, err)

	status = http.StatusTooManyRequests
	_, err = c.Invoke(context.Background(), contract.Batch{}, contract.TextPrompt("p"))
	assert.ErrorIs(t, err, contract.ErrRateLimited)

	status = http.StatusServiceUnavailable
	_, err = c.Invoke(context.Background(), contract.Batch{}, contract.TextPrompt("p"))
	var ue contract.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, 503, ue.UpstreamStatus())

	status = http.StatusUnauthorized
	_, err = c.Invoke(context.Background(), contract.Batch{}, contract.TextPrompt("p"))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	status = http.StatusOK
	_, err = c.Invoke(context.Background(), contract.Batch{}, contract.TextPrompt("p"))
	assert.ErrorIs(t, err, contract.ErrResponseInvalid)

	_, err = c.Invoke(context.Background(), contract.Batch{}, 123)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestNew_MissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := New(nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}
