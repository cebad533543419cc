package textgen

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"luarename/pkg/contract"
)

func newClient(t *testing.T, url string) contract.LLMClient {
	t.Helper()
	raw, _ := json.Marshal(Options{URL: url, Model: "m1", APIKey: "k"})
	c, err := New(raw)
	require.NoError(t, err)
	return c
}

func TestInvoke_RequestShapeAndRawText(t *testing.T) {
	var got tgReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &got))
		_, _ = w.Write([]byte("Sure: {\"mappings\":{\"v1\":\"x\"}}"))
	}))
	defer srv.Close()

	raw, err := newClient(t, srv.URL).Invoke(context.Background(), contract.Batch{}, contract.ChatPrompt{
		{Role: "system", Content: "S"}, {Role: "user", Content: "U"}, {Role: contract.RoleJSONSchema, Content: "{}"},
	})
	require.NoError(t, err)
	assert.Equal(t, "S\n\nU", got.Prompt)
	assert.Equal(t, "m1", got.Model)
	assert.Equal(t, "Sure: {\"mappings\":{\"v1\":\"x\"}}", raw.Text)
}

func TestInvoke_Envelopes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"代理信封", `{"mappings":{"v1":"a"}}`, `{"mappings":{"v1":"a"}}`},
		{"OpenAI信封", `{"choices":[{"message":{"content":"{\"v1\":\"b\"}"}}]}`, `{"v1":"b"}`},
		{"text字段", `{"text":"hello"}`, "hello"},
		{"未知JSON原样", `{"v1":"c"}`, `{"v1":"c"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			raw, err := newClient(t, srv.URL).Invoke(context.Background(), contract.Batch{}, contract.TextPrompt("p"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, raw.Text)
		})
	}
}

func TestInvoke_ErrorClassification(t *testing.T) {
	status := 0
	body := ""
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()
	c := newClient(t, srv.URL)

	status, body = http.StatusTooManyRequests, ""
	_, err := c.Invoke(context.Background(), contract.Batch{}, contract.TextPrompt("p"))
	assert.ErrorIs(t, err, contract.ErrRateLimited)

	status, body = http.StatusBadGateway, `{"mappings":{},"error":"upstream failed","details":"boom"}`
	_, err = c.Invoke(context.Background(), contract.Batch{}, contract.TextPrompt("p"))
	var he *contract.HTTPError
	require.True(t, errors.As(err, &he))
	assert.True(t, he.Transient())
	assert.NotErrorIs(t, err, contract.ErrInvalidInput)
	var ue contract.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, 502, ue.UpstreamStatus())
	assert.Equal(t, "upstream failed boom", ue.UpstreamMessage())

	status, body = http.StatusBadRequest, "bad"
	_, err = c.Invoke(context.Background(), contract.Batch{}, contract.TextPrompt("p"))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	status, body = http.StatusOK, `{"error":"no model"}`
	_, err = c.Invoke(context.Background(), contract.Batch{}, contract.TextPrompt("p"))
	assert.ErrorIs(t, err, contract.ErrResponseInvalid)

	status, body = http.StatusOK, "   "
	_, err = c.Invoke(context.Background(), contract.Batch{}, contract.TextPrompt("p"))
	assert.ErrorIs(t, err, contract.ErrResponseInvalid)
}

func TestInvoke_EmptyPrompt(t *testing.T) {
	c := newClient(t, "http://127.0.0.1:1")
	_, err := c.Invoke(context.Background(), contract.Batch{}, contract.TextPrompt(" "))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(json.RawMessage(`{"url":"ftp://x"}`))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = New(nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestInvoke_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newClient(t, srv.URL).Invoke(ctx, contract.Batch{}, contract.TextPrompt("p"))
	assert.ErrorIs(t, err, context.Canceled)
}
