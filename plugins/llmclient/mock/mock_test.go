package mock

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"luarename/pkg/contract"
)

var batch = contract.Batch{Identifiers: []contract.Identifier{{Name: "v1", Occurrences: 1}, {Name: "v2", Occurrences: 2}}}

func TestMappingsMode(t *testing.T) {
	c, err := New(json.RawMessage(`{"prefix":"x"}`))
	require.NoError(t, err)
	raw, err := c.Invoke(context.Background(), batch, contract.TextPrompt("hi"))
	require.NoError(t, err)
	var out struct {
		Mappings map[string]string `json:"mappings"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw.Text), &out))
	assert.Equal(t, map[string]string{"v1": "x_v1", "v2": "x_v2"}, out.Mappings)
}

func TestOtherModes(t *testing.T) {
	c, _ := New(json.RawMessage(`{"response_mode":"same","prefix":"dup"}`))
	raw, err := c.Invoke(context.Background(), batch, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"mappings":{"v1":"dup","v2":"dup"}}`, raw.Text)

	c, _ = New(json.RawMessage(`{"response_mode":"empty"}`))
	raw, _ = c.Invoke(context.Background(), batch, nil)
	assert.Equal(t, `{"mappings":{}}`, raw.Text)

	c, _ = New(json.RawMessage(`{"response_mode":"fenced"}`))
	raw, _ = c.Invoke(context.Background(), batch, nil)
	assert.Contains(t, raw.Text, "```json\n{\"mappings\":")

	c, _ = New(json.RawMessage(`{"response_mode":"echo"}`))
	raw, _ = c.Invoke(context.Background(), batch, contract.TextPrompt("hello"))
	assert.Equal(t, "hello", raw.Text)

	c, _ = New(json.RawMessage(`{"response_mode":"bogus"}`))
	_, err = c.Invoke(context.Background(), batch, nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestCanceled(t *testing.T) {
	c, _ := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Invoke(ctx, batch, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
