package protocol

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeChatRequest(t *testing.T) {
	req, err := DecodeChatRequest([]byte(`{
		"model": " local ",
		"stream": true,
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": [{"type": "text", "text": "Hel"}, {"type": "text", "text": "lo"}]}
		]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "local", req.Model)
	assert.True(t, req.Stream)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "Hello", req.Messages[1].Content)
	assert.Nil(t, req.StructuredSchema())
}

func TestDecodeChatRequestRejectsInvalidConversations(t *testing.T) {
	cases := map[string]string{
		"empty body":      ``,
		"malformed":       `{"messages":`,
		"no messages":     `{"messages":[]}`,
		"no user":         `{"messages":[{"role":"system","content":"x"},{"role":"assistant","content":"y"}]}`,
		"assistant last":  `{"messages":[{"role":"user","content":"x"},{"role":"assistant","content":"y"}]}`,
		"unknown role":    `{"messages":[{"role":"tool","content":"x"}]}`,
		"blank user turn": `{"messages":[{"role":"user","content":"   "}]}`,
		"image segment":   `{"messages":[{"role":"user","content":[{"type":"image_url"}]}]}`,
		"json_object":     `{"messages":[{"role":"user","content":"x"}],"response_format":{"type":"json_object"}}`,
		"schema missing":  `{"messages":[{"role":"user","content":"x"}],"response_format":{"type":"json_schema"}}`,
		"unknown format":  `{"messages":[{"role":"user","content":"x"}],"response_format":{"type":"xml"}}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeChatRequest([]byte(body))
			require.Error(t, err)

			var perr *Error
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, KindBadRequest, perr.Kind)
			assert.Equal(t, http.StatusBadRequest, perr.Status())
		})
	}
}

func TestTrailingSystemMessageIsIgnoredForDriverCheck(t *testing.T) {
	_, err := DecodeChatRequest([]byte(`{"messages":[{"role":"user","content":"hi"},{"role":"system","content":"late"}]}`))
	assert.NoError(t, err)
}

func TestStructuredSchemaDecoding(t *testing.T) {
	req, err := DecodeChatRequest([]byte(`{
		"messages": [{"role": "user", "content": "give me a person"}],
		"response_format": {
			"type": "json_schema",
			"json_schema": {
				"name": "person",
				"strict": true,
				"schema": {
					"type": "object",
					"additionalProperties": {"type": "string"},
					"properties": {
						"name": {"type": ["string", "null"]},
						"tags": {"type": "array", "items": {"type": "string"}, "minItems": 1}
					},
					"required": ["name"]
				}
			}
		}
	}`))
	require.NoError(t, err)

	spec := req.StructuredSchema()
	require.NotNil(t, spec)
	assert.Equal(t, "person", spec.Name)
	assert.True(t, spec.Strict)
	assert.Equal(t, "string", spec.Schema.Properties["name"].Type)
	require.NotNil(t, spec.Schema.Properties["tags"].MinItems)
	assert.Equal(t, 1, *spec.Schema.Properties["tags"].MinItems)
	require.NotNil(t, spec.Schema.AdditionalProperties)
	assert.True(t, *spec.Schema.AdditionalProperties)
}

func TestErrorBodyAndEnvelope(t *testing.T) {
	perr := ServiceUnavailable("model is loading")
	assert.Equal(t, http.StatusServiceUnavailable, perr.Status())

	body, err := json.Marshal(perr.Body())
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":{"message":"model is loading","type":"service_unavailable_error","code":"service_unavailable"}}`, string(body))

	env := ErrorEnvelope("task-1", perr)
	assert.Equal(t, EnvelopeError, env.Type)
	assert.Equal(t, "task-1", env.ID)
	assert.JSONEq(t, `{"message":"model is loading","type":"service_unavailable_error","code":"service_unavailable"}`, string(env.Payload))

	assert.Equal(t, KindInternal, AsError(errors.New("boom")).Kind)
}

func TestNewChunkEncodesNullFinishReason(t *testing.T) {
	data, err := json.Marshal(NewChunk("id", 1, "m", Delta{Role: RoleAssistant}, ""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"id","object":"chat.completion.chunk","created":1,"model":"m",
		"choices":[{"index":0,"delta":{"role":"assistant","content":""},"finish_reason":null}]}`, string(data))
}
