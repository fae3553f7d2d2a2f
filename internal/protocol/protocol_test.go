package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_Decode(t *testing.T) {
	body := `{
	  "client_code": "BOT-YT-001",
	  "events": [
	    {"type": "request_job", "replyToken": "rt_9f00000000000001", "timestamp": 1719830000000, "payload": {}},
	    {"type": "heartbeat", "replyToken": "rt_9f00000000000002", "timestamp": 1719830001000, "payload": {"battery": 80}}
	  ]
	}`

	var env MessageEnvelope
	require.NoError(t, json.Unmarshal([]byte(body), &env))

	assert.Equal(t, "BOT-YT-001", env.ClientCode)
	require.Len(t, env.Events, 2)
	assert.Equal(t, EventRequestJob, env.Events[0].Type)
	assert.Equal(t, "rt_9f00000000000001", env.Events[0].ReplyToken)
	assert.Equal(t, time.UnixMilli(1719830000000), env.Events[0].Time())
	assert.Equal(t, float64(80), env.Events[1].Payload["battery"])
}

func TestResponseEnvelope_Golden(t *testing.T) {
	responses := []ResponseEnvelope{
		{
			ReplyToken: "rt_9f00000000000001",
			Messages: []ResponseMessage{
				NewJobAssignment(4711, "/api/video/abc123", map[string]any{
					"title":   "Wireless Earbuds",
					"tags":    []string{"earbuds", "audio"},
					"privacy": "public",
				}),
			},
		},
		{
			ReplyToken: "rt_9f00000000000002",
			Messages:   []ResponseMessage{NewAck()},
		},
		{
			ReplyToken: "rt_9f00000000000003",
			Messages:   []ResponseMessage{NewText("no jobs available")},
		},
		{
			ReplyToken: "rt_9f00000000000004",
			Messages:   []ResponseMessage{NewError(CodeUnknownEvent, "unknown event type \"bogus\"")},
		},
	}

	data, err := json.MarshalIndent(responses, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "response_envelopes", data)
}

func TestResponseMessage_OmitsUnusedFields(t *testing.T) {
	data, err := json.Marshal(NewAck())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ack"}`, string(data))

	data, err = json.Marshal(NewText("hi"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"text","text":"hi"}`, string(data))
}

func TestGenerateReplyToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token := GenerateReplyToken()
		assert.Regexp(t, `^rt_[0-9a-f]{16}$`, token)
		assert.False(t, seen[token], "token %s repeated", token)
		seen[token] = true
	}
}
