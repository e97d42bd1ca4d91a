package main

import (
	"encoding/json"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lhuarcayat/BedrockAgent/internal/pipeline"
)

func TestNormalizeDecodesNotificationKeys(t *testing.T) {
	// S3 notifications URL-encode object keys: space becomes "+",
	// parentheses are percent-escaped.
	body := `{"Records":[{"eventSource":"aws:s3","s3":{` +
		`"bucket":{"name":"origin"},` +
		`"object":{"key":"CERL/800035887/my+scan+%281%29.pdf"}}}]}`

	out := normalize(events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m-1", Body: body},
	}})

	var payload pipeline.Payload
	require.NoError(t, json.Unmarshal([]byte(out.Records[0].Body), &payload))
	assert.Equal(t, "s3://origin/CERL/800035887/my scan (1).pdf", payload.Path)
}

func TestNormalizePassesThroughStagePayloads(t *testing.T) {
	body := `{"path":"s3://origin/RUT/901234567/rut_scan.pdf"}`

	out := normalize(events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m-1", Body: body},
	}})

	assert.Equal(t, body, out.Records[0].Body)
}
