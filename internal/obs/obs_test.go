package obs

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	IncTransactionCreated()
	IncEntryMutation("add")
	IncAuthAttempt("success")
	IncAuditAppend()
}

func TestLogEventEmitsJSONLine(t *testing.T) {
	var buf bytes.Buffer
	l := Logger()
	prev := l.Writer()
	l.SetOutput(&buf)
	defer l.SetOutput(prev)

	LogEvent(map[string]any{"type": "test", "n": 1})

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if got["type"] != "test" {
		t.Fatalf("unexpected payload: %v", got)
	}
}
