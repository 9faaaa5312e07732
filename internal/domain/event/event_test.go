package event

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestTerminal(t *testing.T) {
	for _, typ := range []Type{TypeError, TypeDone} {
		if !typ.Terminal() {
			t.Errorf("%s should be terminal", typ)
		}
	}
	for _, typ := range []Type{TypeStart, TypeTextDelta, TypeReasoningDelta, TypeToolCallStart, TypeToolCallResult} {
		if typ.Terminal() {
			t.Errorf("%s should not be terminal", typ)
		}
	}
}

func TestFrameOmitsUnusedFields(t *testing.T) {
	b, err := json.Marshal(Frame{Seq: 3, Type: TypeTextDelta, Delta: "hello "})
	if err != nil {
		t.Fatal(err)
	}
	got := string(b)
	if got != `{"seq":3,"type":"text-delta","delta":"hello "}` {
		t.Errorf("unexpected encoding: %s", got)
	}
	if strings.Contains(got, "toolCallId") {
		t.Error("tool fields must be omitted on text frames")
	}
}

func TestStatusFinished(t *testing.T) {
	if StatusActive.Finished() {
		t.Error("active stream is not finished")
	}
	for _, s := range []Status{StatusDone, StatusErrored, StatusCancelled} {
		if !s.Finished() {
			t.Errorf("%s should be finished", s)
		}
	}
}
