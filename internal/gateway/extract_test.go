package gateway

import (
	"encoding/json"
	"testing"
)

func TestExtractText_BareString(t *testing.T) {
	ext := ExtractText([]byte(`"just a prompt"`))
	if ext == nil {
		t.Fatal("expected extraction")
	}
	if ext.Text != "just a prompt" || ext.Field != "body" {
		t.Errorf("got %q from %q", ext.Text, ext.Field)
	}
}

func TestExtractText_FieldOrder(t *testing.T) {
	// query wins over input, input over prompt.
	ext := ExtractText([]byte(`{"prompt":"c","input":"b","query":"a"}`))
	if ext == nil || ext.Text != "a" || ext.Field != "query" {
		t.Fatalf("expected query first, got %+v", ext)
	}

	ext = ExtractText([]byte(`{"prompt":"c","input":"b"}`))
	if ext == nil || ext.Text != "b" || ext.Field != "input" {
		t.Fatalf("expected input next, got %+v", ext)
	}

	ext = ExtractText([]byte(`{"prompt":"c"}`))
	if ext == nil || ext.Text != "c" || ext.Field != "prompt" {
		t.Fatalf("expected prompt last, got %+v", ext)
	}
}

func TestExtractText_LastMessageContent(t *testing.T) {
	raw := []byte(`{"messages":[{"role":"system","content":"first"},{"role":"user","content":"latest question"}]}`)
	ext := ExtractText(raw)
	if ext == nil {
		t.Fatal("expected extraction")
	}
	if ext.Text != "latest question" {
		t.Errorf("expected the last message, got %q", ext.Text)
	}
}

func TestExtractText_NothingCheckable(t *testing.T) {
	if ext := ExtractText([]byte(`{"temperature":0.7,"stream":true}`)); ext != nil {
		t.Errorf("expected nil for payload without text, got %+v", ext)
	}
	if ext := ExtractText([]byte(`not json at all`)); ext != nil {
		t.Errorf("expected nil for non-JSON payload, got %+v", ext)
	}
}

func TestExtractText_ReplacePreservesSiblings(t *testing.T) {
	raw := []byte(`{"query":"dirty text","user":"u-1","stream":false}`)
	ext := ExtractText(raw)
	if ext == nil {
		t.Fatal("expected extraction")
	}

	out, err := ext.Replace("[REDACTED]")
	if err != nil {
		t.Fatal(err)
	}
	var obj map[string]any
	if err := json.Unmarshal(out, &obj); err != nil {
		t.Fatal(err)
	}
	if obj["query"] != "[REDACTED]" {
		t.Errorf("query not replaced: %v", obj["query"])
	}
	if obj["user"] != "u-1" || obj["stream"] != false {
		t.Errorf("sibling fields damaged: %v", obj)
	}
}

func TestExtractAnswer_TopLevelThenData(t *testing.T) {
	ext := ExtractAnswer([]byte(`{"answer":"top"}`))
	if ext == nil || ext.Text != "top" || ext.Field != "answer" {
		t.Fatalf("expected top-level answer, got %+v", ext)
	}

	ext = ExtractAnswer([]byte(`{"data":{"answer":"nested","id":"x"}}`))
	if ext == nil || ext.Text != "nested" || ext.Field != "data.answer" {
		t.Fatalf("expected data.answer, got %+v", ext)
	}

	if ext := ExtractAnswer([]byte(`{"result":"no answer field"}`)); ext != nil {
		t.Errorf("expected nil, got %+v", ext)
	}
}

func TestExtractAnswer_ReplaceNested(t *testing.T) {
	ext := ExtractAnswer([]byte(`{"data":{"answer":"leaky","id":"x"},"status":"ok"}`))
	if ext == nil {
		t.Fatal("expected extraction")
	}

	out, err := ext.Replace("clean")
	if err != nil {
		t.Fatal(err)
	}
	var obj struct {
		Data struct {
			Answer string `json:"answer"`
			ID     string `json:"id"`
		} `json:"data"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(out, &obj); err != nil {
		t.Fatal(err)
	}
	if obj.Data.Answer != "clean" || obj.Data.ID != "x" || obj.Status != "ok" {
		t.Errorf("nested replace damaged the payload: %+v", obj)
	}
}
