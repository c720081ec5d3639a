package anthropic

import (
	"strings"
	"testing"
)

func TestParse_PlainStringContent(t *testing.T) {
	body := `{
		"model": "claude-3-sonnet-20240229",
		"max_tokens": 100,
		"messages": [{"role": "user", "content": "hello there"}]
	}`

	req, err := Parse([]byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(req.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(req.Messages))
	}
	if req.Messages[0].Text != "hello there" {
		t.Errorf("got text %q", req.Messages[0].Text)
	}
	if req.Messages[0].Structured != nil {
		t.Errorf("expected no structured content for a plain string message")
	}
}

func TestParse_BlockArrayContent(t *testing.T) {
	body := `{
		"model": "claude-3-sonnet-20240229",
		"max_tokens": 100,
		"messages": [{"role": "user", "content": [{"type": "text", "text": "weather?"}]}]
	}`

	req, err := Parse([]byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Messages[0].Text != "weather?" {
		t.Errorf("got text %q", req.Messages[0].Text)
	}
	if req.Messages[0].Structured == nil {
		t.Errorf("expected structured content to be preserved for a block array")
	}
}

func TestParse_ToolUseFlattening(t *testing.T) {
	body := `{
		"model": "claude-3-sonnet-20240229",
		"max_tokens": 100,
		"messages": [{"role": "assistant", "content": [
			{"type": "tool_use", "id": "t1", "name": "get_weather", "input": {"city":"Tokyo"}}
		]}]
	}`

	req, err := Parse([]byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `I used the get_weather tool with parameters: {"city":"Tokyo"}`
	if req.Messages[0].Text != want {
		t.Errorf("got %q, want %q", req.Messages[0].Text, want)
	}
}

func TestParse_ToolResultFlattening(t *testing.T) {
	withContent := `{
		"model": "claude-3-sonnet-20240229",
		"max_tokens": 100,
		"messages": [{"role": "user", "content": [
			{"type": "tool_result", "tool_use_id": "t1", "content": "72F and sunny"}
		]}]
	}`
	req, err := Parse([]byte(withContent))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "The tool execution returned: 72F and sunny"
	if req.Messages[0].Text != want {
		t.Errorf("got %q, want %q", req.Messages[0].Text, want)
	}

	blank := `{
		"model": "claude-3-sonnet-20240229",
		"max_tokens": 100,
		"messages": [{"role": "user", "content": [
			{"type": "tool_result", "tool_use_id": "t1", "content": ""}
		]}]
	}`
	req, err = Parse([]byte(blank))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Messages[0].Text != "The tool execution completed." {
		t.Errorf("got %q", req.Messages[0].Text)
	}
}

func TestParse_UnknownBlockType(t *testing.T) {
	body := `{
		"model": "claude-3-sonnet-20240229",
		"max_tokens": 100,
		"messages": [{"role": "user", "content": [{"type": "image"}]}]
	}`
	req, err := Parse([]byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Messages[0].Text != "[image]" {
		t.Errorf("got %q", req.Messages[0].Text)
	}
}

func TestParse_SystemAsBlockArray(t *testing.T) {
	body := `{
		"model": "claude-3-sonnet-20240229",
		"max_tokens": 100,
		"system": [{"type": "text", "text": "be terse"}],
		"messages": [{"role": "user", "content": "hi"}]
	}`
	req, err := Parse([]byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.System != "be terse" {
		t.Errorf("got system %q", req.System)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	body := `{"messages": []}`
	_, err := Parse([]byte(body))
	if err == nil {
		t.Fatal("expected validation error")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	joined := verrs.Error()
	for _, want := range []string{"model", "max_tokens", "messages"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected error to mention %q, got %q", want, joined)
		}
	}
}

func TestParse_BlankRoleOrContent(t *testing.T) {
	body := `{
		"model": "m",
		"max_tokens": 10,
		"messages": [{"role": "", "content": "hi"}, {"role": "user", "content": ""}]
	}`
	_, err := Parse([]byte(body))
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestParse_NonPositiveMaxTokens(t *testing.T) {
	body := `{"model": "m", "max_tokens": 0, "messages": [{"role": "user", "content": "hi"}]}`
	_, err := Parse([]byte(body))
	if err == nil {
		t.Fatal("expected validation error for max_tokens <= 0")
	}
}

func TestFlattenBlocks_RoundTripAllText(t *testing.T) {
	body := `{
		"model": "m",
		"max_tokens": 10,
		"messages": [{"role": "user", "content": [
			{"type": "text", "text": "line one"},
			{"type": "text", "text": "line two"}
		]}]
	}`
	req, err := Parse([]byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "line one\nline two"
	if req.Messages[0].Text != want {
		t.Errorf("got %q, want %q", req.Messages[0].Text, want)
	}
}
