package jsonutil

import (
	"errors"
	"testing"
)

func TestStripMarkdownFences(t *testing.T) {
	in := "```json\n{\"items\":[]}\n```"
	if got := StripMarkdownFences(in); got != `{"items":[]}` {
		t.Errorf("got %q", got)
	}
	if got := StripMarkdownFences("  plain  "); got != "plain" {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"prose around", `Here you go: {"a":{"b":2}} hope that helps {x}`, `{"a":{"b":2}}`},
		{"brace in string", `{"note":"use } carefully"} trailing }`, `{"note":"use } carefully"}`},
		{"escaped quote", `{"q":"say \"}\""}`, `{"q":"say \"}\""}`},
		{"array first", `[1,{"a":2}] and {"b":3}`, `[1,{"a":2}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if err != nil || got != tt.want {
				t.Errorf("ExtractJSON(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
			}
		})
	}

	if _, err := ExtractJSON("no json here"); !errors.Is(err, ErrNoJSON) {
		t.Errorf("expected ErrNoJSON, got %v", err)
	}
	if _, err := ExtractJSON(`{"a":1`); err == nil {
		t.Error("expected unterminated error")
	}
}

func TestParseJSON(t *testing.T) {
	type menu struct {
		Items []struct {
			Name string `json:"name"`
		} `json:"items"`
	}
	got, err := ParseJSON[menu]("```json\n{\"items\":[{\"name\":\"Pho\"}]}\n```")
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].Name != "Pho" {
		t.Errorf("got %+v", got)
	}

	if _, err := ParseJSON[menu](`{"items": "nope"}`); err == nil {
		t.Error("expected type error")
	}
	if _, err := ExtractRaw(`{"a": tru}`); err == nil {
		t.Error("expected invalid JSON error")
	}
}
