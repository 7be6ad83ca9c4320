package telegram

import (
	"strings"
	"testing"
)

func TestCallbackDataRoundTrip(t *testing.T) {
	t.Parallel()
	data := callbackData("stop", "order-o1")
	if data != "ntf:stop:order-o1" {
		t.Fatalf("data = %q", data)
	}
	action, tag := splitCallbackData(data)
	if action != "stop" || tag != "order-o1" {
		t.Fatalf("split = %q, %q", action, tag)
	}
}

func TestCallbackDataTruncatesAt64Bytes(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", 100)
	data := callbackData("view", long)
	if len(data) != 64 {
		t.Fatalf("len = %d, want 64", len(data))
	}
	action, tag := splitCallbackData(data)
	if action != "view" {
		t.Fatalf("action = %q", action)
	}
	if !strings.HasPrefix(long, tag) {
		t.Fatalf("tag %q is not a prefix of the original", tag)
	}
}

func TestSplitCallbackDataRejectsForeign(t *testing.T) {
	t.Parallel()
	cases := []string{"", "garbage", "other:stop:o1", "ntf"}
	for _, in := range cases {
		if action, tag := splitCallbackData(in); action != "" || tag != "" {
			t.Fatalf("splitCallbackData(%q) = %q, %q, want empty", in, action, tag)
		}
	}
}

func TestSplitTextShortPassthrough(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 4000)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %v", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("line\n", 10)
	chunks := splitText(text, 22)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 22 {
			t.Fatalf("chunk %d exceeds the limit: %q", i, c)
		}
		if strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %d keeps a trailing newline: %q", i, c)
		}
	}
	if joined := strings.Join(chunks, "\n") + "\n"; strings.Count(joined, "line") != 10 {
		t.Fatalf("content lost across chunks: %q", joined)
	}
}

func TestEscapeHTML(t *testing.T) {
	t.Parallel()
	if got := escapeHTML(`<b>&`); got != "&lt;b&gt;&amp;" {
		t.Fatalf("got %q", got)
	}
}
