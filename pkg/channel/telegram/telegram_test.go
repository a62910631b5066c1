package telegram

import (
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"agp/pkg/bus"
	"agp/pkg/config"
)

func TestNewAdapterRequiresToken(t *testing.T) {
	_, err := NewAdapter(config.TelegramConfig{}, bus.New(), slog.Default())
	if err == nil {
		t.Fatal("expected error when token is missing")
	}
}

func TestNewAdapterRequiresBus(t *testing.T) {
	_, err := NewAdapter(config.TelegramConfig{Token: "123:abc"}, nil, slog.Default())
	if err == nil {
		t.Fatal("expected error when bus is missing")
	}
}

func TestAdapterName(t *testing.T) {
	adapter, err := NewAdapter(config.TelegramConfig{Token: "123:abc"}, bus.New(), slog.Default())
	if err != nil {
		t.Fatalf("NewAdapter error: %v", err)
	}
	if got := adapter.Name(); got != "telegram" {
		t.Fatalf("Name = %q, want %q", got, "telegram")
	}
	if adapter.Running() {
		t.Fatal("expected adapter to be idle before Start")
	}
}

func TestAllowFromSet(t *testing.T) {
	allowed := allowFromSet([]string{" 123 ", "", "456", "123"})
	if len(allowed) != 2 {
		t.Fatalf("allowFromSet len = %d, want 2", len(allowed))
	}
	if _, ok := allowed["123"]; !ok {
		t.Fatal("allowFromSet missing 123")
	}
	if _, ok := allowed["456"]; !ok {
		t.Fatal("allowFromSet missing 456")
	}
}

func TestIsAllowed(t *testing.T) {
	adapter := &Adapter{allowFrom: map[string]struct{}{"1": {}}}
	if !adapter.IsAllowed("1") {
		t.Fatal("expected sender 1 to be allowed")
	}
	if adapter.IsAllowed("2") {
		t.Fatal("expected sender 2 to be denied")
	}

	adapter.allowFrom = nil
	if !adapter.IsAllowed("any") {
		t.Fatal("expected sender to be allowed when allowlist empty")
	}
}

func TestSplitMessageShort(t *testing.T) {
	chunks := splitMessage("hello")
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Fatalf("splitMessage = %v, want single chunk", chunks)
	}
}

func TestSplitMessagePrefersParagraphBoundary(t *testing.T) {
	first := strings.Repeat("a", maxMessageLength-100)
	second := strings.Repeat("b", 200)
	chunks := splitMessage(first + "\n\n" + second)

	if len(chunks) != 2 {
		t.Fatalf("splitMessage chunks = %d, want 2", len(chunks))
	}
	if chunks[0] != first {
		t.Fatalf("first chunk len = %d, want %d", len(chunks[0]), len(first))
	}
	if chunks[1] != second {
		t.Fatalf("second chunk len = %d, want %d", len(chunks[1]), len(second))
	}
}

func TestSplitMessageHardCutWithoutBoundaries(t *testing.T) {
	text := strings.Repeat("a", maxMessageLength+50)
	chunks := splitMessage(text)

	if len(chunks) != 2 {
		t.Fatalf("splitMessage chunks = %d, want 2", len(chunks))
	}
	for _, chunk := range chunks {
		if len(chunk) > maxMessageLength {
			t.Fatalf("chunk len = %d exceeds limit", len(chunk))
		}
	}
}

func TestSplitMessageHardCutKeepsRunesIntact(t *testing.T) {
	text := strings.Repeat("世", maxMessageLength)
	chunks := splitMessage(text)

	if len(chunks) < 2 {
		t.Fatalf("splitMessage chunks = %d, want at least 2", len(chunks))
	}
	var rebuilt strings.Builder
	for i, chunk := range chunks {
		if len(chunk) > maxMessageLength {
			t.Fatalf("chunk %d len = %d exceeds limit", i, len(chunk))
		}
		if !utf8.ValidString(chunk) {
			t.Fatalf("chunk %d is not valid UTF-8", i)
		}
		rebuilt.WriteString(chunk)
	}
	if rebuilt.String() != text {
		t.Fatal("chunks do not reassemble to the original text")
	}
}

func TestPreviewText(t *testing.T) {
	short := " hello "
	if got := previewText(short); got != "hello" {
		t.Fatalf("previewText short = %q, want %q", got, "hello")
	}

	long := strings.Repeat("a", messagePreviewLimit+20)
	got := previewText(long)
	if len(got) != messagePreviewLimit+3 {
		t.Fatalf("previewText long len = %d, want %d", len(got), messagePreviewLimit+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("previewText long = %q, want ellipsis suffix", got)
	}
}
