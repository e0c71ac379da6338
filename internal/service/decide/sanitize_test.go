package decide_test

import (
	"strings"
	"testing"

	"github.com/qiyuanwang/roundtable/backend/internal/service/decide"
)

func TestSanitizeRemovesVerbatimUtterance(t *testing.T) {
	got := decide.Sanitize("今天天气真好，不过我们可以聊聊接下来的计划", "今天天气真好")
	if strings.Contains(got, "今天天气真好") {
		t.Fatalf("verbatim utterance survived: %q", got)
	}
	if got == "" {
		t.Fatal("remainder should stand on its own")
	}
}

func TestSanitizeCutsQuoteMarkers(t *testing.T) {
	got := decide.Sanitize("我们可以先理一下思路，你刚说的那些都很重要", "压力很大")
	if got != "我们可以先理一下思路" {
		t.Fatalf("quote marker cut: got %q", got)
	}
}

func TestSanitizeStripsQuoteGlyphs(t *testing.T) {
	got := decide.Sanitize("『我们』先“稳住”，一步一步来就好", "")
	for _, glyph := range []string{"“", "”", "『", "』"} {
		if strings.Contains(got, glyph) {
			t.Fatalf("glyph %q survived: %q", glyph, got)
		}
	}
}

func TestSanitizeShortRemainderEmpties(t *testing.T) {
	if got := decide.Sanitize("好的", ""); got != "" {
		t.Fatalf("short text: got %q want empty", got)
	}
	if got := decide.Sanitize("你刚说今天天气真好", "今天天气真好"); got != "" {
		t.Fatalf("fully quoted text: got %q want empty", got)
	}
}

func TestSanitizeTrimsDanglingPunctuation(t *testing.T) {
	got := decide.Sanitize("我们先把最重要的一步想清楚，", "")
	if strings.HasSuffix(got, "，") {
		t.Fatalf("dangling punctuation survived: %q", got)
	}
}

func TestSanitizeEmptyInput(t *testing.T) {
	if got := decide.Sanitize("   ", "任何话"); got != "" {
		t.Fatalf("whitespace input: got %q", got)
	}
}
