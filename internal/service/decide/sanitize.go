package decide

import "strings"

// minInterjectionRunes rejects interjections that sanitization has reduced to
// a fragment.
const minInterjectionRunes = 6

// SanitizeFallback replaces an interjection that sanitization emptied out.
const SanitizeFallback = "我理解你现在压力很大，我们先把最紧急的一件事拆小一点来处理。"

// GeneratorFallback is emitted when the generator itself fails after a
// triggered decision.
const GeneratorFallback = "我理解你现在很难受，我们先稳住情绪，再把事情按优先级一点点推进。"

var quoteGlyphs = []string{
	"“", "”", `"`, "‘", "’", "'",
	"「", "」", "『", "』", "《", "》",
}

// quoteMarkers announce a quotation of the triggering utterance; everything
// from the marker on is cut.
var quoteMarkers = []string{"你刚说", "你说", "你刚刚说", "你提到", "如你所说", "你刚才说"}

const danglingPunct = "，,、;；:："

// Sanitize strips quotation glyphs, removes any verbatim copy of the
// triggering utterance, cuts phrases that announce a quotation, and trims
// dangling trailing punctuation. It returns "" when the remainder is too
// short to stand as an interjection; callers substitute a fixed fallback.
func Sanitize(text, utterance string) string {
	text = strings.TrimSpace(text)
	utterance = strings.TrimSpace(utterance)
	if text == "" {
		return ""
	}

	for _, g := range quoteGlyphs {
		text = strings.ReplaceAll(text, g, "")
	}

	if utterance != "" {
		text = strings.TrimSpace(strings.ReplaceAll(text, utterance, ""))
	}

	for _, marker := range quoteMarkers {
		if idx := strings.Index(text, marker); idx >= 0 {
			text = strings.TrimSpace(text[:idx])
		}
	}

	if len([]rune(text)) < minInterjectionRunes {
		return ""
	}

	text = strings.TrimRight(text, danglingPunct)
	if len([]rune(text)) < minInterjectionRunes {
		return ""
	}
	return text
}
