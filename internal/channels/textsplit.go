package channels

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// chatMessageLimit is the conservative per-message size both wired chat
// platforms accept (Discord caps at 2000 characters, Telegram at 4096;
// splitting at the lower bound keeps one code path).
const chatMessageLimit = 2000

// splitForChat breaks text into chunks a chat platform will accept,
// packing whole lines and breaking only at line ends (a single line wider
// than the limit is hard-wrapped), measuring by display width so
// CJK-heavy responses don't overshoot a platform's rendering limit even
// when they fit its byte limit.
func splitForChat(text string, limit int) []string {
	if limit <= 0 {
		limit = chatMessageLimit
	}
	if runewidth.StringWidth(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	currentWidth := 0

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimRight(current.String(), "\n"))
			current.Reset()
			currentWidth = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		w := runewidth.StringWidth(line)
		if currentWidth+w > limit {
			flush()
		}
		// A single line wider than the limit is hard-wrapped.
		for runewidth.StringWidth(line) > limit {
			head := runewidth.Truncate(line, limit, "")
			chunks = append(chunks, head)
			line = line[len(head):]
			w = runewidth.StringWidth(line)
		}
		current.WriteString(line)
		currentWidth += w
	}
	flush()
	return chunks
}
