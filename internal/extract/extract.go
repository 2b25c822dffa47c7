// Package extract pulls executable code out of free-text model replies and
// checks it before it is allowed anywhere near the sandbox.
package extract

import (
	"strings"

	"dataanalyst/internal/logging"
)

const fence = "```"

// Block is a fenced code region found in a reply.
type Block struct {
	// Lang is the lower-cased info string of the fence, possibly empty.
	Lang string
	// Code is the trimmed interior of the fence.
	Code string
	// Prose is the reply with the block removed, trimmed.
	Prose string
}

type span struct {
	lang       string
	start, end int // byte offsets of the whole fenced region
	body       string
}

// Find returns the first fenced block tagged python or py, or failing that
// the first fenced block of any tag. The boolean is false when the reply has
// no complete fence or the chosen block is empty. Unterminated fences do not
// count.
func Find(reply string) (Block, bool) {
	spans := scan(reply)
	if len(spans) == 0 {
		logging.ExtractDebug("no fenced block in %d-byte reply", len(reply))
		return Block{}, false
	}

	chosen := spans[0]
	for _, s := range spans {
		if s.lang == "python" || s.lang == "py" || s.lang == "python3" {
			chosen = s
			break
		}
	}

	code := strings.TrimSpace(chosen.body)
	if code == "" {
		logging.ExtractDebug("fenced block is empty")
		return Block{}, false
	}

	prose := strings.TrimSpace(reply[:chosen.start] + reply[chosen.end:])
	logging.ExtractDebug("found %q block: %d bytes of code, %d bytes of prose", chosen.lang, len(code), len(prose))
	return Block{Lang: chosen.lang, Code: code, Prose: prose}, true
}

// scan walks the reply line by line and records every complete fenced region.
func scan(reply string) []span {
	var (
		spans   []span
		open    bool
		cur     span
		bodyPos int
	)

	pos := 0
	for pos < len(reply) {
		lineEnd := strings.IndexByte(reply[pos:], '\n')
		next := len(reply)
		if lineEnd >= 0 {
			next = pos + lineEnd + 1
		}
		line := strings.TrimSpace(reply[pos:next])

		switch {
		case !open && strings.HasPrefix(line, fence):
			info := strings.TrimSpace(strings.TrimLeft(line, "`"))
			if i := strings.IndexAny(info, " \t{"); i >= 0 {
				info = info[:i]
			}
			cur = span{lang: strings.ToLower(info), start: pos}
			bodyPos = next
			open = true
		case open && strings.Trim(line, "`") == "" && strings.HasPrefix(line, fence):
			cur.body = reply[bodyPos:pos]
			cur.end = next
			spans = append(spans, cur)
			open = false
		case open && strings.HasSuffix(line, fence):
			// Closing fence glued to the last line of code.
			closeAt := pos + strings.LastIndex(reply[pos:next], fence)
			cur.body = reply[bodyPos:closeAt]
			cur.end = next
			spans = append(spans, cur)
			open = false
		}
		pos = next
	}
	return spans
}
