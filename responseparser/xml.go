package responseparser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// scanXML implements the optional XML tool-calling fallback (spec §4.4,
// §9). It maintains a continuous buffer of concatenated text across
// chunks so a <tool>...</tool> region split across chunk boundaries is
// still recognized. Only complete regions are converted to synthesized
// tool-call events; a half-open tag is held back as buffered state until
// more text arrives, never emitted early.
//
// Returns the portion of newText that is safe to surface as plain text
// right now (chunkText), plus any additional events synthesized from
// completed <tool> regions.
func (p *Parser) scanXML(newText string, events []Event) (string, []Event) {
	p.xmlBuf.WriteString(newText)
	buf := p.xmlBuf.String()

	var emit strings.Builder
	for {
		start := strings.Index(buf, "<tool")
		if start == -1 {
			// No tag start in the remainder. Withhold the longest tail that
			// is a prefix of "<tool", in case the tag arrives split across
			// chunks.
			safe := len(buf)
			for k := len("<tool") - 1; k > 0; k-- {
				if strings.HasSuffix(buf, "<tool"[:k]) {
					safe = len(buf) - k
					break
				}
			}
			emit.WriteString(buf[:safe])
			buf = buf[safe:]
			break
		}
		// Flush any plain text preceding the tag.
		emit.WriteString(buf[:start])
		rest := buf[start:]

		if p.opts.XML.MaxCalls > 0 && p.xmlCount >= p.opts.XML.MaxCalls {
			// Limit reached: treat remaining <tool> occurrences as plain text.
			emit.WriteString(rest)
			buf = ""
			break
		}

		end := findToolClose(rest)
		if end == -1 {
			// Incomplete tag; hold the rest back for the next chunk.
			buf = rest
			break
		}

		region := rest[:end]
		buf = rest[end:]

		if name, args, ok := parseToolRegion(region); ok {
			p.xmlCount++
			argsJSON, _ := json.Marshal(args)
			idx := 100000 + p.xmlCount // disjoint from native tool_call indices
			events = append(events, Event{
				Kind: EventToolCallFinalized,
				Finalized: FinalToolCall{
					Index:     idx,
					ID:        fmt.Sprintf("xml_%d", p.xmlCount),
					Name:      name,
					Arguments: string(argsJSON),
				},
			})
		} else {
			// Malformed region: surface it as plain text rather than drop it.
			emit.WriteString(region)
		}
	}

	p.xmlBuf.Reset()
	p.xmlBuf.WriteString(buf)
	return emit.String(), events
}

// findToolClose returns the index just past the first "</tool>" in s, or
// -1 if s does not yet contain a complete closing tag.
func findToolClose(s string) int {
	idx := strings.Index(s, "</tool>")
	if idx == -1 {
		return -1
	}
	return idx + len("</tool>")
}

var (
	toolNameRe = regexp.MustCompile(`^<tool\s+name="([^"]*)"\s*>`)
	argRe      = regexp.MustCompile(`<arg\s+name="([^"]*)"\s*>(.*?)</arg>`)
)

// parseToolRegion extracts the tool name and ordered args from a complete
// "<tool name="...">...<arg name="...">...</arg>...</tool>" region.
func parseToolRegion(region string) (name string, args map[string]string, ok bool) {
	m := toolNameRe.FindStringSubmatch(region)
	if m == nil {
		return "", nil, false
	}
	name = m[1]
	args = make(map[string]string)
	for _, am := range argRe.FindAllStringSubmatch(region, -1) {
		args[am[1]] = am[2]
	}
	return name, args, true
}
