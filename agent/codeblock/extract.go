package codeblock

import (
	"regexp"
	"strings"
)

// Block is one fenced code block.
type Block struct {
	Language string `json:"language,omitempty"`
	Filename string `json:"filename,omitempty"`
	Code     string `json:"code"`
}

var (
	fencePattern = regexp.MustCompile("(?s)```([\\w+#.\\-]*)[ \\t]*\\r?\\n(.*?)```")

	// filename label styles, matched against the first line of a block
	labelPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*//\s*filename:\s*(\S+)\s*$`),
		regexp.MustCompile(`(?i)^\s*#\s*filename:\s*(\S+)\s*$`),
		regexp.MustCompile(`(?i)^\s*--\s*filename:\s*(\S+)\s*$`),
		regexp.MustCompile(`(?i)^\s*<!--\s*filename:\s*(\S+)\s*-->\s*$`),
	}
)

// Extract returns the complete fenced code blocks in text, in order.
// An unterminated fence is ignored. A filename label on the first line is
// moved into Block.Filename and removed from Code.
func Extract(text string) []Block {
	matches := fencePattern.FindAllStringSubmatch(text, -1)
	blocks := make([]Block, 0, len(matches))
	for _, m := range matches {
		b := Block{Language: m[1], Code: m[2]}
		first, rest, _ := strings.Cut(b.Code, "\n")
		if name := parseLabel(first); name != "" {
			b.Filename = name
			b.Code = rest
		}
		blocks = append(blocks, b)
	}
	return blocks
}

// parseLabel returns the filename named by a label line, or "".
func parseLabel(line string) string {
	line = strings.TrimRight(line, "\r")
	for _, p := range labelPatterns {
		if m := p.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return ""
}
