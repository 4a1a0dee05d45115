// Copyright 2024-2026 Aiku AI

package bridge

import "strings"

const (
	fence = "```"
	// zwsp breaks up fences inside relayed output so it cannot close the block.
	zwsp = "\u200b"
)

// DefaultCodeBlockLanguage keeps ANSI colors readable on platforms that render them.
const DefaultCodeBlockLanguage = "ansi"

// Envelope wraps relayed remote output in a fenced code block.
type Envelope struct {
	Language string
}

func (e Envelope) Wrap(text string) string {
	text = breakFences(text)
	var sb strings.Builder
	sb.Grow(len(text) + len(e.Language) + 2*len(fence) + 2)
	sb.WriteString(fence)
	sb.WriteString(e.Language)
	sb.WriteByte('\n')
	sb.WriteString(text)
	sb.WriteByte('\n')
	sb.WriteString(fence)
	return sb.String()
}

// breakFences inserts a zero-width space into every run of three backticks.
func breakFences(text string) string {
	if !strings.Contains(text, fence) {
		return text
	}
	var sb strings.Builder
	sb.Grow(len(text) + len(zwsp))
	run := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '`' {
			if run == 2 {
				sb.WriteString(zwsp)
				run = 0
			}
			run++
		} else {
			run = 0
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
