// Copyright 2024-2026 Aiku AI

package matrixsink

import (
	"regexp"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
)

// ansiRe matches CSI escape sequences such as colors and cursor movement.
// Matrix clients show them as garbage, so they are removed.
var ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

func stripANSI(text string) string {
	return ansiRe.ReplaceAllString(text, "")
}

// renderNotice turns markdown, usually a fenced code block of remote output,
// into a notice with an HTML body.
func renderNotice(text string) *event.MessageEventContent {
	content := format.RenderMarkdown(stripANSI(text), true, false)
	content.MsgType = event.MsgNotice
	return &content
}
