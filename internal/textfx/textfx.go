// Package textfx renders inline markup in chat message bodies as ANSI styled text.
// It is a pure formatting helper: no state, one string in, one string out.
package textfx

import (
	"fmt"
	"regexp"

	"github.com/gookit/color"
)

var (
	redTag       = regexp.MustCompile(`#r(.*?)r#`)
	greenTag     = regexp.MustCompile(`#g(.*?)g#`)
	blueTag      = regexp.MustCompile(`#b(.*?)b#`)
	boldTag      = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicTag    = regexp.MustCompile(`\*(.+?)\*`)
	underlineTag = regexp.MustCompile(`_(.+?)_`)
)

// FormatText replaces markup symbols with ANSI escape sequences:
// #r..r#, #g..g#, #b..b# for colors, **bold**, *italic*, _underline_.
// Color tags are resolved first so style tags may nest inside them.
func FormatText(text string) string {
	if text == "" {
		return text
	}

	text = redTag.ReplaceAllString(text, color.Red.Render("$1"))
	text = greenTag.ReplaceAllString(text, color.Green.Render("$1"))
	text = blueTag.ReplaceAllString(text, color.Blue.Render("$1"))

	// Non-greedy quantifiers keep nested styles intact.
	text = boldTag.ReplaceAllString(text, color.Bold.Render("$1"))
	text = italicTag.ReplaceAllString(text, color.OpItalic.Render("$1"))
	text = underlineTag.ReplaceAllString(text, color.OpUnderscore.Render("$1"))

	return text
}

// Colorize wraps the whole text in a single color.
func Colorize(text string, c color.Color) string {
	return c.Render(text)
}

// FormatRollResult styles a dice roll announcement.
func FormatRollResult(senderName string, total int, details string) string {
	return Colorize(fmt.Sprintf("[Roll] %s rolled: %d (%s)", senderName, total, details), color.Cyan)
}

// FormatFlipResult styles a coin flip announcement.
func FormatFlipResult(senderName, result string) string {
	return Colorize(fmt.Sprintf("[Flip] %s flipped a coin: %s", senderName, result), color.Yellow)
}
