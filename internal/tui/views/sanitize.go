package views

import (
	"strings"

	"github.com/rivo/tview"
)

// clean prepares user text for a tview cell or text view: it escapes color
// tags and drops codepoints tcell renders badly (skin tone modifiers, zero
// width joiners and variation selectors), collapsing emoji sequences to
// their base glyph.
func clean(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 0x1F3FB && r <= 0x1F3FF,
			r == 0x200D,
			r >= 0xFE00 && r <= 0xFE0F,
			r >= 0xE0100 && r <= 0xE01EF:
			return -1
		}
		return r
	}, s)
	return tview.Escape(s)
}

// oneLine flattens s for single-line cells.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
