package views

import (
	"fmt"
	"strings"

	"github.com/matheus3301/dmsync/internal/model"
	"github.com/matheus3301/dmsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// MessageView displays the log of the open conversation.
type MessageView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewMessageView creates a new message view.
func NewMessageView(theme *ui.Theme) *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")
	tv.SetBorderColor(theme.BorderColor)
	tv.SetTitleColor(theme.TitleColor)

	return &MessageView{TextView: tv, theme: theme}
}

// SetTitleName updates the title with the conversation name.
func (mv *MessageView) SetTitleName(name string) {
	if name == "" {
		mv.SetTitle(" Messages ")
		return
	}
	mv.SetTitle(fmt.Sprintf(" %s ", clean(name)))
}

// Update redraws the log. Messages arrive oldest first.
func (mv *MessageView) Update(msgs []model.Message, selfID string) {
	mv.Clear()
	_, _ = fmt.Fprint(mv, Render(msgs, selfID, mv.theme))
	mv.ScrollToEnd()
}

// Render formats a message log as tview markup.
func Render(msgs []model.Message, selfID string, theme *ui.Theme) string {
	var b strings.Builder
	for _, m := range msgs {
		sender := m.Sender.DisplayName()
		if m.Sender.ID == selfID {
			sender = "You"
		}
		var state string
		switch m.State {
		case model.Pending:
			state = " " + ui.Tag(theme.PendingColor) + "sending…[-]"
		case model.Failed:
			state = fmt.Sprintf(" %snot sent, /retry %s[-]", ui.Tag(theme.FailedColor), m.ID)
		default:
			state = " [::d]#" + m.ID + "[-:-:-]"
		}
		fmt.Fprintf(&b, "[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n", clean(sender), formatTimestamp(m.CreatedAt), state)
		if m.ReplyTo != "" {
			fmt.Fprintf(&b, "[::d]↳ reply to #%s[-:-:-]\n", m.ReplyTo)
		}
		fmt.Fprintf(&b, "%s\n\n", clean(m.Content))
	}
	return b.String()
}
