// Package views contains the tview widgets of the terminal client.
package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/dmsync/internal/model"
	"github.com/matheus3301/dmsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationList is the recency-ordered conversation table.
type ConversationList struct {
	*tview.Table
	theme *ui.Theme
	convs []model.Conversation
}

// NewConversationList creates a new conversation list table.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Conversations ")
	table.SetTitleColor(theme.TitleColor)

	return &ConversationList{Table: table, theme: theme}
}

// Update redraws the list for selfID, keeping the cursor on selected when
// it is present.
func (cl *ConversationList) Update(convs []model.Conversation, selfID, selected string) {
	cl.convs = convs
	cl.Clear()

	header := func(col int, text string) {
		cl.SetCell(0, col, tview.NewTableCell(text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetAttributes(tcell.AttrBold))
	}
	header(0, " Who")
	header(1, " Last message")
	header(2, " When")

	for i, c := range convs {
		row := i + 1
		name := ConversationTitle(c, selfID)
		color := cl.theme.FgColor
		switch {
		case c.IsPlaceholder:
			name += " (new)"
			color = cl.theme.DraftColor
		case c.UnreadCount > 0:
			name = fmt.Sprintf("%s (%d)", name, c.UnreadCount)
			color = cl.theme.UnreadColor
		}
		preview := ""
		if c.LastMessage != nil {
			preview = oneLine(c.LastMessage.Content)
			if c.LastMessage.SenderID == selfID {
				preview = "you: " + preview
			}
		}
		cl.SetCell(row, 0, tview.NewTableCell(" "+clean(name)).SetTextColor(color).SetMaxWidth(24).SetExpansion(1))
		cl.SetCell(row, 1, tview.NewTableCell(" "+clean(preview)).SetMaxWidth(40).SetExpansion(2))
		cl.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(c.LastActivity())).SetMaxWidth(8))
		if c.ID == selected {
			cl.Select(row, 0)
		}
	}
}

// SelectedConversation returns the id under the cursor.
func (cl *ConversationList) SelectedConversation() string {
	row, _ := cl.GetSelection()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(cl.convs) {
		return cl.convs[idx].ID
	}
	return ""
}

// ConversationTitle names a conversation after the other participant.
func ConversationTitle(c model.Conversation, selfID string) string {
	if other, ok := c.Other(selfID); ok {
		return other.DisplayName()
	}
	return c.ID
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
