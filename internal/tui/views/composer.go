package views

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the text input for messages and slash commands.
type Composer struct {
	*tview.InputField
	onSend    func(text string)
	onCommand func(line string)
}

// NewComposer creates a new message composer.
func NewComposer() *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0).
		SetPlaceholder("type a message, or /help")

	c := &Composer{InputField: input}

	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := c.GetText()
		if strings.TrimSpace(text) == "" {
			return
		}
		c.SetText("")
		if line, ok := strings.CutPrefix(text, "/"); ok {
			if c.onCommand != nil {
				c.onCommand(line)
			}
			return
		}
		if c.onSend != nil {
			c.onSend(text)
		}
	})

	return c
}

// SetOnSend sets the callback when a message is entered.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

// SetOnCommand sets the callback for lines starting with '/'.
func (c *Composer) SetOnCommand(fn func(line string)) {
	c.onCommand = fn
}
