package views

import (
	"fmt"
	"time"

	"github.com/matheus3301/dmsync/internal/status"
	"github.com/matheus3301/dmsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// StatusBar displays who is logged in, the push connection, the global
// unread count and the current notice.
type StatusBar struct {
	*tview.TextView
	theme   *ui.Theme
	profile string
	user    string
	push    status.State
	unread  int
	notice  string
}

// NewStatusBar creates a new status bar.
func NewStatusBar(theme *ui.Theme) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, theme: theme}
}

// SetProfile updates the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.profile = name
	sb.render()
}

// Set updates everything that comes from a snapshot.
func (sb *StatusBar) Set(user string, push status.State, unread int, notice string) {
	sb.user, sb.push, sb.unread, sb.notice = user, push, unread, notice
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	_, _ = fmt.Fprint(sb, sb.Line(time.Now()))
}

// Line formats the bar content at now.
func (sb *StatusBar) Line(now time.Time) string {
	pushColor := sb.theme.OfflineColor
	if sb.push == status.Connected {
		pushColor = sb.theme.OnlineColor
	}
	user := sb.user
	if user == "" {
		user = "logged out"
	}
	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s%s[-] | unread %d | %s",
		clean(sb.profile), clean(user), ui.Tag(pushColor), sb.push, sb.unread, now.Format("15:04"))
	if sb.notice != "" {
		line += fmt.Sprintf(" | %s%s[-]", ui.Tag(sb.theme.NoticeColor), clean(sb.notice))
	}
	return line
}
