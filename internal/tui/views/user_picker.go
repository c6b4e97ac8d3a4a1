package views

import (
	"github.com/matheus3301/dmsync/internal/model"
	"github.com/matheus3301/dmsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// UserPicker lists the users a new conversation can be started with.
type UserPicker struct {
	*tview.List
	users  []model.UserRef
	onPick func(model.UserRef)
}

// NewUserPicker creates an empty picker.
func NewUserPicker(theme *ui.Theme) *UserPicker {
	list := tview.NewList().ShowSecondaryText(false)
	list.SetBorder(true).SetTitle(" New conversation ")
	list.SetBorderColor(theme.BorderFocusColor)
	list.SetTitleColor(theme.TitleColor)

	p := &UserPicker{List: list}
	list.SetSelectedFunc(func(i int, _, _ string, _ rune) {
		if i >= 0 && i < len(p.users) && p.onPick != nil {
			p.onPick(p.users[i])
		}
	})
	return p
}

// SetOnPick sets the callback when a user is chosen.
func (p *UserPicker) SetOnPick(fn func(model.UserRef)) {
	p.onPick = fn
}

// Update replaces the listed users.
func (p *UserPicker) Update(users []model.UserRef) {
	p.users = users
	p.Clear()
	for _, u := range users {
		p.AddItem(clean(u.DisplayName()), "", 0, nil)
	}
}
