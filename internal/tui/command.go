package tui

import (
	"fmt"
	"strings"
)

// Command represents a parsed slash command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a command line (without the leading '/').
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}

// ReplyArgs splits "/reply <id> <text>" arguments.
func (c Command) ReplyArgs() (id, text string, err error) {
	id, text, ok := strings.Cut(c.Args, " ")
	text = strings.TrimSpace(text)
	if !ok || id == "" || text == "" {
		return "", "", fmt.Errorf("usage: /reply <message id> <text>")
	}
	return strings.TrimPrefix(id, "#"), text, nil
}

const commandHelp = "/new [name]  /reply <id> <text>  /retry <id>  /delete  /refresh  /logout  /quit"
