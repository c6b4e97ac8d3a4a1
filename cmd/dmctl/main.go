package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/matheus3301/dmsync/internal/config"
	"github.com/matheus3301/dmsync/internal/identity"
	"github.com/matheus3301/dmsync/internal/model"
	"github.com/matheus3301/dmsync/internal/profile"
	"github.com/matheus3301/dmsync/internal/remote"
)

func main() {
	configFlag := flag.String("config", "", "config file (default ~/.dmsync/config.toml)")
	userFlag := flag.String("user", "", "user id to act as (overrides config)")
	serverFlag := flag.String("server", "", "server URL (overrides config)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfgPath := *configFlag
	if cfgPath == "" {
		cfgPath = profile.ConfigPath()
	}
	if args[0] == "init" {
		cmdInit(cfgPath)
		return
	}

	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		fatal(err)
	}
	if *userFlag != "" {
		cfg.Client.UserID = *userFlag
	}
	if *serverFlag != "" {
		cfg.Client.ServerURL = *serverFlag
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	if cfg.Client.UserID == "" {
		fatal(fmt.Errorf("no user: set client.user_id or pass --user"))
	}

	sess := identity.NewSession(nil)
	sess.Login(model.UserRef{ID: cfg.Client.UserID, Name: cfg.Client.UserName})
	c, err := remote.New(remote.Config{URL: cfg.Client.ServerURL, Timeout: cfg.Client.RequestTimeout.Duration}, sess)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "users":
		cmdUsers(ctx, c, *jsonFlag)
	case "conversations", "ls":
		cmdConversations(ctx, c, cfg.Client.UserID, *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fatal(fmt.Errorf("usage: dmctl messages <conversation id>"))
		}
		cmdMessages(ctx, c, args[1], cfg.Client.UserID, *jsonFlag)
	case "send":
		if len(args) < 3 {
			fatal(fmt.Errorf("usage: dmctl send <user id> <text>"))
		}
		cmdSend(ctx, c, args[1], strings.Join(args[2:], " "), *jsonFlag)
	case "unread":
		cmdUnread(ctx, c, *jsonFlag)
	case "delete":
		if len(args) < 2 {
			fatal(fmt.Errorf("usage: dmctl delete <conversation id>"))
		}
		if err := c.DeleteConversation(ctx, args[1]); err != nil {
			fatal(err)
		}
		fmt.Printf("Deleted conversation %s\n", args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: dmctl [--user <id>] [--server <url>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  init                 Write a default config file")
	fmt.Fprintln(os.Stderr, "  users                List users")
	fmt.Fprintln(os.Stderr, "  conversations        List conversations")
	fmt.Fprintln(os.Stderr, "  messages <id>        Show a conversation (marks it read)")
	fmt.Fprintln(os.Stderr, "  send <user> <text>   Send a direct message")
	fmt.Fprintln(os.Stderr, "  unread               Show the unread count")
	fmt.Fprintln(os.Stderr, "  delete <id>          Delete a conversation")
}

func cmdInit(path string) {
	if _, err := os.Stat(path); err == nil {
		fatal(fmt.Errorf("%s already exists", path))
	}
	cfg := config.Default()
	cfg.Client.UserID = "1"
	cfg.Client.UserName = "alice"
	cfg.Server.Users = []config.User{{ID: "1", Name: "alice"}, {ID: "2", Name: "bob"}, {ID: "3", Name: "carol"}}
	if err := config.Save(path, cfg); err != nil {
		fatal(err)
	}
	fmt.Printf("Wrote %s\n", path)
}

func cmdUsers(ctx context.Context, c *remote.Client, jsonOut bool) {
	users, err := c.ListUsers(ctx)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(users)
		return
	}
	for _, u := range users {
		fmt.Printf("%-8s %s\n", u.ID, u.Name)
	}
}

func cmdConversations(ctx context.Context, c *remote.Client, self string, jsonOut bool) {
	convs, err := c.ListConversations(ctx)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(convs)
		return
	}
	for _, conv := range convs {
		who := conv.ID
		if other, ok := conv.Other(self); ok {
			who = other.DisplayName()
		}
		last := ""
		if conv.LastMessage != nil {
			last = conv.LastMessage.Content
		}
		fmt.Printf("%-6s %-16s %3d  %s\n", conv.ID, who, conv.UnreadCount, last)
	}
}

func cmdMessages(ctx context.Context, c *remote.Client, id, self string, jsonOut bool) {
	msgs, err := c.GetMessages(ctx, id)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		sender := m.Sender.DisplayName()
		if m.Sender.ID == self {
			sender = "you"
		}
		fmt.Printf("#%s %s %s: %s\n", m.ID, m.CreatedAt.Local().Format("01/02 15:04"), sender, m.Content)
	}
}

func cmdSend(ctx context.Context, c *remote.Client, to, text string, jsonOut bool) {
	m, err := c.SendMessage(ctx, to, text, "")
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(m)
		return
	}
	fmt.Printf("Sent #%s in conversation %s\n", m.ID, m.ConversationID)
}

func cmdUnread(ctx context.Context, c *remote.Client, jsonOut bool) {
	n, err := c.GetUnreadCount(ctx)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(map[string]int{"count": n})
		return
	}
	fmt.Println(n)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
