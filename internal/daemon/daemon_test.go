package daemon

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/dmsync/internal/config"
	"github.com/matheus3301/dmsync/internal/identity"
	"github.com/matheus3301/dmsync/internal/lock"
	"github.com/matheus3301/dmsync/internal/model"
	"github.com/matheus3301/dmsync/internal/profile"
	"github.com/matheus3301/dmsync/internal/remote"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

func testParams(t *testing.T) Params {
	t.Helper()
	t.Setenv(profile.HomeEnv, t.TempDir())
	return Params{
		Profile: "test",
		Listen:  "127.0.0.1:0",
		DataDir: filepath.Join(t.TempDir(), "data"),
		Users: []config.User{
			{ID: "1", Name: "alice"},
			{ID: "2", Name: "bob"},
		},
		LogLevel: "debug",
		Quiet:    true,
	}
}

func client(t *testing.T, url string, u model.UserRef) *remote.Client {
	t.Helper()
	sess := identity.NewSession(nil)
	sess.Login(u)
	c, err := remote.New(remote.Config{URL: url, Timeout: 5 * time.Second}, sess)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestServerLifecycle(t *testing.T) {
	p := testParams(t)
	var srv *Server
	app := fxtest.New(t, Module(p), fx.Populate(&srv))
	app.RequireStart()

	ctx := context.Background()
	alice := client(t, srv.URL(), model.UserRef{ID: "1", Name: "alice"})
	users, err := alice.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers error = %v", err)
	}
	if len(users) != 2 {
		t.Errorf("seeded users = %+v, want 2", users)
	}

	sent, err := alice.SendMessage(ctx, "2", "hello", "")
	if err != nil {
		t.Fatalf("SendMessage error = %v", err)
	}
	bob := client(t, srv.URL(), model.UserRef{ID: "2", Name: "bob"})
	if n, err := bob.GetUnreadCount(ctx); err != nil || n != 1 {
		t.Errorf("bob unread = %d, %v; want 1", n, err)
	}
	app.RequireStop()

	// Data survives a restart.
	var again *Server
	app2 := fxtest.New(t, Module(p), fx.Populate(&again))
	app2.RequireStart()
	defer app2.RequireStop()
	bob = client(t, again.URL(), model.UserRef{ID: "2", Name: "bob"})
	msgs, err := bob.GetMessages(ctx, sent.ConversationID)
	if err != nil {
		t.Fatalf("GetMessages after restart error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Errorf("messages after restart = %+v", msgs)
	}
}

// TestSecondServerRefusesDataDir verifies the data dir lock keeps a second
// server off a database that is already in use.
func TestSecondServerRefusesDataDir(t *testing.T) {
	p := testParams(t)
	app := fxtest.New(t, Module(p))
	app.RequireStart()
	defer app.RequireStop()

	err := fx.New(Module(p), fx.NopLogger).Err()
	if err == nil {
		t.Fatal("second server should fail to start")
	}
	var held *lock.HeldError
	if !errors.As(err, &held) {
		t.Errorf("error = %v, want HeldError", err)
	}
}

func TestResetWipesData(t *testing.T) {
	p := testParams(t)
	var srv *Server
	app := fxtest.New(t, Module(p), fx.Populate(&srv))
	app.RequireStart()
	ctx := context.Background()
	if _, err := client(t, srv.URL(), model.UserRef{ID: "1"}).SendMessage(ctx, "2", "hello", ""); err != nil {
		t.Fatal(err)
	}
	app.RequireStop()

	p.Reset = true
	var again *Server
	app2 := fxtest.New(t, Module(p), fx.Populate(&again))
	app2.RequireStart()
	defer app2.RequireStop()
	convs, err := client(t, again.URL(), model.UserRef{ID: "1"}).ListConversations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 0 {
		t.Errorf("conversations after reset = %+v, want none", convs)
	}
}
