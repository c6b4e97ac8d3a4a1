package inbox

import (
	"context"
	"fmt"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/config"
	"github.com/matheus3301/dmsync/internal/identity"
	"github.com/matheus3301/dmsync/internal/logging"
	"github.com/matheus3301/dmsync/internal/model"
	"github.com/matheus3301/dmsync/internal/notice"
	"github.com/matheus3301/dmsync/internal/profile"
	"github.com/matheus3301/dmsync/internal/push"
	"github.com/matheus3301/dmsync/internal/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved client configuration passed to the fx module.
type Params struct {
	Profile  string
	Program  string // log file name; empty = "dmsync"
	Client   config.ClientConfig
	LogLevel string
	Quiet    bool
}

// Module returns the fx module for a client: a logged-in session, the REST
// client, the push channel and the inbox, started and stopped with the app.
func Module(p Params) fx.Option {
	return fx.Module("inbox",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideSession,
			provideRemote,
			providePusher,
			provideNotices,
			provideInbox,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	program := p.Program
	if program == "" {
		program = "dmsync"
	}
	return logging.New(profile.LogPath(p.Profile, program), logging.Options{
		Level: p.LogLevel,
		Quiet: p.Quiet,
		Fields: []zap.Field{
			zap.String("profile", p.Profile),
			zap.String("user_id", p.Client.UserID),
		},
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideSession(p Params, b *bus.Bus) (*identity.Session, error) {
	if p.Client.UserID == "" {
		return nil, fmt.Errorf("client.user_id is not configured")
	}
	s := identity.NewSession(b)
	s.Login(model.UserRef{ID: p.Client.UserID, Name: p.Client.UserName})
	return s, nil
}

func provideRemote(p Params, s *identity.Session) (*remote.Client, error) {
	return remote.New(remote.Config{
		URL:     p.Client.ServerURL,
		Timeout: p.Client.RequestTimeout.Duration,
	}, s)
}

func providePusher(p Params, s *identity.Session, b *bus.Bus, logger *zap.Logger) *push.Channel {
	return push.New(push.Config{
		URL:             p.Client.ServerURL,
		ReconnectPeriod: p.Client.ReconnectPeriod.Duration,
	}, s, b, logger.Named("push"))
}

func provideNotices(b *bus.Bus) *notice.Board {
	return notice.NewBoard(b)
}

func provideInbox(b *bus.Bus, s *identity.Session, r *remote.Client, ch *push.Channel, n *notice.Board, logger *zap.Logger) *Inbox {
	return New(Deps{
		Bus:     b,
		Session: s,
		Remote:  r,
		Pusher:  ch,
		Notices: n,
		Logger:  logger,
	})
}

func registerLifecycle(lc fx.Lifecycle, ib *Inbox, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Background work outlives the start deadline.
			return ib.Start(context.Background())
		},
		OnStop: func(_ context.Context) error {
			ib.Stop()
			_ = logger.Sync()
			return nil
		},
	})
}
