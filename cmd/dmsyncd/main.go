package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/dmsync/internal/config"
	"github.com/matheus3301/dmsync/internal/daemon"
	"github.com/matheus3301/dmsync/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	listenFlag := flag.String("listen", "", "listen address (overrides config)")
	configFlag := flag.String("config", "", "config file (default ~/.dmsync/config.toml)")
	resetFlag := flag.Bool("reset", false, "wipe the database before starting")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfgPath := *configFlag
	if cfgPath == "" {
		cfgPath = profile.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	listen := cfg.Server.Listen
	if *listenFlag != "" {
		listen = *listenFlag
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			Profile:  profileName,
			Listen:   listen,
			DataDir:  cfg.Server.DataDir,
			Users:    cfg.Server.Users,
			LogLevel: cfg.Log.Level,
			Reset:    *resetFlag,
		}),
	)

	app.Run()
}
