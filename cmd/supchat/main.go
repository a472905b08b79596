package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nuvashop/supportchat/internal/app"
	"github.com/nuvashop/supportchat/internal/bus"
	"github.com/nuvashop/supportchat/internal/config"
	"github.com/nuvashop/supportchat/internal/engine"
	"github.com/nuvashop/supportchat/internal/profile"
	"github.com/nuvashop/supportchat/internal/rest"
	"github.com/nuvashop/supportchat/internal/tui"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	tokenFlag := flag.String("token", "", "auth token (overrides SUPCHAT_TOKEN and the stored token)")
	flag.Parse()

	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		fatal(err)
	}

	profileName := profile.Resolve(*profileFlag, cfg)
	if err := profile.ValidateName(profileName); err != nil {
		fatal(err)
	}

	token, err := resolveToken(*tokenFlag, profileName)
	if err != nil {
		fatal(err)
	}

	// Resolve who the token belongs to before wiring the app; privileges and
	// message authorship hang off the identity.
	ident, err := whoAmI(cfg, token)
	if err != nil {
		fatal(fmt.Errorf("resolve identity: %w", err))
	}

	var (
		client   *engine.Client
		eventBus *bus.Bus
	)
	fxApp := fx.New(
		app.Module(app.Params{
			Profile:  profileName,
			Config:   cfg,
			Token:    token,
			Identity: ident,
		}),
		fx.Populate(&client, &eventBus),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		fatal(err)
	}

	console := tui.NewApp(client, eventBus, profileName)
	runErr := console.Run()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	_ = fxApp.Stop(stopCtx)

	if runErr != nil {
		fatal(runErr)
	}
}

// resolveToken picks the auth token: flag, then SUPCHAT_TOKEN, then the
// profile's stored token file.
func resolveToken(flagValue, profileName string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if v := os.Getenv("SUPCHAT_TOKEN"); v != "" {
		return v, nil
	}
	data, err := os.ReadFile(profile.TokenPath(profileName))
	if err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token, nil
		}
	}
	return "", fmt.Errorf("no auth token: pass --token, set SUPCHAT_TOKEN, or write %s", profile.TokenPath(profileName))
}

func whoAmI(cfg *config.Config, token string) (engine.Identity, error) {
	rc := rest.NewClient(rest.Options{BaseURL: cfg.Server.BaseURL, Token: token}, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	me, err := rc.Me(ctx)
	if err != nil {
		return engine.Identity{}, err
	}
	return engine.Identity{UserID: me.ID, Name: me.Name, Agent: me.Agent}, nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
