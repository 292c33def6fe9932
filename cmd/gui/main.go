package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/skobkin/nctalk/internal/app"
	"github.com/skobkin/nctalk/internal/config"
	"github.com/skobkin/nctalk/internal/platform"
	"github.com/skobkin/nctalk/internal/ui"
)

type launchOptions struct {
	Room   string
	NoLock bool
}

func parseLaunchOptions(args []string) (launchOptions, error) {
	var opts launchOptions
	fs := flag.NewFlagSet(app.Name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.Room, "room", "", "room token to open on start")
	fs.BoolVar(&opts.NoLock, "no-lock", false, "skip the single-instance lock")
	if err := fs.Parse(args); err != nil {
		return launchOptions{}, err
	}
	if fs.NArg() > 0 {
		return launchOptions{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	opts.Room = strings.TrimSpace(opts.Room)

	return opts, nil
}

func main() {
	opts, err := parseLaunchOptions(os.Args[1:])
	if err != nil {
		slog.Error("parse launch options", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Initialize(ctx)
	if err != nil {
		slog.Error("initialize app runtime", "error", err)
		os.Exit(1)
	}

	var closeOnce sync.Once
	closeRuntime := func() {
		closeOnce.Do(func() {
			_ = rt.Close()
		})
	}
	defer closeRuntime()

	creds := rt.Credentials()
	if !opts.NoLock {
		lock, err := platform.AcquireInstanceLock(app.Name, platform.ProfileKey(creds.Endpoint, creds.User))
		switch {
		case errors.Is(err, platform.ErrInstanceAlreadyRunning):
			slog.Error("another nctalk instance is running for this account", "error", err)
			closeRuntime()
			os.Exit(1)
		case errors.Is(err, platform.ErrInstanceLockUnsupported):
			slog.Warn("single-instance lock unavailable", "error", err)
		case err != nil:
			slog.Warn("acquire single-instance lock", "error", err)
		default:
			defer func() {
				if relErr := lock.Release(); relErr != nil {
					slog.Warn("release single-instance lock", "error", relErr)
				}
			}()
		}
	}

	currentConfig := rt.CurrentConfig
	if opts.Room != "" {
		currentConfig = func() config.AppConfig {
			cfg := rt.CurrentConfig()
			cfg.UI.LastSelectedRoom = opts.Room

			return cfg
		}
	}

	err = ui.Run(ui.RuntimeDependencies{
		Data: ui.DataDependencies{
			Rooms:         rt.Registry,
			Bus:           rt.Bus,
			Logs:          rt.LogManager.Buffer(),
			CurrentConfig: currentConfig,
			Credentials:   creds,
			Avatar:        rt.Avatar,
		},
		Actions: ui.ActionDependencies{
			OnLogin:              rt.Connect,
			OnRoomSelected:       rt.RememberSelectedRoom,
			OnStartNotifications: rt.StartNotifications,
			OnQuit: func() {
				stop()
				closeRuntime()
			},
		},
	})
	if err != nil {
		slog.Error("run ui", "error", err)
		os.Exit(1)
	}
}
