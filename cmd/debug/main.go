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
	"time"

	"github.com/skobkin/nctalk/internal/app"
	"github.com/skobkin/nctalk/internal/bus"
	"github.com/skobkin/nctalk/internal/events"
	"github.com/skobkin/nctalk/internal/notifications"
	"github.com/skobkin/nctalk/internal/roomsync"
)

const maxTextPreviewLen = 120

type debugOptions struct {
	Endpoint  string
	User      string
	Rooms     []string
	Focus     string
	ListenFor time.Duration
	Notify    bool
}

func parseDebugOptions(args []string) (debugOptions, error) {
	var (
		opts  debugOptions
		rooms string
	)
	fs := flag.NewFlagSet("nctalk-debug", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.Endpoint, "endpoint", "", "server URL, overrides config")
	fs.StringVar(&opts.User, "user", "", "login name, overrides config")
	fs.StringVar(&rooms, "rooms", "", "comma separated room tokens to stream (default: all)")
	fs.StringVar(&opts.Focus, "focus", "", "room token to treat as focused")
	fs.DurationVar(&opts.ListenFor, "listen-for", 0, "listen duration, e.g. 30s")
	fs.BoolVar(&opts.Notify, "notify", false, "send desktop notifications for incoming messages")
	if err := fs.Parse(args); err != nil {
		return debugOptions{}, err
	}
	if fs.NArg() > 0 {
		return debugOptions{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if opts.ListenFor < 0 {
		return debugOptions{}, errors.New("listen-for must not be negative")
	}
	opts.Endpoint = strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	opts.User = strings.TrimSpace(opts.User)
	opts.Focus = strings.TrimSpace(opts.Focus)
	opts.Rooms = splitRooms(rooms)

	return opts, nil
}

func splitRooms(raw string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}

	return out
}

// selectRooms keeps rooms whose token is in filter, or all of them when
// filter is empty.
func selectRooms(rooms []roomsync.Room, filter []string) []roomsync.Room {
	if len(filter) == 0 {
		return rooms
	}
	allowed := make(map[string]struct{}, len(filter))
	for _, token := range filter {
		allowed[token] = struct{}{}
	}
	out := make([]roomsync.Room, 0, len(filter))
	for _, room := range rooms {
		if _, ok := allowed[room.Token]; ok {
			out = append(out, room)
		}
	}

	return out
}

func main() {
	if err := run(); err != nil {
		slog.Error("run debug tool", "error", err)
		os.Exit(1)
	}
}

func run() error {
	opts, err := parseDebugOptions(os.Args[1:])
	if err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Initialize(ctx)
	if err != nil {
		return fmt.Errorf("initialize runtime: %w", err)
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			slog.Warn("close runtime", "error", closeErr)
		}
	}()

	logger := rt.LogManager.Logger("cli")
	logger.Info("starting nctalk debug", "version", app.BuildVersion(), "build_date", app.BuildDateYMD())

	creds := rt.Credentials()
	if opts.Endpoint != "" {
		creds.Endpoint = opts.Endpoint
	}
	if opts.User != "" {
		creds.User = opts.User
	}
	if !creds.Complete() {
		return errors.New("missing credentials: set endpoint and user in config or flags, password in NCTALK_PASSWORD")
	}

	watch(ctx, rt.Bus, logger)

	if opts.Notify {
		sender := notifications.NewBeeepSender(app.Name, "", logger)
		rt.StartNotifications(sender, func() bool { return false })
	}

	logger.Info("connecting", "endpoint", creds.Endpoint, "user", creds.User)
	if err := rt.Connect(ctx, creds); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	user := rt.Registry.CurrentUser()
	logger.Info("connected", "user_id", user.ID, "display_name", user.DisplayName)

	rooms := selectRooms(rt.Registry.Rooms(), opts.Rooms)
	logger.Info("rooms", "joined", len(rt.Registry.Rooms()), "streaming", len(rooms))
	if len(opts.Rooms) > 0 && len(rooms) < len(opts.Rooms) {
		logger.Warn("some requested rooms are not joined", "requested", strings.Join(opts.Rooms, ","))
	}
	if opts.Focus != "" {
		rt.Registry.OnFocusChanged(opts.Focus)
	}

	var wg sync.WaitGroup
	for _, room := range rooms {
		sub, err := rt.Registry.Subscribe(room.Token)
		if err != nil {
			logger.Warn("subscribe room", "room", room.Token, "error", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sub.Close()
			streamLines(ctx, logger, room.DisplayName, sub)
		}()
	}

	if opts.ListenFor > 0 {
		logger.Info("listen mode", "duration", opts.ListenFor)
		select {
		case <-ctx.Done():
		case <-time.After(opts.ListenFor):
		}
		stop()
	} else {
		logger.Info("listening until interrupt")
		<-ctx.Done()
	}
	wg.Wait()

	return nil
}

func streamLines(ctx context.Context, logger *slog.Logger, name string, sub *roomsync.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			logger.Info("room stream ended", "room", name)
			return
		case line, ok := <-sub.Lines():
			if !ok {
				return
			}
			logger.Info("line", "room", name, "history", line.History, "text", formatLine(line))
		}
	}
}

func formatLine(line events.RoomLine) string {
	if line.Kind == events.LineDateSeparator {
		return "--- " + line.Text + " ---"
	}
	msg := line.Message
	sender := strings.TrimSpace(msg.ActorDisplayName)
	if sender == "" {
		sender = msg.ActorID
	}
	text := line.Text
	if text == "" {
		text = msg.Text
	}

	return fmt.Sprintf("#%d %s %s: %s", msg.ID, line.At.Format("15:04:05"), sender, previewText(text))
}

func previewText(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= maxTextPreviewLen {
		return text
	}

	return string(runes[:maxTextPreviewLen]) + "..."
}

func watch(ctx context.Context, b bus.MessageBus, logger *slog.Logger) {
	topics := []string{
		events.TopicRoomJoined,
		events.TopicRoomLeft,
		events.TopicRoomHealth,
		events.TopicRoomCursor,
		events.TopicFocus,
		events.TopicTaskFailed,
	}
	sub := b.Subscribe(topics...)

	go func() {
		defer b.Unsubscribe(sub, topics...)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				switch ev := raw.(type) {
				case events.RoomJoined:
					logger.Info("room joined", "room", ev.Token, "name", ev.DisplayName)
				case events.RoomLeft:
					logger.Info("room left", "room", ev.Token)
				case events.HealthChanged:
					logger.Info("health", "room", ev.Token, "state", ev.Health, "error", ev.Err)
				case events.CursorAdvanced:
					logger.Debug("cursor", "room", ev.Token, "last_read", ev.LastRead, "last_common_read", ev.LastCommonRead)
				case events.FocusChanged:
					logger.Info("focus", "room", ev.Token)
				case events.TaskFailed:
					logger.Warn("task failed", "task", ev.Name, "id", ev.TaskID, "error", ev.Err)
				}
			}
		}
	}()
}
