package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/skobkin/nctalk/internal/avatars"
	"github.com/skobkin/nctalk/internal/bus"
	"github.com/skobkin/nctalk/internal/config"
	"github.com/skobkin/nctalk/internal/logging"
	"github.com/skobkin/nctalk/internal/notifications"
	"github.com/skobkin/nctalk/internal/persistence"
	"github.com/skobkin/nctalk/internal/roomsync"
	"github.com/skobkin/nctalk/internal/talk"
	"github.com/skobkin/nctalk/internal/tasks"
)

const writerQueueCapacity = 512

var ErrNotConnected = errors.New("not connected")

type Runtime struct {
	mu sync.RWMutex

	Ctx    context.Context
	cancel context.CancelFunc

	Paths  Paths
	Config config.AppConfig
	Env    config.Env

	LogManager *logging.Manager
	Bus        *bus.PubSubBus
	DB         *sql.DB

	RoomRepo    *persistence.RoomRepo
	MessageRepo *persistence.MessageRepo
	WriterQueue *persistence.WriterQueue

	Supervisor *tasks.Supervisor
	Registry   *roomsync.Registry

	client  *talk.Client
	avatars *avatars.Cache
}

// Initialize builds the runtime from the resolved user directories.
func Initialize(parent context.Context) (*Runtime, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, err
	}

	return InitializeWithPaths(parent, paths)
}

func InitializeWithPaths(parent context.Context, paths Paths) (*Runtime, error) {
	env, err := config.LoadEnv(paths.EnvFile, EnvFilename)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	cfg.Apply(env)
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:    ctx,
		cancel: cancel,
		Paths:  paths,
		Config: cfg,
		Env:    env,
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()

		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	slog.Info("starting nctalk runtime", "version", BuildVersion(), "build_date", BuildDateYMD())

	rt.Bus = bus.New(logMgr.Logger("bus"))

	var history roomsync.HistoryStore
	if cfg.Sync.CacheSize > 0 {
		db, err := persistence.Open(ctx, paths.DBFile)
		if err != nil {
			_ = rt.Close()

			return nil, err
		}
		rt.DB = db
		rt.RoomRepo = persistence.NewRoomRepo(db)
		rt.MessageRepo = persistence.NewMessageRepo(db)

		rt.WriterQueue = persistence.NewWriterQueue(logMgr.Logger("persistence"), writerQueueCapacity)
		rt.WriterQueue.Start(ctx)
		persistence.StartProjection(ctx, rt.Bus, rt.WriterQueue, rt.RoomRepo, rt.MessageRepo, logMgr.Logger("persistence.projection"))
		rt.schedulePrune(cfg.Sync.CacheSize)
		history = persistence.NewHistory(rt.RoomRepo, rt.MessageRepo)
	}

	rt.Supervisor = tasks.NewSupervisor(logMgr.Logger("tasks"), rt.Bus, cfg.Sync.SupervisorCheckInterval.Std())
	rt.Supervisor.Start(ctx)
	rt.Registry = roomsync.NewRegistry(registryConfig(cfg), rt.Supervisor, rt.Bus, history, logMgr.Logger("roomsync"))

	return rt, nil
}

func registryConfig(cfg config.AppConfig) roomsync.RegistryConfig {
	return roomsync.RegistryConfig{
		FocusedInterval:    cfg.Sync.FocusedInterval.Std(),
		BackgroundInterval: cfg.Sync.BackgroundInterval.Std(),
		CachedHistory:      cfg.Sync.HistoryLimit,
		Sync: roomsync.Options{
			LongPollTimeout: cfg.Sync.LongPollTimeout.Std(),
			HistoryLimit:    cfg.Sync.HistoryLimit,
			PollLimit:       cfg.Sync.PollLimit,
			Jitter:          cfg.Sync.Jitter,
		},
	}
}

func (r *Runtime) schedulePrune(keep int) {
	if r.WriterQueue == nil || r.MessageRepo == nil {
		return
	}
	r.WriterQueue.Enqueue("prune_messages", func(ctx context.Context) error {
		removed, err := r.MessageRepo.Prune(ctx, keep)
		if err != nil {
			return err
		}
		if removed > 0 {
			slog.Info("pruned cached messages", "removed", removed, "keep_per_room", keep)
		}

		return nil
	})
}

// Credentials returns the configured login, with the password taken from
// the environment if present.
func (r *Runtime) Credentials() config.Credentials {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.Config.Credentials(r.Env)
}

// Connect opens a session with creds and joins every conversation of the
// account. Rooms keep syncing until the runtime is closed.
func (r *Runtime) Connect(ctx context.Context, creds config.Credentials) error {
	if !creds.Complete() {
		return errors.New("endpoint, user and password are required")
	}
	client, err := talk.NewClient(talk.ClientConfig{
		Endpoint:  creds.Endpoint,
		User:      creds.User,
		Password:  creds.Password,
		Logger:    r.LogManager.Logger("talk"),
		UserAgent: HTTPUserAgent(),
	})
	if err != nil {
		return fmt.Errorf("create talk client: %w", err)
	}

	if _, err := client.CurrentUser(ctx); err != nil {
		return fmt.Errorf("log in: %w", err)
	}

	r.mu.Lock()
	r.client = client
	r.avatars = avatars.NewCache(r.Paths.AvatarsDir, client, avatars.DefaultMaxBytes, avatars.DefaultTTL, r.LogManager.Logger("avatars"))
	r.mu.Unlock()

	// A join failure of a single room is logged, not fatal for the session.
	if err := r.Registry.Start(r.Ctx, client); err != nil {
		if r.Registry.CurrentUser().ID == "" {
			return err
		}
		slog.Warn("some rooms failed to join", "error", err)
	}

	return r.rememberServer(creds)
}

func (r *Runtime) rememberServer(creds config.Credentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Config.Server.Endpoint == creds.Endpoint && r.Config.Server.User == creds.User {
		return nil
	}
	cfg := r.Config
	cfg.Server = config.ServerConfig{Endpoint: strings.TrimRight(creds.Endpoint, "/"), User: creds.User}
	if err := config.Save(r.Paths.ConfigFile, cfg); err != nil {
		return fmt.Errorf("save server settings: %w", err)
	}
	r.Config = cfg

	return nil
}

// Avatar returns the cached avatar of a room.
func (r *Runtime) Avatar(ctx context.Context, token string) ([]byte, error) {
	r.mu.RLock()
	cache := r.avatars
	r.mu.RUnlock()
	if cache == nil {
		return nil, ErrNotConnected
	}

	return cache.Get(ctx, token)
}

// StartNotifications wires desktop notifications for incoming messages.
func (r *Runtime) StartNotifications(sender notifications.Sender, isForeground func() bool) {
	service := NewNotificationService(r.Bus, r.CurrentConfig, isForeground, sender, r.LogManager.Logger("notifications"))
	service.Start(r.Ctx)
}

func (r *Runtime) CurrentConfig() config.AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.Config
}

func (r *Runtime) SaveAndApplyConfig(cfg config.AppConfig) error {
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	cfg.UI.LastSelectedRoom = r.Config.UI.LastSelectedRoom
	if err := config.Save(r.Paths.ConfigFile, cfg); err != nil {
		r.mu.Unlock()

		return err
	}
	r.Config = cfg
	r.mu.Unlock()

	if err := r.LogManager.Configure(cfg.Logging, r.Paths.LogFile); err != nil {
		return err
	}
	r.Registry.SetIntervals(cfg.Sync.FocusedInterval.Std(), cfg.Sync.BackgroundInterval.Std())

	return nil
}

func (r *Runtime) RememberSelectedRoom(token string) {
	normalized := strings.TrimSpace(token)

	r.mu.Lock()
	if r.Config.UI.LastSelectedRoom == normalized {
		r.mu.Unlock()

		return
	}
	cfg := r.Config
	cfg.UI.LastSelectedRoom = normalized
	if err := config.Save(r.Paths.ConfigFile, cfg); err != nil {
		r.mu.Unlock()
		slog.Warn("save selected room", "error", err)

		return
	}
	r.Config = cfg
	r.mu.Unlock()
}

func (r *Runtime) ClearDatabase() error {
	if r.DB == nil {
		return errors.New("message cache is disabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := persistence.ClearDatabase(ctx, r.DB); err != nil {
		return err
	}
	slog.Info("message cache cleared")

	return nil
}

func (r *Runtime) Close() error {
	if r.Registry != nil {
		r.Registry.Close()
	}
	if r.Supervisor != nil {
		r.Supervisor.Shutdown()
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.WriterQueue != nil {
		r.WriterQueue.Wait()
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.DB != nil {
		_ = r.DB.Close()
	}
	if r.LogManager != nil {
		_ = r.LogManager.Close()
	}

	return nil
}
