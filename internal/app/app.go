package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/forest/internal/air"
	"github.com/MrSnakeDoc/forest/internal/branch"
	"github.com/MrSnakeDoc/forest/internal/config"
	"github.com/MrSnakeDoc/forest/internal/druid"
	"github.com/MrSnakeDoc/forest/internal/emperor"
	"github.com/MrSnakeDoc/forest/internal/httpserver"
	"github.com/MrSnakeDoc/forest/internal/httpserver/deps"
	"github.com/MrSnakeDoc/forest/internal/logger"
	"github.com/MrSnakeDoc/forest/internal/logstream"
	"github.com/MrSnakeDoc/forest/internal/peer"
	"github.com/MrSnakeDoc/forest/internal/redis"
	"github.com/MrSnakeDoc/forest/internal/scheduler"
	"github.com/MrSnakeDoc/forest/internal/species"
	"github.com/MrSnakeDoc/forest/internal/store"
	redisstore "github.com/MrSnakeDoc/forest/internal/store/redis"
	"github.com/MrSnakeDoc/forest/internal/utils"
	"github.com/MrSnakeDoc/forest/internal/version"
)

// stream binds a log source to the component consuming its lines.
type stream struct {
	name    string
	source  logstream.Source
	handler logstream.Handler
}

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client

	emperor *emperor.Emperor
	branch  *branch.Branch
	air     *air.Air
	druid   *druid.Druid

	streams    []stream
	poller     *scheduler.StatusPoller
	reconciler *scheduler.Reconciler
}

// New wires the components of every configured role. Nothing is started.
func New(cfg *config.Config) (*App, error) {
	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)
	a := &App{cfg: cfg, logger: loggerClient}

	topo, err := config.LoadTopology(cfg.TopologyFile)
	if err != nil {
		return nil, err
	}

	// Initialize Redis early - fail fast if unavailable
	if cfg.NeedsRedis() {
		loggerClient.Infof("Connecting to Redis at %s", cfg.RedisAddr)
		a.redisClient, err = redis.New(redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			RedisDB:        cfg.RedisDB,
			DialTimeout:    cfg.RedisDT,
			ReadTimeout:    cfg.RedisRT,
			WriteTimeout:   cfg.RedisWT,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
			WarnThreshold:  cfg.RedisWarnThreshold,
		}, loggerClient)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		loggerClient.Info("Redis initialized successfully")
	}

	if cfg.HasRole(config.RoleBranch) || cfg.HasRole(config.RoleAir) {
		if err := a.wireEmperor(topo); err != nil {
			a.closeStreams()
			return nil, err
		}
	}

	if cfg.HasRole(config.RoleDruid) {
		a.druid = druid.New(
			topo.Druid(),
			a.newStore(),
			peer.NewClient(cfg.PeerConnectTimeout, cfg.PeerRequestTimeout),
			loggerClient,
		)
		loggerClient.Info("druid initialized",
			logger.Int("branches", len(topo.Branch)),
			logger.Int("air", len(topo.Air)),
			logger.Int("roots", len(topo.Roots)))
	}

	var reconcileTrigger chan struct{}
	if a.druid != nil && cfg.ReconcileInterval > 0 {
		reconcileTrigger = make(chan struct{}, 1)
		a.reconciler = scheduler.NewReconciler(a.druid, loggerClient, cfg.ReconcileInterval, reconcileTrigger)
	}
	if a.emperor != nil && cfg.StatusInterval > 0 {
		a.poller = scheduler.NewStatusPoller(a.emperor, loggerClient, cfg.StatusInterval, cfg.PeerConnectTimeout)
	}

	// Dependencies passed to routes.
	d := deps.Deps{
		Logger:           loggerClient,
		StartTime:        time.Now(),
		Version:          version.Version,
		Commit:           version.Commit,
		BuildDate:        version.BuildDate,
		GoVersion:        version.GoVersion,
		TimeNow:          time.Now,
		Name:             cfg.Name,
		Roles:            cfg.Roles,
		Secret:           cfg.Secret,
		AllowedCIDRS:     cfg.AllowedCIDRS,
		TrustProxy:       cfg.TrustProxy,
		RequestTimeout:   cfg.RequestTimeout,
		RedisClient:      a.redisClient,
		Emperor:          a.emperor,
		Branch:           a.branch,
		Air:              a.air,
		Druid:            a.druid,
		ReconcileTrigger: reconcileTrigger,
	}
	a.server = httpserver.New(cfg, loggerClient, d)

	return a, nil
}

// wireEmperor builds the supervisor wrapper, its log streams and the
// branch and air components that run through it.
// newStore picks the druid state backend. The memory store keeps nothing
// across restarts and serves single node setups and tests.
func (a *App) newStore() druid.Store {
	if a.cfg.Store == config.StoreMemory {
		a.logger.Warn("druid state is kept in memory and lost on restart")
		return store.NewMemory(0)
	}
	return redisstore.NewStore(a.redisClient, a.cfg.LogTTL, 0)
}

func (a *App) wireEmperor(topo *config.Topology) error {
	cfg := a.cfg

	emperorSrc, err := a.newSource(cfg.EmperorLogAddr, "emperor")
	if err != nil {
		return err
	}

	a.emperor, err = emperor.New(emperor.Options{
		Root:      cfg.Root,
		VassalDir: cfg.EmperorDir,
		StatsAddr: cfg.EmperorStatsAddr,
		LogTarget: emperorSrc.Target(),
	}, a.logger)
	if err != nil {
		closeSource(emperorSrc)
		return err
	}
	a.streams = append(a.streams, stream{name: "emperor", source: emperorSrc, handler: a.emperor.HandleLines})

	if cfg.HasRole(config.RoleBranch) {
		branchSrc, err := a.newSource(cfg.BranchLogAddr, "branch")
		if err != nil {
			return err
		}
		a.branch = branch.New(branch.Options{
			Name:      cfg.Name,
			Root:      cfg.Root,
			Host:      cfg.Host,
			LogTarget: branchSrc.Target(),
			Loggers:   topo.Loggers,
		}, a.emperor, species.NewBuilder(species.ExecRunner{}, a.logger), a.redisClient, a.logger)
		a.streams = append(a.streams, stream{name: "branch", source: branchSrc, handler: a.branch.HandleLines})
	}

	if cfg.HasRole(config.RoleAir) {
		a.air = air.New(air.Options{
			Host:       cfg.Host,
			Port:       cfg.AirPort,
			Fastrouter: cfg.AirFastrouterPort,
			KeyDir:     cfg.KeyDir(),
		}, a.emperor, a.logger)
	}
	return nil
}

// newSource opens the log transport uWSGI ships lines through.
func (a *App) newSource(udpAddr, channel string) (logstream.Source, error) {
	if a.cfg.LogTransport == config.TransportRedis {
		return logstream.NewRedisSource(a.redisClient, a.cfg.LogChannelPrefix+":"+channel), nil
	}
	return logstream.ListenUDP(udpAddr)
}

// closeStreams releases sockets of streams that never ran.
func (a *App) closeStreams() {
	for _, s := range a.streams {
		closeSource(s.source)
	}
}

func closeSource(src logstream.Source) {
	if c, ok := src.(io.Closer); ok {
		utils.Close(c)
	}
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting Forest v%s on %s (roles=%v)", version.Version, a.cfg.ListenPort, a.cfg.Roles)
	a.logger.Infof("Forest %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Log streams and the vassal dir watch run until shutdown.
	background, bgCtx := errgroup.WithContext(ctx)
	abort := func(err error) error {
		stop()
		_ = background.Wait()
		return err
	}
	for _, s := range a.streams {
		background.Go(func() error {
			log := a.logger.With(logger.String("stream", s.name))
			log.Info("log stream started", logger.String("target", s.source.Target()))
			if err := s.source.Run(bgCtx, s.handler); err != nil {
				return fmt.Errorf("%s log stream: %w", s.name, err)
			}
			log.Debug("log stream stopped")
			return nil
		})
	}

	if a.emperor != nil {
		background.Go(func() error { return a.emperor.Watch(bgCtx) })

		if a.cfg.EmperorSpawn {
			if err := a.emperor.Launch(ctx); err != nil {
				return abort(fmt.Errorf("failed to launch emperor: %w", err))
			}
		}
	}

	if a.branch != nil {
		a.branch.Restore()
		a.logger.Info("branch restored",
			logger.Int("leaves", a.branch.Count()))
	}

	if a.air != nil {
		if err := a.air.Start(); err != nil {
			a.logger.Error("failed to start fastrouter", logger.Error(err))
		}
	}

	if a.poller != nil {
		if err := a.poller.Start(ctx); err != nil {
			return abort(fmt.Errorf("failed to start status poller: %w", err))
		}
		a.logger.Info("status poller started",
			logger.Duration("interval", a.cfg.StatusInterval))
	}

	if a.reconciler != nil {
		if err := a.reconciler.Start(ctx); err != nil {
			return abort(fmt.Errorf("failed to start reconciler: %w", err))
		}
		a.logger.Info("reconciler started",
			logger.Duration("interval", a.cfg.ReconcileInterval))
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case <-bgCtx.Done():
		if ctx.Err() == nil {
			runErr = background.Wait()
			a.logger.Error("background task failed", logger.Error(runErr))
		} else {
			a.logger.Info("⏳ Shutting down gracefully...")
		}
	case runErr = <-errCh:
	}

	a.shutdown()
	stop()
	if err := background.Wait(); err != nil && runErr == nil {
		runErr = err
	}

	if runErr == nil {
		a.logger.Info("✅ Forest stopped cleanly")
	}
	return runErr
}

func (a *App) shutdown() {
	if a.poller != nil {
		a.poller.Stop()
	}
	if a.reconciler != nil {
		a.reconciler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		a.logger.Warnf("failed to stop server: %v", err)
	}

	if a.emperor != nil && a.cfg.EmperorSpawn {
		if err := a.emperor.Shutdown(shutdownCtx); err != nil {
			a.logger.Warnf("failed to stop emperor: %v", err)
		}
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}
}
