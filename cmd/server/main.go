package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"clarify/config"
	"clarify/controllers"
	"clarify/db"
	"clarify/internal/cache"
	"clarify/internal/logger"
	"clarify/internal/notify"
	"clarify/internal/ratelimit"
	"clarify/internal/scheduler"
	"clarify/middlewares"
	"clarify/models"
	"clarify/routes"
	"clarify/services"
	"clarify/store"
	"clarify/utils"
	"clarify/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "./config/config.prod.yml", "path to the YAML config file")
	flag.Parse()

	// Load the configuration from the specified YAML file
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLog, err := logger.New(cfg.Log.Mode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer appLog.Sync()

	utils.SetJWTSecret(cfg.JWT.Secret)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, appLog)
	if err != nil {
		appLog.Fatal("failed to start", "error", err)
	}
	defer app.close()

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Server.Port),
		Handler: app.router,
	}
	go func() {
		appLog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	appLog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("graceful shutdown failed", "error", err)
	}
}

type app struct {
	router  *gin.Engine
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config, appLog *logger.Logger) (*app, error) {
	a := &app{}

	// Entity store: MongoDB when configured, otherwise in-process collections
	var base *store.Gateway
	if cfg.Database.URI != "" {
		client, database, err := db.ConnectMongoDB(ctx, cfg.Database.URI)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Disconnect(context.Background()) })
		base = db.NewGateway(database)
		appLog.Info("connected to MongoDB", "database", database.Name())
	} else {
		base = store.NewMemoryGateway()
		appLog.Warn("no database uri configured, using in-memory store")
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		client, err := db.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLog.Warn("redis unavailable, falling back to in-process state", "error", err)
		} else {
			rdb = client
			a.closers = append(a.closers, func() { _ = rdb.Close() })
		}
	}

	// Rate-limit and retry layer around every collection, budgeted per caller
	var windows ratelimit.WindowFactory
	caches := ratelimit.MemoryCaches()
	memViewCache := cache.NewMemory[models.Conversation]()
	var viewCache cache.Cache[models.Conversation] = memViewCache
	if rdb != nil {
		windows = func(caller string) ratelimit.Window {
			return ratelimit.NewRedisWindow(rdb, cache.Key(cfg.Cache.SchemaVersion, "ratelimit", "calls", caller), cfg.Limits.Window)
		}
		caches = redisCaches(rdb, appLog)
		viewCache = cache.NewRedis[models.Conversation](rdb, appLog)
	}
	limiter := ratelimit.NewLimiter(ratelimit.LimitConfig{
		Window:   cfg.Limits.Window,
		SoftCap:  cfg.Limits.SoftCap,
		HardCap:  cfg.Limits.HardCap,
		Throttle: ratelimit.DefaultLimitConfig().Throttle,
	}, windows, appLog)
	queue := ratelimit.NewQueue(cfg.Limits.QueueSpacing, 0)
	a.closers = append(a.closers, queue.Close)
	layer := &ratelimit.Layer{
		Limiter:       limiter,
		Policy:        ratelimit.RetryPolicy{BaseDelay: cfg.Limits.RetryBaseDelay, MaxRetries: cfg.Limits.MaxRetries},
		Queue:         queue,
		Log:           appLog,
		SchemaVersion: cfg.Cache.SchemaVersion,
	}
	gw := layer.WrapGateway(base, caches, ratelimit.FallbackTTLs{
		Conversations: cfg.Cache.Conversations,
		Profiles:      cfg.Cache.Profiles,
		Topics:        cfg.Cache.Topics,
		Invitations:   cfg.Cache.Invitations,
	}, store.TopicsCollection, store.UsersCollection)

	if cfg.Database.URI == "" {
		if err := utils.SeedSampleData(ctx, gw, appLog); err != nil {
			appLog.Warn("failed to seed sample data", "error", err)
		}
	}

	oracle, err := newOracle(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Notifications go through the Redis stream when available, else straight to live sockets
	hub := websocket.NewHub(appLog)
	var stream *notify.Stream
	var target notify.Notifier = hub
	if rdb != nil {
		stream = notify.NewStream(rdb, appLog)
		target = stream
	}
	dispatcher := notify.NewDispatcher(target, appLog)
	a.closers = append(a.closers, dispatcher.Flush)

	progression := services.NewProgression(gw, dispatcher, appLog)
	coach := services.NewCoach(gw, oracle, progression, appLog)
	opinions := services.NewOpinionService(gw, appLog)
	lifecycle := services.NewLifecycle(gw, coach, progression, opinions, dispatcher, appLog)
	matchmaker := services.NewMatchmaker(gw, lifecycle, appLog)

	sched, err := scheduler.New(appLog)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, sched.Shutdown)
	if err := scheduleMaintenance(sched, cfg, lifecycle, limiter, memViewCache, appLog); err != nil {
		return nil, err
	}

	watcher := services.NewWatcher(lifecycle, gw, sched, viewCache, services.WatcherConfig{
		StatusInterval: cfg.Polling.StatusInterval,
		TimerTick:      cfg.Polling.TimerTick,
		CacheVersion:   cfg.Cache.SchemaVersion,
		CacheTTL:       cfg.Cache.Conversations,
	}, appLog)

	ctl := controllers.New(matchmaker, lifecycle, opinions, progression, appLog)
	wsHandler := websocket.NewHandler(hub, stream, watcher, appLog)
	a.router = setupRouter(cfg, ctl, wsHandler)
	return a, nil
}

func redisCaches(rdb *redis.Client, log *logger.Logger) ratelimit.Caches {
	return ratelimit.Caches{
		Users:         cache.NewRedis[[]models.User](rdb, log),
		Profiles:      cache.NewRedis[[]models.UserProfile](rdb, log),
		Topics:        cache.NewRedis[[]models.Topic](rdb, log),
		Opinions:      cache.NewRedis[[]models.TopicOpinion](rdb, log),
		Conversations: cache.NewRedis[[]models.Conversation](rdb, log),
		Messages:      cache.NewRedis[[]models.Message](rdb, log),
	}
}

func newOracle(ctx context.Context, cfg *config.Config) (services.Oracle, error) {
	switch cfg.Oracle.Provider {
	case "openai":
		oracle, err := services.NewOpenAIOracle(cfg.Openai.GptApiKey, cfg.Openai.Model)
		if err != nil {
			return nil, err
		}
		return oracle, nil
	default:
		oracle, err := services.NewGeminiOracle(ctx, cfg.Gemini.ApiKey, cfg.Gemini.Model)
		if err != nil {
			return nil, err
		}
		return oracle, nil
	}
}

// scheduleMaintenance registers the server-side sweep and housekeeping jobs.
func scheduleMaintenance(sched *scheduler.Scheduler, cfg *config.Config, lifecycle *services.Lifecycle, limiter *ratelimit.Limiter, viewCache *cache.Memory[models.Conversation], log *logger.Logger) error {
	err := sched.Every("sweep:expired", cfg.Polling.SweepInterval, func(ctx context.Context) {
		n, err := lifecycle.Sweep(ctx)
		if err != nil {
			log.Warn("expiry sweep failed", "error", err)
			return
		}
		if n > 0 {
			log.Info("auto-completed expired conversations", "count", n)
		}
	}, scheduler.Tagged("maintenance"))
	if err != nil {
		return err
	}
	if err := sched.Every("ratelimit:prune", cfg.Limits.Window, limiter.Prune, scheduler.Tagged("maintenance")); err != nil {
		return err
	}
	return sched.Every("cache:purge", cfg.Cache.Profiles, func(context.Context) {
		viewCache.Purge()
	}, scheduler.Tagged("maintenance"))
}

func setupRouter(cfg *config.Config, ctl *controllers.Controller, wsHandler *websocket.Handler) *gin.Engine {
	if cfg.Log.Mode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	// Set trusted proxies (adjust as needed)
	router.SetTrustedProxies([]string{"127.0.0.1", "localhost"})

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))
	router.OPTIONS("/*path", func(c *gin.Context) { c.Status(204) })

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Protected routes (JWT auth)
	auth := router.Group("/")
	auth.Use(middlewares.AuthMiddleware())
	{
		routes.SetupMatchingRoutes(auth, ctl)
		routes.SetupConversationRoutes(auth, ctl)
		routes.SetupProfileRoutes(auth, ctl)
		routes.SetupWebsocketRoutes(auth, wsHandler)
	}

	return router
}
