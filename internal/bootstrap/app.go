package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"situation-room/internal/analysis"
	httpHandler "situation-room/internal/handler/http"
	wsHandler "situation-room/internal/handler/websocket"
	"situation-room/internal/hub"
	gormpersistence "situation-room/internal/infra/persistence/gorm"
	"situation-room/internal/infra/persistence/memory"
	"situation-room/internal/infra/setup"
	redisstate "situation-room/internal/infra/state/redis"
	"situation-room/internal/middleware"
	"situation-room/internal/repository"
	"situation-room/internal/service"
	"situation-room/internal/tasks"
	"situation-room/internal/worker"
)

// stores 汇总了服务层需要的全部存储依赖
type stores struct {
	rooms      repository.RoomRepository
	reports    repository.ReportRepository
	locker     repository.RoomLocker
	cache      repository.ReportCache
	publisher  repository.EventPublisher
	subscriber repository.EventSubscriber
	limiter    repository.RateLimiter
}

// App 结构体包含应用的所有组件和配置
type App struct {
	Config         *Config
	Log            *logrus.Logger
	DB             *gorm.DB
	RedisClient    *redis.Client
	AsynqClient    *asynq.Client
	AsynqServer    *worker.WorkerServer
	Hub            *hub.Hub
	HttpServer     *http.Server
	Router         *gin.Engine
	Reports        *service.ReportService
	inline         *service.InlineDispatcher
	scheduler      *asynq.Scheduler
	sweepStop      chan struct{}
	sweepDone      chan struct{}
	redisClientOpt asynq.RedisClientOpt
}

// NewLogger 按环境初始化 Logger，并设为 logrus 的全局 Logger 配置
func NewLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel) // cfg.LogLevel 已被 LoadConfig 验证
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)

	// 服务层直接使用 logrus 包级函数，保持同样的格式和级别
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(logLevel)
	logrus.SetOutput(os.Stdout)
	return log
}

// NewApp 创建并初始化应用的所有组件
func NewApp(cfg *Config) (*App, error) {
	log := NewLogger(cfg)
	log.Infof("Logger initialized (Level: %s, Format: %T)", log.GetLevel().String(), log.Formatter)

	app := &App{Config: cfg, Log: log}

	// 1. 初始化基础设施
	log.Info("Initializing infrastructure...")
	if cfg.DBDriver != DriverMemory {
		db, err := setup.InitDB(cfg.DBOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to init DB: %w", err)
		}
		if err := setup.MigrateDB(db); err != nil {
			return nil, fmt.Errorf("failed to migrate DB: %w", err)
		}
		app.DB = db
		log.Info("Database initialized and migrated")
	} else {
		log.Warn("DB_DRIVER=memory, rooms and reports are not persisted")
	}

	if cfg.RedisAddr != "" {
		redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("failed to init Redis: %w", err)
		}
		app.RedisClient = redisClient
		log.Info("Redis client initialized")
	} else {
		log.Warn("REDIS_ADDR not set, using in-process lock, cache and event bus")
	}

	// 2. 初始化 Repositories
	st := app.buildStores()
	log.Info("Repositories initialized")

	// 3. 初始化 Analyzer 和 Services
	analyzer, err := newAnalyzer(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init analyzer: %w", err)
	}
	log.WithField("provider", cfg.AnalyzerProvider).Info("Analyzer initialized")

	var dispatcher service.Dispatcher
	if cfg.DispatchMode == DispatchAsynq {
		app.redisClientOpt = asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}
		app.AsynqClient = asynq.NewClient(app.redisClientOpt)
		dispatcher = worker.NewAsynqDispatcher(app.AsynqClient)
		log.Info("Asynq client initialized")
	} else {
		app.inline = service.NewInlineDispatcher()
		dispatcher = app.inline
		log.Info("Inline analysis dispatcher initialized")
	}

	engine := service.NewCompatibilityEngine(analyzer, service.EngineConfig{
		Concurrency: cfg.AnalysisConcurrency,
		CallTimeout: cfg.AnalysisCallTimeout,
		CallRetries: cfg.AnalysisCallRetries,
	})
	roomService := service.NewRoomService(st.rooms, st.locker, service.NewCodeGenerator(), st.publisher)
	gate := service.NewSubmissionGate(st.rooms, st.locker, dispatcher, st.publisher)
	reportService := service.NewReportService(st.rooms, st.locker, st.reports, st.cache, engine, dispatcher, st.publisher, service.ReportConfig{
		AnalysisTimeout: cfg.AnalysisTimeout,
		MaxFailures:     cfg.AnalysisMaxFailures,
		StallAfter:      cfg.AnalysisStallAfter,
		CacheTTL:        cfg.ReportCacheTTL,
	})
	if app.inline != nil {
		app.inline.SetRunner(reportService)
	}
	app.Reports = reportService
	log.Info("Services initialized")

	// 4. 初始化 Hub 和 Worker Server
	app.Hub = hub.NewHub(st.subscriber)
	if cfg.DispatchMode == DispatchAsynq {
		app.AsynqServer = worker.NewWorkerServer(app.redisClientOpt, reportService, reportService, cfg.WorkerConcurrency, log)
		log.Info("Worker server initialized")
	}

	// 5. 初始化 Handlers 和路由
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	app.Router = NewRouter(cfg, log, st.limiter,
		httpHandler.NewRoomHandler(roomService, gate),
		httpHandler.NewReportHandler(reportService),
		wsHandler.NewWebSocketHandler(app.Hub, roomService, cfg.CORSAllowedOrigin),
	)
	log.Info("Router setup complete")

	app.HttpServer = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info("Application assembled successfully")
	return app, nil
}

func (a *App) buildStores() stores {
	st := stores{}
	if a.DB != nil {
		st.rooms = gormpersistence.NewGormRoomRepository(a.DB)
		st.reports = gormpersistence.NewGormReportRepository(a.DB)
	} else {
		st.rooms = memory.NewRoomStore()
		st.reports = memory.NewReportStore()
	}

	if a.RedisClient != nil {
		stateRepo := redisstate.NewRedisStateRepository(a.RedisClient, a.Config.KeyPrefix)
		st.locker = stateRepo
		st.cache = stateRepo
		st.publisher = stateRepo
		st.subscriber = stateRepo
		st.limiter = stateRepo
	} else {
		broker := memory.NewBroker()
		st.locker = memory.NewKeyedLocker()
		st.cache = memory.NewReportCache()
		st.publisher = broker
		st.subscriber = broker
		st.limiter = memory.NewRateLimiter()
	}
	return st
}

func newAnalyzer(ctx context.Context, cfg *Config) (analysis.Analyzer, error) {
	switch cfg.AnalyzerProvider {
	case ProviderOpenAI:
		return analysis.NewOpenAIAnalyzer(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	case ProviderGemini:
		return analysis.NewGeminiAnalyzer(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	default:
		return analysis.NewHeuristic(), nil
	}
}

// NewRouter 组装 Gin Engine：通用中间件、业务路由和 WebSocket 入口
func NewRouter(cfg *Config, log *logrus.Logger, limiter repository.RateLimiter,
	roomHandler *httpHandler.RoomHandler, reportHandler *httpHandler.ReportHandler, ws *wsHandler.WebSocketHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(CORSMiddleware(cfg.CORSAllowedOrigin))

	api := router.Group("/")
	api.Use(middleware.RateLimit(limiter, cfg.RateLimitMax, cfg.RateLimitWindow))
	httpHandler.RegisterRoutes(api, roomHandler, reportHandler)

	if ws != nil {
		router.GET("/ws/room/:code", ws.HandleConnection)
	}
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	return router
}

// CORSMiddleware 允许配置的前端来源跨域访问
func CORSMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	a.Log.Info("Starting application background routines...")
	go a.Hub.Run()
	a.Log.Info("Hub routine started")

	if a.AsynqServer != nil {
		go a.AsynqServer.Start()
		a.Log.Info("Asynq worker server routine started")
		a.registerPeriodicTasks()
	} else {
		a.startInlineSweeper()
	}

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// registerPeriodicTasks 由 asynq Scheduler 周期性投递卡滞扫描任务
func (a *App) registerPeriodicTasks() {
	scheduler := asynq.NewScheduler(a.redisClientOpt, &asynq.SchedulerOpts{})

	schedule := fmt.Sprintf("@every %s", a.Config.SweepInterval)
	entryID, err := scheduler.Register(schedule, tasks.NewAnalysisSweepTask())
	if err != nil {
		a.Log.Errorf("Could not register periodic analysis sweep task: %v", err)
		return
	}
	a.Log.Infof("Periodic analysis sweep task registered with schedule '%s' (EntryID: %s)", schedule, entryID)
	a.scheduler = scheduler

	go func() {
		a.Log.Info("Asynq scheduler starting...")
		if err := scheduler.Run(); err != nil {
			if !errors.Is(err, asynq.ErrServerClosed) {
				a.Log.Errorf("Asynq scheduler Run() failed: %v", err)
			} else {
				a.Log.Info("Asynq scheduler stopped.")
			}
		}
	}()
}

// startInlineSweeper 在没有任务队列时用 ticker 执行卡滞扫描
func (a *App) startInlineSweeper() {
	a.sweepStop = make(chan struct{})
	a.sweepDone = make(chan struct{})
	go func() {
		defer close(a.sweepDone)
		ticker := time.NewTicker(a.Config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-a.sweepStop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				if n, err := a.Reports.SweepStalled(ctx); err != nil {
					a.Log.WithError(err).Error("Inline analysis sweep failed")
				} else if n > 0 {
					a.Log.Infof("Inline analysis sweep re-dispatched %d rooms", n)
				}
				cancel()
			}
		}
	}()
	a.Log.Infof("Inline analysis sweeper started (interval %s)", a.Config.SweepInterval)
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 先停止接收新请求
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// 2. 停止 Hub 和房间订阅
	if a.Hub != nil {
		a.Hub.Stop()
	}

	// 3. 停止扫描和后台分析
	if a.scheduler != nil {
		a.scheduler.Shutdown()
	}
	if a.sweepStop != nil {
		close(a.sweepStop)
		<-a.sweepDone
	}
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}
	if a.inline != nil {
		a.inline.Wait()
		a.Log.Info("Inline analyses drained.")
	}

	// 4. 关闭 Asynq Client
	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		} else {
			a.Log.Info("Asynq client closed.")
		}
	}

	// 5. 关闭 Redis 连接
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		} else {
			a.Log.Info("Redis connection closed.")
		}
	}

	// 6. 关闭数据库连接
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Log.Errorf("Error closing database connection: %v", err)
			} else {
				a.Log.Info("Database connection closed.")
			}
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// Migrate 只执行数据库迁移，供 CLI 的 migrate 子命令使用
func Migrate(cfg *Config) error {
	if cfg.DBDriver == DriverMemory {
		return fmt.Errorf("DB_DRIVER=memory has nothing to migrate")
	}
	db, err := setup.InitDB(cfg.DBOptions())
	if err != nil {
		return fmt.Errorf("failed to init DB: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	return setup.MigrateDB(db)
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})

		if errorMessage != "" {
			entry.Error(errorMessage)
		} else {
			// 区分状态码记录日志级别
			if statusCode >= 500 {
				entry.Error("Server error")
			} else if statusCode >= 400 {
				entry.Warn("Client error")
			} else {
				entry.Info("Request handled")
			}
		}
	}
}
