package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"situation-room/internal/infra/setup"
)

// 额外支持的存储与运行模式
const (
	DriverMemory = "memory"

	DispatchAsynq  = "asynq"
	DispatchInline = "inline"

	ProviderHeuristic = "heuristic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

// Config 结构体用于存储从环境变量或文件加载的配置
type Config struct {
	AppEnv     string
	LogLevel   string
	ServerPort string

	DBDriver   string
	DBDSN      string
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	// RedisAddr 为空时锁、缓存、事件和限流都退回进程内实现
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string

	DispatchMode      string
	WorkerConcurrency int
	SweepInterval     time.Duration

	AnalyzerProvider string
	OpenAIAPIKey     string
	OpenAIModel      string
	GeminiAPIKey     string
	GeminiModel      string

	AnalysisTimeout     time.Duration
	AnalysisCallTimeout time.Duration
	AnalysisCallRetries int
	AnalysisConcurrency int
	AnalysisMaxFailures int
	AnalysisStallAfter  time.Duration
	ReportCacheTTL      time.Duration

	RateLimitMax      int
	RateLimitWindow   time.Duration
	CORSAllowedOrigin string
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:            envOr("APP_ENV", "development"),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		ServerPort:        envOr("SERVER_PORT", "8080"),
		DBDriver:          strings.ToLower(envOr("DB_DRIVER", setup.DriverMySQL)),
		DBDSN:             os.Getenv("DB_DSN"),
		DBUser:            os.Getenv("DB_USER"),
		DBPassword:        os.Getenv("DB_PASSWORD"),
		DBHost:            os.Getenv("DB_HOST"),
		DBPort:            os.Getenv("DB_PORT"),
		DBName:            os.Getenv("DB_NAME"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		KeyPrefix:         envOr("REDIS_KEY_PREFIX", "sr:"),
		AnalyzerProvider:  strings.ToLower(envOr("ANALYZER_PROVIDER", ProviderHeuristic)),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       os.Getenv("OPENAI_MODEL"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       os.Getenv("GEMINI_MODEL"),
		CORSAllowedOrigin: envOr("CORS_ALLOWED_ORIGIN", "http://localhost:3000"),
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.WorkerConcurrency, err = envInt("WORKER_CONCURRENCY", 10); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = envDuration("ANALYSIS_SWEEP_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.AnalysisTimeout, err = envDuration("ANALYSIS_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.AnalysisCallTimeout, err = envDuration("ANALYSIS_CALL_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.AnalysisCallRetries, err = envInt("ANALYSIS_CALL_RETRIES", 2); err != nil {
		return nil, err
	}
	if cfg.AnalysisConcurrency, err = envInt("ANALYSIS_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.AnalysisMaxFailures, err = envInt("ANALYSIS_MAX_FAILURES", 5); err != nil {
		return nil, err
	}
	if cfg.AnalysisStallAfter, err = envDuration("ANALYSIS_STALL_AFTER", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ReportCacheTTL, err = envDuration("REPORT_CACHE_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.RateLimitMax, err = envInt("RATE_LIMIT_MAX", 100); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = envDuration("RATE_LIMIT_WINDOW", time.Second); err != nil {
		return nil, err
	}

	// 没有 Redis 时只能在进程内执行分析
	defaultDispatch := DispatchAsynq
	if cfg.RedisAddr == "" {
		defaultDispatch = DispatchInline
	}
	cfg.DispatchMode = strings.ToLower(envOr("DISPATCH_MODE", defaultDispatch))

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// 验证日志级别
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case setup.DriverMySQL, setup.DriverPostgres:
		if c.DBDSN == "" && c.DBUser == "" {
			return fmt.Errorf("DB_DSN or DB_USER must be set for DB_DRIVER=%s", c.DBDriver)
		}
	case setup.DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("unsupported DB_DRIVER '%s'", c.DBDriver)
	}

	switch c.DispatchMode {
	case DispatchInline:
	case DispatchAsynq:
		if c.RedisAddr == "" {
			return fmt.Errorf("environment variable REDIS_ADDR must be set for DISPATCH_MODE=asynq")
		}
	default:
		return fmt.Errorf("unsupported DISPATCH_MODE '%s'", c.DispatchMode)
	}

	switch c.AnalyzerProvider {
	case ProviderHeuristic:
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("environment variable OPENAI_API_KEY must be set for ANALYZER_PROVIDER=openai")
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("environment variable GEMINI_API_KEY must be set for ANALYZER_PROVIDER=gemini")
		}
	default:
		return fmt.Errorf("unsupported ANALYZER_PROVIDER '%s'", c.AnalyzerProvider)
	}

	if c.RateLimitMax <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive")
	}
	if c.AnalysisMaxFailures <= 0 {
		return fmt.Errorf("ANALYSIS_MAX_FAILURES must be positive")
	}
	return nil
}

// DBOptions 转换成 setup 包的连接参数
func (c *Config) DBOptions() setup.DBOptions {
	return setup.DBOptions{
		Driver:   c.DBDriver,
		DSN:      c.DBDSN,
		User:     c.DBUser,
		Password: c.DBPassword,
		Host:     c.DBHost,
		Port:     c.DBPort,
		Name:     c.DBName,
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s '%s': %w", key, v, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s '%s': %w", key, v, err)
	}
	return d, nil
}
