package setup

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// 支持的数据库驱动
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DBOptions 描述数据库连接参数。DSN 非空时优先使用 DSN。
type DBOptions struct {
	Driver   string
	DSN      string
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

// InitDB 初始化数据库连接
func InitDB(opts DBOptions) (*gorm.DB, error) {
	dialector, err := dialectorFor(opts)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		// 让 GORM 把各驱动的唯一约束错误统一翻译成 gorm.ErrDuplicatedKey
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.Driver, err)
	}

	sqlDB, err := db.DB() // 获取底层的 *sql.DB 对象
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if opts.Driver == DriverSQLite {
		// SQLite 只允许单写者
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	logrus.WithField("driver", opts.Driver).Info("Database connected")
	return db, nil
}

func dialectorFor(opts DBOptions) (gorm.Dialector, error) {
	switch opts.Driver {
	case DriverMySQL, "":
		dsn := opts.DSN
		if dsn == "" {
			if opts.User == "" {
				return nil, fmt.Errorf("DB_USER environment variable not set")
			}
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
				opts.User, opts.Password, withDefault(opts.Host, "127.0.0.1"), withDefault(opts.Port, "3306"),
				withDefault(opts.Name, "situation_room"))
		}
		return mysql.Open(dsn), nil
	case DriverPostgres:
		dsn := opts.DSN
		if dsn == "" {
			if opts.User == "" {
				return nil, fmt.Errorf("DB_USER environment variable not set")
			}
			dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
				withDefault(opts.Host, "127.0.0.1"), opts.User, opts.Password,
				withDefault(opts.Name, "situation_room"), withDefault(opts.Port, "5432"))
		}
		return postgres.Open(dsn), nil
	case DriverSQLite:
		return sqlite.Open(withDefault(opts.DSN, "situation_room.db")), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER '%s'", opts.Driver)
	}
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// InitRedis 初始化 Redis 连接
func InitRedis(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 5,
		MaxConnAge:   30 * time.Minute, // 连接最大存活时间
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	logrus.Info("Redis connected")
	return client, nil
}
