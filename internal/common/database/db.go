package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

type DB struct {
	*sqlx.DB
}

// Config はDB接続の設定です
type Config struct {
	Driver     string `mapstructure:"DB_DRIVER"`
	Host       string `mapstructure:"DB_HOST"`
	Port       int    `mapstructure:"DB_PORT"`
	UserName   string `mapstructure:"DB_USERNAME"`
	Password   string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	SSLMode    string `mapstructure:"DB_SSL_MODE"`
	SQLitePath string `mapstructure:"SQLITE_PATH"`
}

// NewDB は設定されたドライバでDBに接続します
func NewDB(cfg Config) (*DB, error) {
	switch cfg.Driver {
	case DriverSQLite:
		return newSQLite(cfg.SQLitePath)
	case DriverPostgres, "":
		return newPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

func newPostgres(cfg Config) (*DB, error) {
	// localhostのDBの場合はSSLを無効化
	sslModeValue := cfg.SSLMode
	if sslModeValue == "" {
		if cfg.Host == "localhost" || os.Getenv("DB_HOST") == "localhost" {
			sslModeValue = "disable"
		} else {
			sslModeValue = "require" // 本番環境ではSSLを有効にする
		}
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.UserName,
		cfg.Password,
		cfg.DBName,
		sslModeValue,
	)

	// X-Ray対応のSQLコンテキストを作成
	db, err := xray.SQLContext(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database with X-Ray: %w", err)
	}

	// コネクションプールの設定
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// 接続テスト
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{sqlx.NewDb(db, DriverPostgres)}, nil
}

// OpenSQLite はSQLiteファイルを開きます。テストからも利用します
func OpenSQLite(path string) (*DB, error) {
	return newSQLite(path)
}

func newSQLite(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sqlx.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLiteは書き込みが直列なので接続は1本にする
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}
