package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/kapu/artist-radar/internal/constants"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresService owns the shared connection pool.
type PostgresService struct {
	db     *sql.DB
	logger *zap.Logger
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
}

// URL renders the config as a postgres:// connection string. Credentials are
// escaped, so passwords may carry any character.
func (c PostgresConfig) URL() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", constants.DatabaseConfig.ApplicationName)
	q.Set("connect_timeout", strconv.Itoa(int(constants.DatabaseConfig.ConnectTimeout.Seconds())))

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:     "/" + c.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// poolSize returns the open and idle connection limits for the config.
func (c PostgresConfig) poolSize() (open, idle int) {
	open = c.MaxConns
	if open <= 0 {
		open = constants.DatabaseConfig.MaxOpenConns
	}
	idle = open / constants.DatabaseConfig.IdleConnRatio
	if idle < 1 {
		idle = 1
	}
	return open, idle
}

func configurePool(db *sql.DB, cfg PostgresConfig) {
	open, idle := cfg.poolSize()
	db.SetMaxOpenConns(open)
	db.SetMaxIdleConns(idle)
	db.SetConnMaxLifetime(constants.DatabaseConfig.ConnMaxLifetime)
	db.SetConnMaxIdleTime(constants.DatabaseConfig.ConnMaxIdleTime)
}

// NewPostgresService opens the pool and waits for the server to answer. The
// first ping is retried with backoff so a database still starting up next to
// the service does not fail the boot.
func NewPostgresService(cfg PostgresConfig, logger *zap.Logger) (*PostgresService, error) {
	connector, err := pq.NewConnector(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", err)
	}
	db := sql.OpenDB(connector)
	configurePool(db, cfg)

	ps := &PostgresService{db: db, logger: logger}
	if err := ps.waitReady(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	open, idle := cfg.poolSize()
	logger.Info("PostgreSQL connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
		zap.Int("max_open", open),
		zap.Int("max_idle", idle),
	)
	return ps, nil
}

// NewPostgresServiceWithDB wraps an existing handle (sqlmock in tests).
func NewPostgresServiceWithDB(db *sql.DB, logger *zap.Logger) *PostgresService {
	return &PostgresService{db: db, logger: logger}
}

func (ps *PostgresService) waitReady(ctx context.Context) error {
	attempt := 0
	policy := retrypolicy.NewBuilder[any]().
		WithBackoff(constants.RetryConfig.BaseDelay, constants.RetryConfig.MaxDelay).
		WithMaxRetries(constants.DatabaseConfig.PingRetries).
		Build()

	err := failsafe.With[any](policy).WithContext(ctx).Run(func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, constants.DatabaseConfig.ConnectTimeout)
		defer cancel()
		if err := ps.db.PingContext(pingCtx); err != nil {
			ps.logger.Warn("PostgreSQL not ready", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres unreachable after %d attempts: %w", attempt, err)
	}
	return nil
}

func (ps *PostgresService) GetDB() *sql.DB {
	return ps.db
}

func (ps *PostgresService) Close() error {
	if ps.db != nil {
		return ps.db.Close()
	}
	return nil
}

func (ps *PostgresService) Ping(ctx context.Context) error {
	return ps.db.PingContext(ctx)
}
