package db

import (
	"context"
	"regexp"
	"time"

	"git.handmade.network/hmn/imghost/src/config"
	"git.handmade.network/hmn/imghost/src/logging"
	"git.handmade.network/hmn/imghost/src/oops"
	"git.handmade.network/hmn/imghost/src/perf"
	"git.handmade.network/hmn/imghost/src/utils"
	zerologadapter "github.com/jackc/pgx-zerolog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/jpillora/backoff"
)

// This interface should match both a direct pgx connection or a pgx transaction.
type ConnOrTx interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)

	// On a transaction this starts a savepoint, which behaves like a nested transaction.
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Creates a single connection, for CLI commands like migrate.
// This connection is not safe for concurrent use.
func NewConn(ctx context.Context, cfg config.PostgresConfig) (*pgx.Conn, error) {
	cfg = overrideDefaultConfig(cfg)

	pgcfg, err := pgx.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, oops.New(err, "invalid database config")
	}
	pgcfg.Tracer = newTracer(cfg)

	var conn *pgx.Conn
	err = retryConnect(ctx, cfg, func() error {
		var err error
		conn, err = pgx.ConnectConfig(ctx, pgcfg)
		return err
	})
	if err != nil {
		return nil, oops.New(err, "failed to connect to database")
	}
	return conn, nil
}

// Creates a connection pool, waiting for the database to come up if needed.
// The resulting pool is safe for concurrent use.
func NewConnPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	cfg = overrideDefaultConfig(cfg)

	pgcfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, oops.New(err, "invalid database config")
	}
	pgcfg.MinConns = cfg.MinConn
	pgcfg.MaxConns = cfg.MaxConn
	pgcfg.ConnConfig.Tracer = newTracer(cfg)

	pool, err := pgxpool.NewWithConfig(ctx, pgcfg)
	if err != nil {
		return nil, oops.New(err, "failed to create database connection pool")
	}

	err = retryConnect(ctx, cfg, func() error {
		return pool.Ping(ctx)
	})
	if err != nil {
		pool.Close()
		return nil, oops.New(err, "failed to connect to database")
	}
	return pool, nil
}

// The database usually starts alongside us in compose, so the first few
// attempts are expected to fail.
func retryConnect(ctx context.Context, cfg config.PostgresConfig, connect func() error) error {
	boff := backoff.Backoff{
		Min:    cfg.ConnectDelay,
		Max:    10 * time.Second,
		Factor: 1.5,
	}

	var err error
	for attempt := 1; attempt <= cfg.ConnectAttempts; attempt++ {
		err = connect()
		if err == nil {
			if attempt > 1 {
				logging.Info().Int("attempt", attempt).Msg("Connected to database")
			}
			return nil
		}

		if attempt == cfg.ConnectAttempts {
			break
		}
		dur := boff.Duration()
		logging.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max attempts", cfg.ConnectAttempts).
			Dur("retrying after", dur).
			Msg("Database not ready")
		if utils.SleepContext(ctx, dur) != nil {
			return ctx.Err()
		}
	}
	return err
}

func overrideDefaultConfig(cfg config.PostgresConfig) config.PostgresConfig {
	return config.PostgresConfig{
		User:            utils.OrDefault(cfg.User, config.Config.Postgres.User),
		Password:        utils.OrDefault(cfg.Password, config.Config.Postgres.Password),
		Hostname:        utils.OrDefault(cfg.Hostname, config.Config.Postgres.Hostname),
		Port:            utils.OrDefault(cfg.Port, config.Config.Postgres.Port),
		DbName:          utils.OrDefault(cfg.DbName, config.Config.Postgres.DbName),
		LogLevel:        utils.OrDefault(cfg.LogLevel, config.Config.Postgres.LogLevel),
		MinConn:         utils.OrDefault(cfg.MinConn, config.Config.Postgres.MinConn),
		MaxConn:         utils.OrDefault(cfg.MaxConn, config.Config.Postgres.MaxConn),
		ConnectAttempts: utils.IntMax(utils.OrDefault(cfg.ConnectAttempts, config.Config.Postgres.ConnectAttempts), 1),
		ConnectDelay:    utils.OrDefault(cfg.ConnectDelay, config.Config.Postgres.ConnectDelay),
	}
}

func newTracer(cfg config.PostgresConfig) pgx.QueryTracer {
	return multiTracer{
		&tracelog.TraceLog{
			Logger:   zerologadapter.NewLogger(*logging.GlobalLogger()),
			LogLevel: cfg.LogLevel,
		},
		requestPerfTracer{},
	}
}

type multiTracer []pgx.QueryTracer

var _ pgx.QueryTracer = multiTracer{}

func (mt multiTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	for _, t := range mt {
		ctx = t.TraceQueryStart(ctx, conn, data)
	}
	return ctx
}

func (mt multiTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	for _, t := range mt {
		t.TraceQueryEnd(ctx, conn, data)
	}
}

// Queries may start with a line like "---- List images" to name them in perf output.
var reQueryName = regexp.MustCompile("---- (.*)\n")

func GetQueryName(sql string) (string, bool) {
	m := reQueryName.FindStringSubmatch(sql)
	if m != nil {
		return m[1], true
	}
	return "", false
}

type perfBlockContextKey struct{}

type requestPerfTracer struct{}

var _ pgx.QueryTracer = requestPerfTracer{}

func (pt requestPerfTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	p := perf.ExtractPerf(ctx)
	if p == nil {
		return ctx
	}

	name := "Unknown query"
	if n, ok := GetQueryName(data.SQL); ok {
		name = n
	}
	b := p.StartBlock("SQL", name)
	return context.WithValue(ctx, perfBlockContextKey{}, b)
}

func (pt requestPerfTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if b, ok := ctx.Value(perfBlockContextKey{}).(*perf.BlockHandle); ok {
		b.End()
	}
}
