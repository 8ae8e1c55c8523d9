package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/utkarsh5026/bulkload/internal/algorithms"
	"github.com/utkarsh5026/bulkload/internal/protocol"
)

// PostgresConfig describes how to reach the database.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Table    string
	MaxConns int32
	// ConnectAttempts bounds the retries of the initial connection. Resource
	// exhaustion is never retried.
	ConnectAttempts int
}

// Connection returns the libpq keyword/value pairs for c.
func (c PostgresConfig) Connection() map[string]string {
	return map[string]string{
		"host":     c.Host,
		"port":     fmt.Sprint(c.Port),
		"user":     c.User,
		"password": c.Password,
		"dbname":   c.Database,
	}
}

// Postgres is a Sink backed by a pgx connection pool.
type Postgres struct {
	pool  *pgxpool.Pool
	table string
}

// CreateConnectionString renders a libpq keyword/value connection string.
// https://www.postgresql.org/docs/current/libpq-connect.html#LIBPQ-CONNSTRING
func CreateConnectionString(values map[string]string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	parts := make([]string, 0, len(values))
	for k, v := range values {
		parts = append(parts, k+"='"+replacer.Replace(v)+"'")
	}
	return strings.Join(parts, " ")
}

// OpenPostgres connects to the database and verifies the connection with a
// trivial query before returning.
func OpenPostgres(ctx context.Context, config PostgresConfig) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(CreateConnectionString(config.Connection()))
	if err != nil {
		return nil, errors.Wrap(err, "parsing postgres connection config")
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}

	table := config.Table
	if table == "" {
		table = DefaultTable
	}

	backoff := algorithms.NewBackoffStrategy(algorithms.BackoffJittered, 200*time.Millisecond, 5*time.Second, 0.2)
	logger := log.WithField("component", "sink")

	var db *pgxpool.Pool
	err = algorithms.Retry(ctx, config.ConnectAttempts, backoff,
		func(err error) bool { return !IsResourceExhausted(err) },
		func(attempt int, delay time.Duration, err error) {
			logger.WithError(err).Warnf("postgres connection failed; retry %d in %s", attempt, delay)
		},
		func(ctx context.Context) error {
			candidate, err := pgxpool.ConnectConfig(ctx, poolConfig)
			if err != nil {
				return err
			}
			var one int
			if err := candidate.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
				candidate.Close()
				return err
			}
			db = candidate
			return nil
		})
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to postgres at %s:%d", config.Host, config.Port)
	}

	return &Postgres{pool: db, table: table}, nil
}

// InsertMany writes records with the COPY protocol in a single round trip.
func (p *Postgres) InsertMany(ctx context.Context, records []protocol.Record) error {
	if len(records) == 0 {
		return nil
	}
	n, err := p.pool.CopyFrom(ctx,
		pgx.Identifier{p.table},
		Columns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			return Row(records[i]), nil
		}),
	)
	if err != nil {
		return errors.WithStack(err)
	}
	if int(n) != len(records) {
		return errors.Errorf("copied %d of %d records into %s", n, len(records), p.table)
	}
	return nil
}

func (p *Postgres) Count(ctx context.Context) (int64, error) {
	var n int64
	query := "SELECT count(*) FROM " + pgx.Identifier{p.table}.Sanitize()
	if err := p.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "counting rows in %s", p.table)
	}
	return n, nil
}

func (p *Postgres) Truncate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, "TRUNCATE TABLE "+pgx.Identifier{p.table}.Sanitize())
	return errors.Wrapf(err, "truncating %s", p.table)
}

func (p *Postgres) CreateTable(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, CreateTableSQL(p.table))
	return errors.Wrapf(err, "creating %s", p.table)
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// CreateTableSQL returns the DDL for the load table.
func CreateTableSQL(table string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(pgx.Identifier{table}.Sanitize())
	b.WriteString(" (\n\tid SERIAL PRIMARY KEY")
	for _, col := range Columns {
		b.WriteString(",\n\t")
		b.WriteString(col)
		b.WriteString(" TEXT")
		if notNullColumns[col] {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString("\n)")
	return b.String()
}
