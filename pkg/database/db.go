package database

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Config struct {
	DSN            string
	MaxConns       int
	Timeout        time.Duration
	TimeZone       string
	ClientEncoding string
}

// Connect opens a postgres *sqlx.DB and verifies connectivity with a ping.
func Connect(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", withRuntimeParams(cfg))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 5
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// withRuntimeParams appends time zone and client encoding as connection
// run-time parameters so every pooled connection gets them, not only the
// first one. Both lib/pq DSN forms are handled: URLs get query parameters,
// key=value strings get more pairs.
func withRuntimeParams(cfg Config) string {
	params := [][2]string{}
	if cfg.TimeZone != "" {
		params = append(params, [2]string{"timezone", cfg.TimeZone})
	}
	if cfg.ClientEncoding != "" {
		params = append(params, [2]string{"client_encoding", cfg.ClientEncoding})
	}
	if len(params) == 0 {
		return cfg.DSN
	}

	if isURLDSN(cfg.DSN) {
		q := url.Values{}
		for _, p := range params {
			q.Set(p[0], p[1])
		}
		sep := "?"
		if strings.Contains(cfg.DSN, "?") {
			sep = "&"
		}
		return cfg.DSN + sep + q.Encode()
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(cfg.DSN))
	for _, p := range params {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p[0] + "=" + quoteDSNValue(p[1]))
	}
	return b.String()
}

func isURLDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// quoteDSNValue quotes a key=value DSN value the way lib/pq parses it.
func quoteDSNValue(v string) string {
	v = strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v)
	return "'" + v + "'"
}
