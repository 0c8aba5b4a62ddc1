// Package source reads full table snapshots from the transactional database.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/withObsrvr/obsrvr-table-sync/internal/rowset"
	"github.com/withObsrvr/obsrvr-table-sync/internal/util"
)

// ErrExtract marks a table-scoped read failure.
var ErrExtract = errors.New("extract failed")

// Config configures the source connection.
type Config struct {
	Driver   string // "mysql" | "postgres"
	Host     string
	Port     int
	User     string
	Password string
	Database string

	ConnectTimeout time.Duration
}

// Session is a single pinned connection to the source, held for one run.
type Session struct {
	db      *sql.DB
	conn    *sql.Conn
	dialect util.Dialect
}

// Open connects to the source described by cfg.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	db, dialect, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s, err := NewSession(pingCtx, db, dialect)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s source %s: %w", cfg.Driver, cfg.Host, err)
	}
	return s, nil
}

func openDB(cfg Config) (*sql.DB, util.Dialect, error) {
	switch cfg.Driver {
	case "", "mysql":
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(portOrDefault(cfg.Port, 3306)))
		mc.DBName = cfg.Database
		mc.ParseTime = true
		connector, err := mysql.NewConnector(mc)
		if err != nil {
			return nil, "", fmt.Errorf("mysql connector: %w", err)
		}
		return sql.OpenDB(connector), util.MySQL, nil

	case "postgres":
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(cfg.User, cfg.Password),
			Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(portOrDefault(cfg.Port, 5432))),
			Path:   "/" + cfg.Database,
		}
		pc, err := pgx.ParseConfig(u.String())
		if err != nil {
			return nil, "", fmt.Errorf("parse postgres config: %w", err)
		}
		return stdlib.OpenDB(*pc), util.Postgres, nil

	default:
		return nil, "", fmt.Errorf("unknown source driver: %s", cfg.Driver)
	}
}

func portOrDefault(port, def int) int {
	if port > 0 {
		return port
	}
	return def
}

// NewSession pins one connection from db. The session owns db and closes it.
func NewSession(ctx context.Context, db *sql.DB, dialect util.Dialect) (*Session, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return &Session{db: db, conn: conn, dialect: dialect}, nil
}

// Dialect returns the identifier dialect of the source engine.
func (s *Session) Dialect() util.Dialect {
	return s.dialect
}

// Query runs a statement and materializes its result.
func (s *Session) Query(ctx context.Context, query string) (rowset.RowSet, error) {
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return rowset.RowSet{}, err
	}
	return util.ScanRowSet(rows)
}

// Close releases the pinned connection and the pool.
func (s *Session) Close() error {
	connErr := s.conn.Close()
	dbErr := s.db.Close()
	return errors.Join(connErr, dbErr)
}
