// Package clickhouse opens a pooled database/sql handle on ClickHouse.
package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
)

type settings struct {
	host, database     string
	port               int
	user, password     string
	maxOpen, maxIdle   int
	connLifetime       time.Duration
	dial, read         time.Duration
	http               bool
	asyncInsert, await bool
	maxExec            time.Duration
}

type ClientOption func(*settings)

func WithHost(host string) ClientOption {
	return func(s *settings) { s.host = host }
}

func WithPort(port int) ClientOption {
	return func(s *settings) { s.port = port }
}

func WithDatabase(db string) ClientOption {
	return func(s *settings) { s.database = db }
}

func WithCredentials(user, password string) ClientOption {
	return func(s *settings) { s.user, s.password = user, password }
}

func WithMaxConnections(open, idle int) ClientOption {
	return func(s *settings) { s.maxOpen, s.maxIdle = open, idle }
}

// WithTimeouts sets dial and read timeouts. The write timeout is accepted
// for config symmetry; the driver has no such knob.
func WithTimeouts(dial, read, _ time.Duration) ClientOption {
	return func(s *settings) { s.dial, s.read = dial, read }
}

// WithHTTP switches from the native protocol to HTTP.
func WithHTTP(on bool) ClientOption {
	return func(s *settings) { s.http = on }
}

// WithAsyncInsert turns on server-side insert buffering; wait makes the
// insert return only after the buffer is flushed.
func WithAsyncInsert(on, wait bool) ClientOption {
	return func(s *settings) { s.asyncInsert, s.await = on, wait }
}

func WithMaxExecutionTime(d time.Duration) ClientOption {
	return func(s *settings) { s.maxExec = d }
}

// Client owns the pool.
type Client struct {
	db *sql.DB
}

// NewClient opens the pool and pings once.
func NewClient(opts ...ClientOption) (*Client, error) {
	s := settings{
		port:         9000,
		database:     "default",
		user:         "default",
		maxOpen:      10,
		maxIdle:      5,
		connLifetime: 5 * time.Minute,
		dial:         5 * time.Second,
		read:         10 * time.Second,
	}
	for _, opt := range opts {
		opt(&s)
	}
	o, err := s.options()
	if err != nil {
		return nil, err
	}

	db := ch.OpenDB(o)
	db.SetMaxOpenConns(s.maxOpen)
	db.SetMaxIdleConns(s.maxIdle)
	db.SetConnMaxLifetime(s.connLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), s.dial)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return &Client{db: db}, nil
}

func (s settings) options() (*ch.Options, error) {
	if s.host == "" {
		return nil, errors.New("clickhouse: host is required")
	}
	o := &ch.Options{
		Protocol: ch.Native,
		Addr:     []string{net.JoinHostPort(s.host, strconv.Itoa(s.port))},
		Auth: ch.Auth{
			Database: s.database,
			Username: s.user,
			Password: s.password,
		},
		DialTimeout: s.dial,
		ReadTimeout: s.read,
		Settings:    ch.Settings{},
	}
	if s.http {
		o.Protocol = ch.HTTP
	}
	if s.maxExec > 0 {
		o.Settings["max_execution_time"] = int(s.maxExec.Seconds())
	}
	if s.asyncInsert {
		o.Settings["async_insert"] = 1
		if s.await {
			o.Settings["wait_for_async_insert"] = 1
		}
	}
	return o, nil
}

func (c *Client) DB() *sql.DB { return c.db }

func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// InitSchema runs idempotent DDL in order.
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for i, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema (statement %d): %w", i, err)
		}
	}
	return nil
}
