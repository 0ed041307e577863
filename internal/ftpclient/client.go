// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ftpclient talks to the FTP backup target. A single control
// connection is reused across calls and dropped on any error; every call is
// guarded by a circuit breaker.
package ftpclient

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	xglog "github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/log"
	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/resilience"
	"github.com/rs/zerolog"
)

// Remote filesystem styles reported by FSType.
const (
	FSUnix    = "unix"
	FSWindows = "windows"
)

// ErrNotConfigured is returned when no server address is set.
var ErrNotConfigured = errors.New("ftp target not configured")

// Entry is one remote directory entry.
type Entry struct {
	Name string
	Dir  bool
	Time time.Time
}

// Config holds connection settings.
type Config struct {
	Addr     string
	User     string
	Password string
	Root     string
	Timeout  time.Duration
}

// Client is the FTP backup client.
type Client struct {
	cfg     Config
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger

	mu   sync.Mutex
	conn *ftp.ServerConn
}

// New creates a client. No connection is made until the first call.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Root == "" {
		cfg.Root = "/"
	}
	return &Client{
		cfg:     cfg,
		breaker: resilience.NewCircuitBreaker("ftp", 3, time.Minute, resilience.WithFailureFilter(isConnectionError)),
		logger:  xglog.WithComponent("ftpclient"),
	}
}

// Root returns the remote backup root.
func (c *Client) Root() string { return c.cfg.Root }

// isConnectionError separates transport failures from per-path FTP replies.
func isConnectionError(err error) bool {
	var perr *ftpProtoError
	return !errors.As(err, &perr)
}

type ftpProtoError struct{ err error }

func (e *ftpProtoError) Error() string { return e.err.Error() }
func (e *ftpProtoError) Unwrap() error { return e.err }

// connLocked returns the cached connection, dialling if needed.
func (c *Client) connLocked(ctx context.Context) (*ftp.ServerConn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	if c.cfg.Addr == "" {
		return nil, ErrNotConfigured
	}
	conn, err := ftp.Dial(c.cfg.Addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(c.cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("ftp dial %s: %w", c.cfg.Addr, err)
	}
	if c.cfg.User != "" {
		if err := conn.Login(c.cfg.User, c.cfg.Password); err != nil {
			_ = conn.Quit()
			return nil, fmt.Errorf("ftp login: %w", err)
		}
	}
	c.logger.Debug().Str("addr", c.cfg.Addr).Msg("ftp connected")
	c.conn = conn
	return conn, nil
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Quit()
		c.conn = nil
	}
}

// do runs op on the shared connection inside the breaker. Replies for a
// specific path (status 5xx) keep the connection; anything else drops it.
func (c *Client) do(ctx context.Context, op func(*ftp.ServerConn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.breaker.Execute(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()

		conn, err := c.connLocked(ctx)
		if err != nil {
			return err
		}
		if err := op(conn); err != nil {
			if isPermanentReply(err) {
				return &ftpProtoError{err: err}
			}
			c.dropLocked()
			return err
		}
		return nil
	})
}

func isPermanentReply(err error) bool {
	msg := err.Error()
	return len(msg) >= 3 && msg[0] == '5' && msg[1] >= '0' && msg[1] <= '9'
}

// List returns the entries of dir, skipping "." and "..".
func (c *Client) List(ctx context.Context, dir string) ([]Entry, error) {
	var out []Entry
	err := c.do(ctx, func(conn *ftp.ServerConn) error {
		entries, err := conn.List(dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Name == "." || e.Name == ".." {
				continue
			}
			out = append(out, Entry{Name: e.Name, Dir: e.Type == ftp.EntryTypeFolder, Time: e.Time})
		}
		return nil
	})
	return out, err
}

// RemoveDir deletes dir and its contents.
func (c *Client) RemoveDir(ctx context.Context, dir string) error {
	return c.do(ctx, func(conn *ftp.ServerConn) error {
		return conn.RemoveDirRecur(dir)
	})
}

// FSType guesses the remote path style from the server's working directory.
func (c *Client) FSType(ctx context.Context) (string, error) {
	style := FSUnix
	err := c.do(ctx, func(conn *ftp.ServerConn) error {
		dir, err := conn.CurrentDir()
		if err != nil {
			return err
		}
		if strings.Contains(dir, `\`) || (len(dir) >= 2 && dir[1] == ':') {
			style = FSWindows
		}
		return nil
	})
	return style, err
}

// Join builds a remote path for the given style.
func Join(style string, elem ...string) string {
	if style == FSWindows {
		return strings.Join(elem, `\`)
	}
	return path.Join(elem...)
}

// Close quits the cached connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
	return nil
}

// State reports the breaker state.
func (c *Client) State() resilience.State { return c.breaker.State() }
