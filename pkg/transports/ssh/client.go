package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/phpkiln/phpkiln/pkg/builder"
)

// Client is an SSH connection to a remote docker host. It implements the
// builder Executor interface, so build plans run remotely without the
// runner knowing the difference.
type Client struct {
	cfg    *Config
	logger zerolog.Logger

	mu            sync.RWMutex
	client        *ssh.Client
	connected     bool
	connectedAt   time.Time
	lastUsedAt    time.Time
	keepAliveDone chan struct{}
}

var _ builder.Executor = (*Client)(nil)

// NewClient validates the configuration and returns an unconnected Client.
func NewClient(logger zerolog.Logger, cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{
		cfg:    cfg,
		logger: logger.With().Str("component", "executor").Str("executor", "ssh").Str("host", cfg.Host).Logger(),
	}, nil
}

// Connect establishes the SSH connection. Calling Connect on a live
// connection is a no-op; a dead one is replaced.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected && c.client != nil {
		if err := c.healthCheckLocked(); err == nil {
			return nil
		}
		c.logger.Warn().Msg("existing connection is dead, reconnecting")
		_ = c.client.Close()
		c.stopKeepAliveLocked()
	}

	clientConfig, err := c.cfg.clientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := c.cfg.Address()
	c.logger.Debug().Str("address", address).Msg("establishing connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)
	go func() {
		conn, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- conn
	}()

	select {
	case <-ctx.Done():
		// The dial keeps going in the background; reap it so an eventual
		// success does not leak a connection.
		go func() {
			select {
			case conn := <-connChan:
				_ = conn.Close()
			case <-errChan:
			}
		}()
		return &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case err := <-errChan:
		return &TransportError{Op: "connect", Err: err, IsTemporary: true}
	case conn := <-connChan:
		c.client = conn
		c.connected = true
		c.connectedAt = time.Now()
		c.lastUsedAt = time.Now()

		if c.cfg.KeepAliveInterval > 0 {
			c.keepAliveDone = make(chan struct{})
			go c.keepAlive(c.keepAliveDone)
		}

		c.logger.Info().Str("address", address).Msg("connected to build host")
		return nil
	}
}

// Name implements the builder Executor interface.
func (c *Client) Name() string { return "ssh" }

// Run executes one command on the remote host, capturing stdout and
// stderr. When the caller's context has no deadline the configured
// CommandTimeout applies.
func (c *Client) Run(ctx context.Context, cmd builder.Command) (builder.CommandResult, error) {
	conn, err := c.conn()
	if err != nil {
		return builder.CommandResult{ExitCode: -1}, err
	}

	if _, ok := ctx.Deadline(); !ok && c.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CommandTimeout)
		defer cancel()
	}

	session, err := conn.NewSession()
	if err != nil {
		return builder.CommandResult{ExitCode: -1}, &TransportError{
			Op:          "exec",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	line := buildCommandLine(cmd)
	c.logger.Debug().Str("command", line).Msg("executing remote command")

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- session.Run(line) }()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		runErr = ctx.Err()
	case runErr = <-done:
	}

	result := builder.CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runErr == nil {
		c.touch()
		return result, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
		return result, &TransportError{
			Op:  "exec",
			Err: fmt.Errorf("command exited with code %d", result.ExitCode),
		}
	}

	result.ExitCode = -1
	return result, &TransportError{Op: "exec", Err: runErr, IsTemporary: true}
}

// HealthCheck verifies the connection still accepts sessions.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected || c.client == nil {
		return &TransportError{Op: "healthcheck", Err: fmt.Errorf("not connected")}
	}
	return c.healthCheckLocked()
}

func (c *Client) healthCheckLocked() error {
	session, err := c.client.NewSession()
	if err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	defer session.Close()

	if err := session.Run("true"); err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	return nil
}

// IsConnected reports whether the client holds an established connection.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Info describes the current connection.
func (c *Client) Info() ConnectionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ConnectionInfo{
		Host:         c.cfg.Host,
		Port:         c.cfg.Port,
		User:         c.cfg.User,
		ConnectedAt:  c.connectedAt,
		LastActivity: c.lastUsedAt,
	}
}

// Close implements the builder Executor interface. It stops the keep-alive
// loop and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopKeepAliveLocked()

	if !c.connected || c.client == nil {
		return nil
	}

	c.logger.Debug().Msg("closing connection")

	err := c.client.Close()
	c.client = nil
	c.connected = false

	if err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

func (c *Client) stopKeepAliveLocked() {
	if c.keepAliveDone != nil {
		close(c.keepAliveDone)
		c.keepAliveDone = nil
	}
}

// keepAlive pings the server until stopped or too many pings fail in a
// row.
func (c *Client) keepAlive(done chan struct{}) {
	ticker := time.NewTicker(c.cfg.KeepAliveInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		c.mu.RLock()
		conn := c.client
		connected := c.connected
		c.mu.RUnlock()
		if !connected || conn == nil {
			return
		}

		if _, _, err := conn.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			failures++
			c.logger.Warn().Err(err).Int("failures", failures).Msg("keep-alive failed")
			if failures >= c.cfg.MaxKeepAliveRetries {
				c.logger.Error().Msg("keep-alive failed repeatedly, connection presumed dead")
				return
			}
		} else {
			failures = 0
			c.touch()
		}
	}
}

// conn returns the live connection for sessions and SFTP.
func (c *Client) conn() (*ssh.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected || c.client == nil {
		return nil, &TransportError{Op: "session", Err: fmt.Errorf("not connected")}
	}
	return c.client, nil
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastUsedAt = time.Now()
	c.mu.Unlock()
}

var safeArg = regexp.MustCompile(`^[a-zA-Z0-9_@%+=:,./-]+$`)

// shellQuote makes s safe as a single word for the remote shell.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if safeArg.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// buildCommandLine turns a Command into one shell line: cd into the
// working directory, prefix environment assignments, then the quoted
// argument vector.
func buildCommandLine(cmd builder.Command) string {
	var sb strings.Builder
	if cmd.Dir != "" {
		sb.WriteString("cd " + shellQuote(cmd.Dir) + " && ")
	}
	for _, kv := range cmd.Env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			sb.WriteString(k + "=" + shellQuote(v) + " ")
		}
	}
	sb.WriteString(shellQuote(cmd.Name))
	for _, arg := range cmd.Args {
		sb.WriteString(" " + shellQuote(arg))
	}
	return sb.String()
}
