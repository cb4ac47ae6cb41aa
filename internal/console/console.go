// Package console implements the control channel to an emulator console: a
// line-oriented ASCII protocol where every command is answered by a line
// containing OK, or by a line starting with KO on failure.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/gpsfix/internal/logging"
	"github.com/signalsfoundry/gpsfix/model"
)

const (
	DefaultHost    = "localhost"
	DefaultPort    = 5554
	DefaultTimeout = 10 * time.Second

	ackToken = "OK"
	nakToken = "KO"
)

// Config describes how to reach a console.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration

	// AuthToken is sent as "auth <token>" after the greeting when set.
	AuthToken string
	// SkipGreeting disables waiting for the banner the console prints on
	// connect. Only useful against endpoints that do not send one.
	SkipGreeting bool

	Logger logging.Logger
}

// Address returns host:port with defaults applied.
func (c Config) Address() string {
	host := c.Host
	if host == "" {
		host = DefaultHost
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Client is a connected console session. A Client serialises commands; it
// is not meant to be shared between producers.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	r       *bufio.Reader
	addr    string
	timeout time.Duration
	closed  bool
	// lost is set once an exchange ends without a complete reply. The
	// stream may still hold the late answer, so the session is unusable.
	lost error

	log    logging.Logger
	tracer trace.Tracer
}

// Dial connects to the console described by cfg. Refusals and connect
// timeouts are reported as model.ErrConnection.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Noop()
	}
	addr := cfg.Address()

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", model.ErrConnection, addr, err)
	}

	c := &Client{
		conn:    conn,
		r:       bufio.NewReader(conn),
		addr:    addr,
		timeout: timeout,
		log:     log.With(logging.String("console", addr)),
		tracer:  otel.Tracer("github.com/signalsfoundry/gpsfix/internal/console"),
	}

	if !cfg.SkipGreeting {
		if _, err := c.awaitAck(ctx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("console greeting: %w", err)
		}
	}
	if cfg.AuthToken != "" {
		if _, err := c.Command(ctx, "auth "+cfg.AuthToken); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("console auth: %w", err)
		}
	}

	c.log.Info(ctx, "console connected", logging.Duration("timeout", timeout))
	return c, nil
}

// Addr returns the remote address of the session.
func (c *Client) Addr() string { return c.addr }

// FormatFix renders the wire command for fix, without the line terminator.
func FormatFix(fix model.Fix) string {
	return fmt.Sprintf("geo fix %s %s %s %d",
		formatFloat(fix.Position.Longitude),
		formatFloat(fix.Position.Latitude),
		formatFloat(fix.AltitudeMeters),
		fix.Satellites,
	)
}

// SendFix transmits fix and blocks until it is acknowledged, the console
// rejects it, the read deadline passes or the transport fails.
func (c *Client) SendFix(ctx context.Context, fix model.Fix) error {
	if err := fix.Position.Validate(); err != nil {
		return err
	}
	if fix.Satellites < 0 {
		return fmt.Errorf("%w: satellite count %d is negative", model.ErrInvalidInput, fix.Satellites)
	}

	cmd := FormatFix(fix)
	ctx, span := c.tracer.Start(ctx, "console.SendFix", trace.WithAttributes(
		attribute.Float64("fix.latitude", fix.Position.Latitude),
		attribute.Float64("fix.longitude", fix.Position.Longitude),
		attribute.Int("fix.satellites", fix.Satellites),
		attribute.String("fix.label", fix.Label),
	))
	defer span.End()

	start := time.Now()
	_, err := c.Command(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	c.log.Debug(ctx, "fix acknowledged",
		logging.String("command", cmd),
		logging.Duration("latency", time.Since(start)),
	)
	return nil
}

// Command sends a raw console command and waits for its acknowledgement. It
// returns the informational lines received before the OK line.
func (c *Client) Command(ctx context.Context, cmd string) ([]string, error) {
	if strings.ContainsAny(cmd, "\r\n") {
		return nil, fmt.Errorf("%w: command must be a single line", model.ErrInvalidInput)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lost != nil {
		return nil, fmt.Errorf("%w: %s: session lost: %v", model.ErrConnection, c.addr, c.lost)
	}
	if c.closed {
		return nil, fmt.Errorf("%w: %s: session closed", model.ErrConnection, c.addr)
	}

	if err := c.setDeadline(ctx, c.conn.SetWriteDeadline); err != nil {
		return nil, err
	}
	if _, err := io.WriteString(c.conn, cmd+"\n"); err != nil {
		err = fmt.Errorf("%w: write to %s: %w", model.ErrConnection, c.addr, err)
		c.abandon(err)
		return nil, err
	}
	return c.awaitAck(ctx)
}

// abandon closes the transport after an exchange that did not complete.
// Callers hold c.mu.
func (c *Client) abandon(reason error) {
	if c.lost != nil {
		return
	}
	c.lost = reason
	c.closed = true
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.log.Warn(context.Background(), "console close failed", logging.Err(err))
	}
	c.log.Warn(context.Background(), "console session abandoned", logging.Err(reason))
}

// awaitAck reads lines until an acknowledgement. A KO reply leaves the
// session usable; any other failure abandons it. Callers hold c.mu or own
// the client exclusively.
func (c *Client) awaitAck(ctx context.Context) ([]string, error) {
	info, err := c.readReply(ctx)
	if err != nil && !errors.Is(err, errRejected) {
		c.abandon(err)
	}
	return info, err
}

func (c *Client) readReply(ctx context.Context) ([]string, error) {
	if err := c.setDeadline(ctx, c.conn.SetReadDeadline); err != nil {
		return nil, err
	}
	// Cancelling ctx unblocks a pending read by moving the deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var info []string
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return info, ctxErr
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return info, fmt.Errorf("%w: no acknowledgement from %s within %s: %w",
					model.ErrProtocol, c.addr, c.timeout, err)
			}
			return info, fmt.Errorf("%w: read from %s: %w", model.ErrConnection, c.addr, err)
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, nakToken):
			msg := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, nakToken), ":"))
			return info, &rejectedError{addr: c.addr, msg: msg}
		case hasToken(line, ackToken):
			return info, nil
		default:
			info = append(info, line)
		}
	}
}

func (c *Client) setDeadline(ctx context.Context, set func(time.Time) error) error {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := set(deadline); err != nil {
		return fmt.Errorf("%w: %s: %w", model.ErrConnection, c.addr, err)
	}
	return nil
}

// Close releases the transport. Calling it more than once is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close %s: %w", c.addr, err)
	}
	return nil
}

var errRejected = errors.New("console rejected command")

// rejectedError is a complete KO reply. It matches both model.ErrProtocol
// and errRejected.
type rejectedError struct {
	addr string
	msg  string
}

func (e *rejectedError) Error() string {
	return fmt.Sprintf("%v: console %s rejected command: %s", model.ErrProtocol, e.addr, e.msg)
}

func (e *rejectedError) Is(target error) bool {
	return target == model.ErrProtocol || target == errRejected
}

func hasToken(line, token string) bool {
	for _, f := range strings.FieldsFunc(line, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ':' || r == ','
	}) {
		if f == token {
			return true
		}
	}
	return false
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
