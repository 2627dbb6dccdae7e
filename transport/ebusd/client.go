// Package ebusd implements the daemon command-line framing and response
// parsing: one text command per fresh TCP
// connection, hex payload lines, and the transport-layer single-retry-on-
// timeout policy.
package ebusd

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rob-gra/b524scan/clog"
	"github.com/rob-gra/b524scan/transport"
)

// ErrProtocol wraps any daemon "err ..." line that isn't a recognized
// timeout phrase.
var ErrProtocol = errors.New("transport: protocol error")

// ErrNoPayload is returned when a response stream ends without ever
// producing a hex payload line and without an explicit err line either.
var ErrNoPayload = errors.New("transport: no payload line received")

type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Client drives the ebusd-style TCP command port. Every request opens a
// fresh connection, closed on every exit path.
type Client struct {
	cfg   transport.Config
	log   clog.Clog
	dial  dialFunc
	trace string
}

var _ transport.RawTransport = (*Client)(nil)

// NewClient builds a Client against cfg, applying defaults via Valid().
func NewClient(cfg transport.Config, logger clog.Clog) (*Client, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	var d net.Dialer
	trace := uuid.New().String()[:8]
	return &Client{
		cfg:   cfg,
		log:   logger.WithTag(trace),
		dial:  d.DialContext,
		trace: trace,
	}, nil
}

// Request sends a read command for the given destination/primary/
// secondary/payload and returns the first hex payload line's bytes,
// retrying exactly once on a timeout-classified failure.
func (c *Client) Request(ctx context.Context, dst transport.Address, primary, secondary byte, payload []byte) ([]byte, error) {
	b, err := c.doRequest(ctx, "read", dst, primary, secondary, payload, true)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, transport.ErrTimeout) {
		return nil, err
	}
	c.log.Debug("timeout on dst=0x%02x, retrying after %s", dst, c.cfg.RetryBackoff)
	select {
	case <-time.After(c.cfg.RetryBackoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.doRequest(ctx, "read", dst, primary, secondary, payload, true)
}

// Broadcast writes a broadcast command and does not await a payload line.
func (c *Client) Broadcast(ctx context.Context, primary, secondary byte, payload []byte) error {
	_, err := c.doRequest(ctx, "write", transport.Broadcast, primary, secondary, payload, false)
	return err
}

// Close is a no-op: Client holds no persistent connection.
func (c *Client) Close() error { return nil }

// Info issues the daemon's "i" info command and returns every non-blank
// line of its response, for ParseInfoLine/FilterTargets to consume.
func (c *Client) Info(ctx context.Context) ([]string, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, err := c.dial(dialCtx, "tcp", c.addr())
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.IOTimeout)); err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	if _, err := conn.Write([]byte("i\n")); err != nil {
		return nil, fmt.Errorf("transport: write: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.IOTimeout)); err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	var lines []string
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil && !isTimeout(err) {
		return nil, fmt.Errorf("transport: %w", err)
	}
	return lines, nil
}

func (c *Client) addr() string {
	return fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
}

func (c *Client) doRequest(ctx context.Context, cmd string, dst transport.Address, primary, secondary byte, payload []byte, expectResponse bool) ([]byte, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, err := c.dial(dialCtx, "tcp", c.addr())
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	defer conn.Close()

	line := commandLine(cmd, dst, primary, secondary, payload)
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.IOTimeout)); err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	if _, err := conn.Write([]byte(line)); err != nil {
		if isTimeout(err) {
			return nil, transport.ErrTimeout
		}
		return nil, fmt.Errorf("transport: write: %w", err)
	}

	if !expectResponse {
		// Still drain a short ack window so the connection closes cleanly,
		// but never surface its content or treat its timeout as failure.
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.DrainTimeout))
		_, _ = bufio.NewReader(conn).ReadString('\n')
		return nil, nil
	}

	return c.readResponse(conn)
}

// commandLine builds the ASCII command line for either a read or a
// broadcast write: zero-padded uppercase hex, payload length included,
// no CRC (the daemon computes it).
func commandLine(cmd string, dst transport.Address, primary, secondary byte, payload []byte) string {
	return fmt.Sprintf("%s -h %02X%02X%02X%02X%s\n",
		cmd, dst, primary, secondary, len(payload), strings.ToUpper(hex.EncodeToString(payload)))
}

type lineKind int

const (
	lineEmpty lineKind = iota
	lineTimeout
	lineErr
	linePayload
)

func classifyLine(line string) (lineKind, []byte, string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return lineEmpty, nil, ""
	}
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "err") {
		if strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") || strings.Contains(lower, "no answer") {
			return lineTimeout, nil, trimmed
		}
		return lineErr, nil, trimmed
	}

	hexPart := trimmed
	hexPart = strings.TrimPrefix(hexPart, "0x")
	hexPart = strings.TrimPrefix(hexPart, "0X")
	if len(hexPart)%2 != 0 {
		return lineErr, nil, trimmed
	}
	b, err := hex.DecodeString(strings.ToLower(hexPart))
	if err != nil {
		return lineErr, nil, trimmed
	}
	return linePayload, b, trimmed
}

// readResponse reads lines until one hex payload line has been captured;
// blank lines before it are skipped. After the payload line, a blank-line
// terminator ends the read, and any trailing lines are drained with the
// short DrainTimeout, which is never treated as a request-level timeout.
func (c *Client) readResponse(conn net.Conn) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.IOTimeout)); err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	scanner := bufio.NewScanner(conn)

	var payload []byte
	got := false
	for scanner.Scan() {
		kind, data, text := classifyLine(scanner.Text())
		switch kind {
		case lineEmpty:
			if got {
				return payload, nil
			}
		case lineTimeout:
			return nil, transport.ErrTimeout
		case lineErr:
			return nil, fmt.Errorf("%w: %s", ErrProtocol, text)
		case linePayload:
			if !got {
				payload = data
				got = true
				_ = conn.SetReadDeadline(time.Now().Add(c.cfg.DrainTimeout))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if got {
			return payload, nil
		}
		if isTimeout(err) {
			return nil, transport.ErrTimeout
		}
		return nil, fmt.Errorf("transport: %w", err)
	}
	if !got {
		return nil, ErrNoPayload
	}
	return payload, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
