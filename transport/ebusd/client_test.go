package ebusd

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rob-gra/b524scan/clog"
	"github.com/rob-gra/b524scan/transport"
)

// fakeDaemon serves one scripted response line per accepted connection.
func fakeDaemon(t *testing.T, responses []string) (host string, port int, closeFn func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for i := 0; ; i++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn, resp string) {
				defer conn.Close()
				r := bufio.NewReader(conn)
				_, _ = r.ReadString('\n') // drain the command line
				conn.Write([]byte(resp + "\n\n"))
			}(conn, responses[i%len(responses)])
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port, func() { ln.Close() }
}

func newTestClient(t *testing.T, host string, port int) *Client {
	t.Helper()
	cfg := transport.Config{
		Host:         host,
		Port:         port,
		DialTimeout:  time.Second,
		IOTimeout:    time.Second,
		RetryBackoff: 10 * time.Millisecond,
		DrainTimeout: 20 * time.Millisecond,
	}
	c, err := NewClient(cfg, clog.NewLogger("test"))
	require.NoError(t, err)
	return c
}

func TestClient_RequestSuccess(t *testing.T) {
	host, port, closeFn := fakeDaemon(t, []string{"010203"})
	defer closeFn()
	c := newTestClient(t, host, port)

	b, err := c.Request(context.Background(), 0x15, 0xB5, 0x24, []byte{0x00, 0x03, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, b)
}

func TestClient_RetryOnTimeoutThenSuccess(t *testing.T) {
	host, port, closeFn := fakeDaemon(t, []string{"ERR: timeout", "010203"})
	defer closeFn()
	c := newTestClient(t, host, port)

	b, err := c.Request(context.Background(), 0x15, 0xB5, 0x24, []byte{0x00, 0x03, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, b)
}

func TestClient_RetryOnTimeoutTwiceFails(t *testing.T) {
	host, port, closeFn := fakeDaemon(t, []string{"ERR: timeout"})
	defer closeFn()
	c := newTestClient(t, host, port)

	_, err := c.Request(context.Background(), 0x15, 0xB5, 0x24, []byte{0x00, 0x03, 0x00})
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrTimeout)
}

func TestClient_ProtocolErrorDoesNotRetry(t *testing.T) {
	calls := 0
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			calls++
			go func(conn net.Conn) {
				defer conn.Close()
				r := bufio.NewReader(conn)
				_, _ = r.ReadString('\n')
				conn.Write([]byte("ERR: bad payload\n\n"))
			}(conn)
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	c := newTestClient(t, addr.IP.String(), addr.Port)

	_, err = c.Request(context.Background(), 0x15, 0xB5, 0x24, []byte{0x00})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, 1, calls)
}

func TestClient_CommandLineFraming(t *testing.T) {
	line := commandLine("read", 0x15, 0xB5, 0x24, []byte{0x00, 0x03, 0x00})
	assert.Equal(t, "read -h 15B52403000300\n", line)
}

func TestClient_Broadcast(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		line, _ := r.ReadString('\n')
		received <- line
		conn.Write([]byte("\n"))
	}()
	addr := ln.Addr().(*net.TCPAddr)
	c := newTestClient(t, addr.IP.String(), addr.Port)

	err = c.Broadcast(context.Background(), 0xB5, 0x09, []byte{0x0D, 0x00, 0x01})
	require.NoError(t, err)
	select {
	case line := <-received:
		assert.Equal(t, "write -h FFB509030D0001\n", line)
	case <-time.After(time.Second):
		t.Fatal("daemon never received the broadcast command")
	}
}

func TestClassifyLine(t *testing.T) {
	kind, _, _ := classifyLine("")
	assert.Equal(t, lineEmpty, kind)

	kind, _, _ = classifyLine("ERR: timeout waiting for answer")
	assert.Equal(t, lineTimeout, kind)

	kind, _, _ = classifyLine("err no answer")
	assert.Equal(t, lineTimeout, kind)

	kind, _, _ = classifyLine("err: bad request")
	assert.Equal(t, lineErr, kind)

	kind, data, _ := classifyLine("0x0102")
	assert.Equal(t, linePayload, kind)
	assert.Equal(t, []byte{0x01, 0x02}, data)
}
