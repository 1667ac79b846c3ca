package rtmp

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmp-publisher/config"
	"go.uber.org/zap"
)

// TransportHandler receives the events of a transport. Calls come from the transport's own goroutines.
type TransportHandler interface {
	OnOpen()
	// OnReceive is called with bytes read from the connection. b isn't reused by the transport.
	OnReceive(b []byte)
	// OnClose is called once when the connection fails or the peer closes it. err is nil after Close.
	OnClose(err error)
}

// Transport is the byte pipe a Session runs on. Open returns immediately and reports the result through the handler.
type Transport interface {
	Open(host string, port int, secure bool, handler TransportHandler) error
	// Send writes b completely before returning, or fails.
	Send(b []byte) (int, error)
	Close() error
}

// TCPTransport is a Transport over a TCP connection, wrapped in TLS when opened as secure.
type TCPTransport struct {
	logger             *zap.SugaredLogger
	insecureSkipVerify bool

	mu     sync.Mutex
	conn   net.Conn
	writer *bufferedWriter
	cancel context.CancelFunc
}

func NewTCPTransport(logger *zap.SugaredLogger, insecureSkipVerify bool) *TCPTransport {
	return &TCPTransport{
		logger:             logger,
		insecureSkipVerify: insecureSkipVerify,
	}
}

func (t *TCPTransport) Open(host string, port int, secure bool, handler TransportHandler) error {
	if handler == nil {
		return errors.New("transport: nil handler")
	}
	t.Close()

	ctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	go t.run(ctx, addr, host, secure, handler)
	return nil
}

func (t *TCPTransport) dial(ctx context.Context, addr string, host string, secure bool) (net.Conn, error) {
	if !secure {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
	d := tls.Dialer{
		Config: &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: t.insecureSkipVerify,
		},
	}
	return d.DialContext(ctx, "tcp", addr)
}

func (t *TCPTransport) run(ctx context.Context, addr string, host string, secure bool, handler TransportHandler) {
	conn, err := t.dial(ctx, addr, host, secure)
	if err != nil {
		if ctx.Err() != nil {
			handler.OnClose(nil)
			return
		}
		handler.OnClose(errors.Wrapf(err, "dial %s", addr))
		return
	}

	t.mu.Lock()
	if ctx.Err() != nil {
		t.mu.Unlock()
		conn.Close()
		handler.OnClose(nil)
		return
	}
	t.conn = conn
	t.writer = newBufferedWriter(conn, config.BuffioSize)
	t.mu.Unlock()

	t.logger.Debugf("transport: connected to %s", conn.RemoteAddr())
	handler.OnOpen()

	reader := newCountingReader(conn, config.BuffioSize)
	buf := make([]byte, config.BuffioSize)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			b := make([]byte, n)
			copy(b, buf[:n])
			handler.OnReceive(b)
		}
		if err != nil {
			t.logger.Debugf("transport: connection to %s ended after %d bytes read", addr, reader.Count())
			switch {
			case ctx.Err() != nil:
				handler.OnClose(nil)
			case err == io.EOF:
				handler.OnClose(errors.Wrap(err, "connection closed by server"))
			default:
				handler.OnClose(errors.Wrap(err, "read"))
			}
			return
		}
	}
}

func (t *TCPTransport) Send(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writer == nil {
		return 0, ErrNotConnected
	}
	n, err := t.writer.Write(b)
	if err != nil {
		return n, errors.Wrap(err, "write")
	}
	if err := t.writer.Flush(); err != nil {
		return n, errors.Wrap(err, "flush")
	}
	return n, nil
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	var err error
	if t.conn != nil {
		t.logger.Debugf("transport: closing %s after %d bytes written", t.conn.RemoteAddr(), t.writer.Count())
		err = t.conn.Close()
		t.conn = nil
		t.writer = nil
	}
	return err
}
