package portalpasazera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrConnectionClosed = errors.New("connection closed")

const receiveBufferSize = 8192

// Fragment is the result of a single receive operation
type Fragment struct {
	Data         []byte
	EndOfMessage bool
}

// Connection is a full duplex message stream
type Connection interface {
	Send(ctx context.Context, data []byte) error
	// Receive blocks for the next fragment, returning ErrConnectionClosed once the peer has closed
	Receive(ctx context.Context) (Fragment, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, streamURL string) (Connection, error)
}

// WebsocketDialer opens websocket connections to the hub
type WebsocketDialer struct {
	Headers          Headers
	HandshakeTimeout time.Duration
	ReceiveTimeout   time.Duration
	WriteTimeout     time.Duration
}

func (d *WebsocketDialer) Dial(ctx context.Context, streamURL string) (Connection, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
		ReadBufferSize:   receiveBufferSize,
	}

	header := http.Header{}
	if d.Headers.Origin != "" {
		header.Set("Origin", d.Headers.Origin)
	}
	if d.Headers.UserAgent != "" {
		header.Set("User-Agent", d.Headers.UserAgent)
	}
	if d.Headers.Cookie != "" {
		header.Set("Cookie", d.Headers.Cookie)
	}

	conn, resp, err := dialer.DialContext(ctx, streamURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial stream (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial stream: %w", err)
	}

	return &websocketConnection{
		conn:           conn,
		buffer:         make([]byte, receiveBufferSize),
		receiveTimeout: d.ReceiveTimeout,
		writeTimeout:   d.WriteTimeout,
	}, nil
}

type websocketConnection struct {
	conn   *websocket.Conn
	reader io.Reader
	buffer []byte

	receiveTimeout time.Duration
	writeTimeout   time.Duration

	writeMutex sync.Mutex
	closeOnce  sync.Once
}

func (c *websocketConnection) Send(ctx context.Context, data []byte) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return translateError(err)
	}

	return nil
}

// Receive reads the current message in chunks of at most 8KiB, the final chunk
// of each message is marked EndOfMessage
func (c *websocketConnection) Receive(ctx context.Context) (Fragment, error) {
	if err := ctx.Err(); err != nil {
		return Fragment{}, err
	}

	if c.receiveTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.receiveTimeout))
	}

	if c.reader == nil {
		_, reader, err := c.conn.NextReader()
		if err != nil {
			return Fragment{}, translateError(err)
		}
		c.reader = reader
	}

	n, err := c.reader.Read(c.buffer)
	data := bytes.Clone(c.buffer[:n])

	if errors.Is(err, io.EOF) {
		c.reader = nil
		return Fragment{Data: data, EndOfMessage: true}, nil
	}
	if err != nil {
		c.reader = nil
		return Fragment{}, translateError(err)
	}

	return Fragment{Data: data}, nil
}

func (c *websocketConnection) Close() error {
	var err error

	c.closeOnce.Do(func() {
		c.writeMutex.Lock()
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMutex.Unlock()

		err = c.conn.Close()
	})

	return err
}

func translateError(err error) error {
	var closeError *websocket.CloseError
	if errors.As(err, &closeError) {
		return fmt.Errorf("%w: %d %s", ErrConnectionClosed, closeError.Code, closeError.Text)
	}

	if errors.Is(err, websocket.ErrCloseSent) {
		return ErrConnectionClosed
	}

	return err
}
