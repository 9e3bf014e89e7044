package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	logs "github.com/danmuck/msfcore/internal/logging"
	"github.com/danmuck/msfcore/internal/observability"
	"github.com/danmuck/msfcore/internal/protocol/frame"
)

var (
	ErrNotConnected     = errors.New("network: not connected")
	ErrAlreadyConnected = errors.New("network: already connected")
	ErrNoServers        = errors.New("network: no servers to dial")
)

// Handler receives connection notifications. Calls for one connection are
// made from a single goroutine, in order: OnConnect, any OnFrame, an
// optional OnError, then OnClose.
type Handler interface {
	OnConnect(addr string)
	OnFrame(frame []byte)
	OnError(err error)
	// OnClose reports the end of a connection. local is true when Close
	// was called.
	OnClose(local bool)
}

// Config selects the gateway. A non-empty Host pins the address and turns
// off directory selection for the lifetime of the Conn.
type Config struct {
	Host           string
	Port           int
	ConnectTimeout time.Duration
	Limits         frame.Limits
}

// Conn is one gateway connection slot. It can be connected again after it
// closes.
type Conn struct {
	cfg     Config
	dir     *Directory
	handler Handler

	mu      sync.Mutex
	conn    net.Conn
	closing bool

	writeMu sync.Mutex
}

// NewConn builds a Conn. dir may be nil when cfg pins a host.
func NewConn(cfg Config, dir *Directory, handler Handler) *Conn {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.Limits.MaxFrameBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	return &Conn{cfg: cfg, dir: dir, handler: handler}
}

func (c *Conn) candidates(ctx context.Context) []Server {
	if c.cfg.Host != "" {
		port := c.cfg.Port
		if port == 0 {
			port = DefaultPort
		}
		return []Server{{Host: c.cfg.Host, Port: port}}
	}
	if c.dir == nil {
		return []Server{DefaultServer}
	}
	return c.dir.Servers(ctx)
}

// Connect dials the first reachable candidate and starts reading.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	servers := c.candidates(ctx)
	if len(servers) == 0 {
		return ErrNoServers
	}
	var lastErr error
	for _, s := range servers {
		dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", s.Addr())
		if err != nil {
			logs.Warnf("network.Conn dial addr=%s err=%v", s.Addr(), err)
			lastErr = err
			continue
		}
		c.mu.Lock()
		if c.conn != nil {
			c.mu.Unlock()
			_ = conn.Close()
			return ErrAlreadyConnected
		}
		c.conn = conn
		c.closing = false
		c.mu.Unlock()

		logs.Infof("network.Conn connected addr=%s", s.Addr())
		c.handler.OnConnect(s.Addr())
		go c.readLoop(conn)
		return nil
	}
	return fmt.Errorf("network: dial failed: %w", lastErr)
}

func (c *Conn) readLoop(conn net.Conn) {
	r := frame.NewReassembler(c.cfg.Limits)
	buf := make([]byte, 64*1024)
	var readErr error
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			frames, ferr := r.Feed(buf[:n])
			for _, f := range frames {
				observability.RecordFrame("in")
				c.handler.OnFrame(f)
			}
			if ferr != nil {
				readErr = ferr
				break
			}
		}
		if err != nil {
			readErr = err
			break
		}
	}
	_ = conn.Close()

	c.mu.Lock()
	local := c.closing
	if c.conn == conn {
		c.conn = nil
		c.closing = false
	}
	c.mu.Unlock()

	if !local {
		logs.Warnf("network.Conn read addr=%s err=%v", conn.RemoteAddr(), readErr)
		c.handler.OnError(readErr)
	} else {
		logs.Infof("network.Conn closed addr=%s", conn.RemoteAddr())
	}
	c.handler.OnClose(local)
}

// Write sends one whole frame.
func (c *Conn) Write(b []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := conn.Write(b); err != nil {
		logs.Warnf("network.Conn write addr=%s err=%v", conn.RemoteAddr(), err)
		return err
	}
	observability.RecordFrame("out")
	return nil
}

// Close tears down the current connection. OnClose fires with local=true
// once the read loop exits.
func (c *Conn) Close() error {
	c.mu.Lock()
	conn := c.conn
	if conn != nil {
		c.closing = true
	}
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}
