// Package client is the login and session state machine. A Client owns one
// gateway connection, drives the handshake flows, keeps the session
// registered and heart-beating, correlates service calls by sequence number
// and reports lifecycle changes and pushes on its event channel.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/msfcore/internal/device"
	logs "github.com/danmuck/msfcore/internal/logging"
	"github.com/danmuck/msfcore/internal/network"
	"github.com/danmuck/msfcore/internal/observability"
	"github.com/danmuck/msfcore/internal/protocol/frame"
	"github.com/danmuck/msfcore/internal/protocol/session"
)

const defaultEventBuffer = 64

// TokenStore receives every token the gateway issues.
type TokenStore interface {
	SaveToken(uin uint32, token []byte) error
}

type Config struct {
	Uin      uint32
	Platform device.Platform
	Session  session.Config
	// Network pins a gateway when Host is set; otherwise Directory picks one.
	Network   network.Config
	Directory network.DirectoryConfig
	// Reconnect restores an Online session after the connection drops.
	Reconnect bool
	// ServerPublicKey replaces the pinned gateway key when set.
	ServerPublicKey []byte
	Tokens          TokenStore
	EventBuffer     int
}

func DefaultConfig(uin uint32) Config {
	return Config{
		Uin:         uin,
		Platform:    device.Android,
		Session:     session.DefaultConfig(),
		Reconnect:   true,
		EventBuffer: defaultEventBuffer,
	}
}

// Client is one logical session for one account.
type Client struct {
	cfg     Config
	dev     *device.Device
	apk     device.Apk
	sig     *session.Sig
	pending *session.PendingTable
	conn    *network.Conn
	rng     *rand.Rand

	eventsMu     sync.RWMutex
	events       chan Event
	eventsClosed bool

	mu         sync.Mutex
	state      State
	terminated bool
	refreshing bool
	md5pass    *[16]byte
	profile    Profile
	kicked     *KickoffError
	netErr     error
	hbCancel   context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) (*Client, error) {
	if cfg.Uin == 0 {
		return nil, ErrUinRequired
	}
	if cfg.Platform == 0 {
		cfg.Platform = device.Android
	}
	if cfg.Session == (session.Config{}) {
		cfg.Session = session.DefaultConfig()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.Network.ConnectTimeout <= 0 {
		cfg.Network.ConnectTimeout = cfg.Session.ConnectTimeout
	}
	if cfg.Network.Limits.MaxFrameBytes == 0 {
		cfg.Network.Limits = frame.DefaultLimits()
	}

	c := &Client{
		cfg:     cfg,
		dev:     device.New(cfg.Uin),
		apk:     device.ApkFor(cfg.Platform),
		sig:     session.NewSig(cfg.Uin),
		pending: session.NewPendingTable(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		events:  make(chan Event, cfg.EventBuffer),
	}
	var dir *network.Directory
	if cfg.Network.Host == "" {
		dcfg := cfg.Directory
		if dcfg.SubID == 0 {
			dcfg.SubID = c.apk.SubID
		}
		if dcfg.IMEI == "" {
			dcfg.IMEI = c.dev.IMEI
		}
		dir = network.NewDirectory(dcfg)
	}
	c.conn = network.NewConn(cfg.Network, dir, connHandler{c: c})
	c.ctx, c.cancel = context.WithCancel(context.Background())
	observability.RegisterMetrics()
	return c, nil
}

func (c *Client) Uin() uint32 {
	return c.cfg.Uin
}

// Events delivers lifecycle notifications and pushes. The channel closes on
// Terminate. Events are dropped, with a warning, while the buffer is full.
func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Profile() Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile
}

// Token returns the current token, nil before the first login.
func (c *Client) Token() []byte {
	creds := c.sig.Credentials()
	if creds.Empty() {
		return nil
	}
	return creds.Token()
}

// Cookie returns the web cookie issued for domain at login.
func (c *Client) Cookie(domain string) []byte {
	return c.sig.Cookie(domain)
}

// TimeDiff is the gateway clock minus the local clock, in seconds.
func (c *Client) TimeDiff() int64 {
	return c.sig.TimeDiff()
}

func (c *Client) emit(ev Event) {
	c.eventsMu.RLock()
	defer c.eventsMu.RUnlock()
	if c.eventsClosed {
		return
	}
	select {
	case c.events <- ev:
	default:
		logs.Warnf("client.emit dropped event=%T uin=%d buffer=%d", ev, c.cfg.Uin, cap(c.events))
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.setStateLocked(s)
	c.mu.Unlock()
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	logs.Debugf("client.state uin=%d from=%s to=%s", c.cfg.Uin, c.state, s)
	c.state = s
}

// Call sends a named service call and waits for its response with the
// default call timeout.
func (c *Client) Call(ctx context.Context, cmd string, body []byte) ([]byte, error) {
	return c.CallTimeout(ctx, cmd, body, c.cfg.Session.CallTimeout)
}

// CallTimeout is Call with an explicit timeout. A call that times out
// returns a *RejectionError with CodeTimeout; a response arriving later
// has no pending entry and is delivered as a PushEvent. A timeout of zero
// or less uses the configured call timeout.
func (c *Client) CallTimeout(ctx context.Context, cmd string, body []byte, timeout time.Duration) ([]byte, error) {
	if err := c.requireOnline(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = c.cfg.Session.CallTimeout
	}
	return c.callUni(ctx, cmd, body, timeout)
}

func (c *Client) requireOnline() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateOnline {
		return nil
	}
	if c.kicked != nil {
		return c.kicked
	}
	return &RejectionError{Code: CodeNotOnline, Message: "client not online"}
}

func (c *Client) buildUni(seq uint32, cmd string, body []byte) []byte {
	return frame.BuildService(frame.Service{
		Seq:     seq,
		Cmd:     cmd,
		Body:    body,
		Uin:     c.cfg.Uin,
		Session: c.sig.Session(),
		D2Key:   c.sig.Credentials().D2Key,
	})
}

func (c *Client) callUni(ctx context.Context, cmd string, body []byte, timeout time.Duration) ([]byte, error) {
	seq := c.sig.NextSeq()
	return c.roundTrip(ctx, cmd, seq, c.buildUni(seq, cmd, body), timeout)
}

// writeUni sends a service packet without waiting for a response.
func (c *Client) writeUni(seq uint32, cmd string, body []byte) error {
	return c.conn.Write(c.buildUni(seq, cmd, body))
}

type loginPacket struct {
	cmd     string
	body    []byte
	enc     frame.Encryption
	subID   uint32
	timeout time.Duration
}

func (c *Client) sendLogin(ctx context.Context, p loginPacket) ([]byte, error) {
	if p.subID == 0 {
		p.subID = c.apk.SubID
	}
	if p.timeout <= 0 {
		p.timeout = c.cfg.Session.CallTimeout
	}
	seq := c.sig.NextSeq()
	snap := c.sig.Snapshot()
	pkt, err := frame.BuildLogin(frame.Login{
		Seq:     seq,
		Cmd:     p.cmd,
		Body:    p.body,
		Enc:     p.enc,
		Uin:     c.cfg.Uin,
		SubID:   p.subID,
		Session: snap.Session,
		IMEI:    c.dev.IMEI,
		TGT:     snap.Creds.TGT,
		Keys:    frame.Keys{D2: snap.Creds.D2, D2Key: snap.Creds.D2Key},
	})
	if err != nil {
		return nil, err
	}
	return c.roundTrip(ctx, p.cmd, seq, pkt, p.timeout)
}

// roundTrip writes one frame and waits for the response carrying seq.
func (c *Client) roundTrip(ctx context.Context, cmd string, seq uint32, pkt []byte, timeout time.Duration) ([]byte, error) {
	start := time.Now()
	ch, err := c.pending.Add(seq, timeout)
	if err != nil {
		return nil, err
	}
	logs.Debugf("client.send cmd=%s seq=%d bytes=%d", cmd, seq, len(pkt))
	if err := c.conn.Write(pkt); err != nil {
		c.pending.Fail(seq, err)
		observability.RecordCall(cmd, "error", time.Since(start))
		return nil, &RejectionError{Code: CodeNetwork, Message: fmt.Sprintf("write %s (%d)", cmd, seq), Err: err}
	}

	select {
	case res := <-ch:
		switch {
		case errors.Is(res.Err, session.ErrTimeout):
			observability.RecordCall(cmd, "timeout", time.Since(start))
			logs.Warnf("client.send timeout cmd=%s seq=%d", cmd, seq)
			return nil, &RejectionError{Code: CodeTimeout, Message: fmt.Sprintf("packet timeout (%d)", seq), Err: res.Err}
		case res.Err != nil:
			observability.RecordCall(cmd, "error", time.Since(start))
			return nil, res.Err
		}
		observability.RecordCall(cmd, "ok", time.Since(start))
		return res.Payload, nil
	case <-ctx.Done():
		c.pending.Fail(seq, ctx.Err())
		observability.RecordCall(cmd, "error", time.Since(start))
		return nil, ctx.Err()
	}
}

// dispatch routes one inbound frame to its pending call or the push path.
func (c *Client) dispatch(f []byte) {
	creds := c.sig.Credentials()
	pkt, err := frame.ParseLimited(f, frame.Keys{D2: creds.D2, D2Key: creds.D2Key}, c.cfg.Network.Limits)
	if err != nil {
		var rc *frame.RetCodeError
		switch {
		case errors.As(err, &rc):
			perr := &ProtocolError{Op: "response", Err: err}
			c.pending.Fail(rc.Seq, perr)
			c.invalidate(perr)
		case errors.Is(err, frame.ErrUnknownFlag):
			c.invalidate(&ProtocolError{Op: "response", Err: err})
		default:
			logs.Warnf("client.dispatch dropped malformed frame uin=%d err=%v", c.cfg.Uin, err)
		}
		return
	}
	logs.Debugf("client.recv cmd=%s seq=%d bytes=%d", pkt.Cmd, pkt.Seq, len(pkt.Payload))
	if c.pending.Resolve(pkt.Seq, pkt.Payload) {
		return
	}
	c.handlePush(pkt)
}

func (c *Client) invalidate(err error) {
	logs.Errf("client.invalidate uin=%d err=%v", c.cfg.Uin, err)
	c.emit(TokenInvalidEvent{Err: err})
}

func (c *Client) ensureConnected(ctx context.Context) error {
	if c.conn.Connected() {
		return nil
	}
	if err := c.conn.Connect(ctx); err != nil && !errors.Is(err, network.ErrAlreadyConnected) {
		c.emit(NetworkErrorEvent{Code: CodeNetwork, Message: err.Error()})
		return &RejectionError{Code: CodeNetwork, Message: "connect failed", Err: err}
	}
	return nil
}

// Logout deregisters an Online session and closes the connection.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	online := c.state == StateOnline
	c.setStateLocked(StateDisconnected)
	c.stopHeartbeatLocked()
	c.mu.Unlock()

	var err error
	if online {
		err = c.deregister(ctx)
	}
	_ = c.conn.Close()
	logs.Infof("client.Logout uin=%d online=%t err=%v", c.cfg.Uin, online, err)
	return err
}

// Terminate stops every background task, closes the connection and the
// event channel. The Client cannot be used afterwards.
func (c *Client) Terminate() {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return
	}
	c.terminated = true
	c.setStateLocked(StateDisconnected)
	c.stopHeartbeatLocked()
	c.mu.Unlock()

	c.cancel()
	_ = c.conn.Close()
	c.wg.Wait()

	c.eventsMu.Lock()
	c.eventsClosed = true
	close(c.events)
	c.eventsMu.Unlock()
	logs.Infof("client.Terminate uin=%d", c.cfg.Uin)
}

// connHandler adapts transport notifications to the state machine.
type connHandler struct {
	c *Client
}

func (h connHandler) OnConnect(addr string) {
	h.c.sig.ResetSession()
	logs.Infof("client.connected uin=%d addr=%s", h.c.cfg.Uin, addr)
}

func (h connHandler) OnFrame(f []byte) {
	h.c.dispatch(f)
}

func (h connHandler) OnError(err error) {
	h.c.mu.Lock()
	h.c.netErr = err
	h.c.mu.Unlock()
	h.c.emit(NetworkErrorEvent{Code: CodeNetwork, Message: err.Error()})
}

func (h connHandler) OnClose(local bool) {
	h.c.onClose(local)
}

func (c *Client) onClose(local bool) {
	c.mu.Lock()
	c.stopHeartbeatLocked()
	err := c.netErr
	c.netErr = nil
	reconnect := false
	if c.state == StateOnline {
		reconnect = c.cfg.Reconnect && !c.terminated
		if reconnect {
			c.setStateLocked(StateOfflineRetrying)
			c.wg.Add(1)
			go c.reconnectLoop()
		} else {
			c.setStateLocked(StateDisconnected)
		}
	}
	c.mu.Unlock()

	logs.Infof("client.disconnected uin=%d local=%t reconnecting=%t", c.cfg.Uin, local, reconnect)
	c.emit(DisconnectEvent{Err: err, Reconnecting: reconnect})
}
