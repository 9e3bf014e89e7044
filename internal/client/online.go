package client

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	logs "github.com/danmuck/msfcore/internal/logging"
	"github.com/danmuck/msfcore/internal/network"
	"github.com/danmuck/msfcore/internal/observability"
	"github.com/danmuck/msfcore/internal/protocol"
	"github.com/danmuck/msfcore/internal/protocol/frame"
	"github.com/danmuck/msfcore/internal/protocol/pb"
	"github.com/danmuck/msfcore/internal/protocol/schema"
	"github.com/danmuck/msfcore/internal/protocol/session"
	"github.com/danmuck/msfcore/internal/protocol/tlv"
)

const (
	cmdHeartbeat   = "OidbSvc.0x480_9_IMCore"
	cmdCorrectTime = "Client.CorrectTime"
)

func (c *Client) register(ctx context.Context, logout bool) error {
	body, err := session.BuildRegister(c.cfg.Uin, c.dev, logout, time.Now())
	if err != nil {
		return err
	}
	payload, err := c.sendLogin(ctx, loginPacket{
		cmd:     session.CmdRegister,
		body:    body,
		enc:     frame.EncryptSession,
		timeout: c.cfg.Session.RegisterTimeout,
	})
	if err != nil {
		return err
	}
	if logout {
		return nil
	}
	return session.ParseRegisterResponse(payload)
}

func (c *Client) deregister(ctx context.Context) error {
	return c.register(ctx, true)
}

// online registers the session and, once accepted, marks it Online and
// starts the heartbeat.
func (c *Client) online(ctx context.Context) error {
	if err := c.register(ctx, false); err != nil {
		if errors.Is(err, session.ErrRegisterRejected) {
			c.emit(TokenInvalidEvent{Err: err})
			return fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		c.emit(NetworkErrorEvent{Code: CodeNetwork, Message: "server is busy (register)"})
		return err
	}

	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return ErrClosed
	}
	c.kicked = nil
	c.setStateLocked(StateOnline)
	c.startHeartbeatLocked()
	profile := c.profile
	c.mu.Unlock()

	logs.Infof("client.online uin=%d nickname=%q", c.cfg.Uin, profile.Nickname)
	c.emit(OnlineEvent{Uin: c.cfg.Uin, Profile: profile})
	return nil
}

func (c *Client) startHeartbeatLocked() {
	c.stopHeartbeatLocked()
	ctx, cancel := context.WithCancel(c.ctx)
	c.hbCancel = cancel
	c.wg.Add(1)
	go c.heartbeatLoop(ctx)
}

func (c *Client) stopHeartbeatLocked() {
	if c.hbCancel != nil {
		c.hbCancel()
		c.hbCancel = nil
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.Session.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		c.beat(ctx)
	}
}

// beat runs one heartbeat tick: clock sync, keep-alive with a single retry,
// then the token staleness check.
func (c *Client) beat(ctx context.Context) {
	if _, err := c.CorrectTime(ctx); err != nil {
		logs.Debugf("client.heartbeat clock sync failed uin=%d err=%v", c.cfg.Uin, err)
	}
	if err := c.keepAlive(ctx); err != nil {
		observability.RecordHeartbeatFailure()
		logs.Warnf("client.heartbeat failed, retrying once uin=%d err=%v", c.cfg.Uin, err)
		if err := c.keepAlive(ctx); err != nil {
			observability.RecordHeartbeatFailure()
			if ctx.Err() != nil {
				return
			}
			logs.Errf("client.heartbeat failed twice, closing connection uin=%d err=%v", c.cfg.Uin, err)
			_ = c.conn.Close()
			return
		}
	}
	c.refreshIfStale(ctx)
}

func (c *Client) keepAlive(ctx context.Context) error {
	_, err := c.callUni(ctx, cmdHeartbeat, heartbeatBody(c.cfg.Uin), c.cfg.Session.HeartbeatTimeout)
	return err
}

func heartbeatBody(uin uint32) []byte {
	buf := make([]byte, 9)
	binary.BigEndian.PutUint32(buf, uin)
	binary.BigEndian.PutUint32(buf[5:], 0x19e39)
	return pb.MustEncode(pb.Message{1: 1152, 2: 9, 4: buf})
}

// CorrectTime reads the gateway clock and stores the offset, in seconds,
// used for timestamps in later requests.
func (c *Client) CorrectTime(ctx context.Context) (int64, error) {
	payload, err := c.sendLogin(ctx, loginPacket{
		cmd:  cmdCorrectTime,
		body: make([]byte, 4),
		enc:  frame.EncryptNone,
	})
	if err != nil {
		return 0, err
	}
	if len(payload) < 4 {
		return 0, &ProtocolError{Op: cmdCorrectTime, Err: protocol.ErrTruncated}
	}
	diff := int64(int32(binary.BigEndian.Uint32(payload))) - time.Now().Unix()
	c.sig.SetTimeDiff(diff)
	return diff, nil
}

func (c *Client) refreshIfStale(ctx context.Context) {
	creds := c.sig.Credentials()
	if time.Since(creds.IssuedAt) < c.cfg.Session.TokenRefreshAfter {
		return
	}
	c.mu.Lock()
	if c.state != StateOnline || c.refreshing {
		c.mu.Unlock()
		return
	}
	c.refreshing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.refreshing = false
		c.mu.Unlock()
	}()

	if err := c.refreshToken(ctx); err != nil {
		logs.Warnf("client.refresh failed uin=%d err=%v", c.cfg.Uin, err)
	}
}

// refreshToken exchanges the current token for a fresh one and
// re-registers. Failures leave the session as it was.
func (c *Client) refreshToken(ctx context.Context) error {
	plain, err := c.handshake(ctx, c.loginRequest(cmdExchange, (*tlv.Packer).ExchangeBody))
	if err != nil {
		return err
	}
	r := protocol.NewReader(plain)
	r.Skip(2)
	status := r.U8()
	r.Skip(2)
	rest := r.Rest()
	if err := r.Err(); err != nil {
		return &ProtocolError{Op: "refresh", Err: err}
	}
	if status != statusSuccess {
		return fmt.Errorf("client: refresh status %d", status)
	}
	t, err := tlv.DecodeCounted(rest)
	if err != nil {
		return &ProtocolError{Op: "refresh", Err: err}
	}
	if err := schema.Validate(schema.MsgLoginSuccess, t); err != nil {
		return &ProtocolError{Op: "refresh", Err: err}
	}
	creds, _, cookies, err := decodeT119(t[schema.TagSigBlock], c.sig.Credentials().TGTGT, time.Now())
	if err != nil {
		return &ProtocolError{Op: "refresh t119", Err: err}
	}
	c.sig.SetCredentials(creds)
	if len(cookies) > 0 {
		c.sig.SetCookies(cookies)
	}
	if err := c.register(ctx, false); err != nil {
		return err
	}
	logs.Infof("client.refresh token renewed uin=%d", c.cfg.Uin)
	c.issueToken(creds)
	return nil
}

// reconnectLoop restores an Online session after the connection dropped.
// It stops once registration succeeds, is rejected, or the session is
// logged out.
func (c *Client) reconnectLoop() {
	defer c.wg.Done()
	backoff := session.NewBackoff(c.cfg.Session.Backoff, c.rng)
	for {
		delay := backoff.Next()
		logs.Infof("client.reconnect uin=%d attempt=%d delay=%s", c.cfg.Uin, backoff.Attempt(), delay)
		timer := time.NewTimer(delay)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if c.State() != StateOfflineRetrying {
			return
		}
		err := c.restore(c.ctx)
		if err == nil {
			return
		}
		if errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrClosed) {
			c.mu.Lock()
			if c.state == StateOfflineRetrying {
				c.setStateLocked(StateDisconnected)
			}
			c.mu.Unlock()
			return
		}
		logs.Warnf("client.reconnect failed uin=%d attempt=%d err=%v", c.cfg.Uin, backoff.Attempt(), err)
	}
}

func (c *Client) restore(ctx context.Context) error {
	if !c.conn.Connected() {
		if err := c.conn.Connect(ctx); err != nil && !errors.Is(err, network.ErrAlreadyConnected) {
			return err
		}
	}
	return c.online(ctx)
}
