package client

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"strings"
	"time"

	logs "github.com/danmuck/msfcore/internal/logging"
	"github.com/danmuck/msfcore/internal/observability"
	"github.com/danmuck/msfcore/internal/protocol"
	"github.com/danmuck/msfcore/internal/protocol/ecdh"
	"github.com/danmuck/msfcore/internal/protocol/frame"
	"github.com/danmuck/msfcore/internal/protocol/schema"
	"github.com/danmuck/msfcore/internal/protocol/session"
	"github.com/danmuck/msfcore/internal/protocol/tea"
	"github.com/danmuck/msfcore/internal/protocol/tlv"
)

const (
	cmdLogin    = "wtlogin.login"
	cmdExchange = "wtlogin.exchange_emp"
	cmdTransEmp = "wtlogin.trans_emp"
)

// Login response status codes.
const (
	statusSuccess      uint8 = 0
	statusSlider       uint8 = 2
	statusTokenExpired uint8 = 15
	statusTokenInvalid uint8 = 16
	statusDeviceLock   uint8 = 160
	statusUnlock       uint8 = 204
)

// maxUnlocks bounds consecutive 204 interstitials in one attempt.
const maxUnlocks = 3

const (
	flowPassword = "password"
	flowToken    = "token"
	flowQrcode   = "qrcode"
	flowSlider   = "slider"
	flowSMS      = "sms"
)

// handshakeRequest is one key-exchange round trip.
type handshakeRequest struct {
	cmd   string
	cmdID uint16
	uin   uint32
	subID uint32
	build func(p *tlv.Packer) []byte
}

func (c *Client) loginRequest(cmd string, build func(p *tlv.Packer) []byte) handshakeRequest {
	return handshakeRequest{cmd: cmd, cmdID: frame.CmdIDLogin, uin: c.cfg.Uin, build: build}
}

func (c *Client) packer() *tlv.Packer {
	return tlv.NewPacker(c.dev, c.apk, c.sig.Snapshot())
}

func (c *Client) keyExchange() (*ecdh.Exchange, error) {
	if len(c.cfg.ServerPublicKey) > 0 {
		return ecdh.NewWithPeer(c.cfg.ServerPublicKey)
	}
	return ecdh.New()
}

// handshake sends req under a fresh key agreement and returns the decrypted
// response body.
func (c *Client) handshake(ctx context.Context, req handshakeRequest) ([]byte, error) {
	ex, err := c.keyExchange()
	if err != nil {
		return nil, err
	}
	p := c.packer()
	hs := frame.Handshake{
		CmdID:     req.cmdID,
		Uin:       req.uin,
		RandKey:   p.Sig.RandKey,
		PublicKey: ex.PublicKey,
		ShareKey:  ex.ShareKey,
	}
	payload, err := c.sendLogin(ctx, loginPacket{
		cmd:   req.cmd,
		body:  hs.Wrap(req.build(p)),
		enc:   frame.EncryptZero,
		subID: req.subID,
	})
	if err != nil {
		return nil, err
	}
	plain, err := frame.UnwrapResponse(payload, ex.ShareKey)
	if err != nil {
		return nil, &ProtocolError{Op: req.cmd, Err: err}
	}
	return plain, nil
}

// attempt runs one login under the login lock.
func (c *Client) attempt(ctx context.Context, flow string, run func(ctx context.Context) error) error {
	if err := c.beginLogin(); err != nil {
		logs.Warnf("client.login rejected flow=%s uin=%d err=%v", flow, c.cfg.Uin, err)
		return err
	}
	logs.Infof("client.login start flow=%s uin=%d", flow, c.cfg.Uin)
	err := c.ensureConnected(ctx)
	if err == nil {
		c.setState(StateHandshake)
		err = run(ctx)
	}
	c.endLogin(flow, err)
	return err
}

func (c *Client) beginLogin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.terminated:
		return ErrClosed
	case c.state.busy() || c.refreshing:
		return ErrLoginInProgress
	case c.state == StateOnline:
		return ErrAlreadyOnline
	}
	c.kicked = nil
	c.setStateLocked(StateConnecting)
	return nil
}

// sideRequest admits a login side request such as a QR fetch or an SMS
// send. It is refused while a login flow holds the lock but allowed while
// the client waits on verification.
func (c *Client) sideRequest() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.terminated:
		return ErrClosed
	case c.state.busy() || c.refreshing:
		return ErrLoginInProgress
	}
	return nil
}

func (c *Client) endLogin(flow string, err error) {
	outcome := "online"
	c.mu.Lock()
	if !c.terminated && err != nil {
		var (
			verr *VerificationError
			lerr *LoginError
			perr *ProtocolError
		)
		switch {
		case errors.As(err, &verr):
			c.setStateLocked(StateAwaitingVerification)
			outcome = "verify_" + verr.Kind.String()
		case errors.As(err, &lerr), errors.As(err, &perr), errors.Is(err, ErrTokenExpired):
			c.setStateLocked(StateLoginError)
			outcome = "error"
		default:
			if c.state != StateOnline {
				c.setStateLocked(StateDisconnected)
			}
			outcome = "aborted"
		}
	}
	state := c.state
	c.mu.Unlock()

	observability.RecordLogin(flow, outcome)
	if err != nil {
		logs.Warnf("client.login end flow=%s uin=%d state=%s err=%v", flow, c.cfg.Uin, state, err)
		return
	}
	logs.Infof("client.login end flow=%s uin=%d state=%s", flow, c.cfg.Uin, state)
}

func (c *Client) login(ctx context.Context, req handshakeRequest) error {
	plain, err := c.handshake(ctx, req)
	if err != nil {
		return err
	}
	return c.loginResponse(ctx, plain, 0)
}

// PasswordLogin starts a login with the MD5 of the account password.
func (c *Client) PasswordLogin(ctx context.Context, md5pass [16]byte) error {
	return c.attempt(ctx, flowPassword, func(ctx context.Context) error {
		c.mu.Lock()
		c.md5pass = &md5pass
		c.mu.Unlock()
		return c.login(ctx, c.loginRequest(cmdLogin, func(p *tlv.Packer) []byte {
			return p.PasswordBody(md5pass)
		}))
	})
}

// TokenLogin exchanges a token from an earlier login for a new session.
func (c *Client) TokenLogin(ctx context.Context, token []byte) error {
	creds, err := session.CredentialsFromToken(token)
	if err != nil {
		return err
	}
	return c.attempt(ctx, flowToken, func(ctx context.Context) error {
		c.sig.SetCredentials(creds)
		return c.login(ctx, c.loginRequest(cmdExchange, (*tlv.Packer).ExchangeBody))
	})
}

// SubmitSlider resumes a login paused by a slider captcha.
func (c *Client) SubmitSlider(ctx context.Context, ticket string) error {
	ticket = strings.TrimSpace(ticket)
	return c.attempt(ctx, flowSlider, func(ctx context.Context) error {
		return c.login(ctx, c.loginRequest(cmdLogin, func(p *tlv.Packer) []byte {
			return p.SliderBody(ticket)
		}))
	})
}

// SubmitSmsCode resumes a device-lock login with the code sent by SMS.
func (c *Client) SubmitSmsCode(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	return c.attempt(ctx, flowSMS, func(ctx context.Context) error {
		return c.login(ctx, c.loginRequest(cmdLogin, func(p *tlv.Packer) []byte {
			return p.SubmitSMSBody(code)
		}))
	})
}

// SendSmsCode asks the gateway to text a verification code to the bound
// phone. It fails with ErrLoginInProgress while a login flow is running.
func (c *Client) SendSmsCode(ctx context.Context) error {
	if err := c.sideRequest(); err != nil {
		return err
	}
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}
	if _, err := c.handshake(ctx, c.loginRequest(cmdLogin, (*tlv.Packer).SendSMSBody)); err != nil {
		return err
	}
	logs.Infof("client.SendSmsCode sent uin=%d", c.cfg.Uin)
	return nil
}

// Continue retries the last login after out-of-band device verification.
func (c *Client) Continue(ctx context.Context) error {
	c.mu.Lock()
	pass := c.md5pass
	c.mu.Unlock()
	if pass != nil {
		return c.PasswordLogin(ctx, *pass)
	}
	creds := c.sig.Credentials()
	if creds.Empty() {
		return &LoginError{Code: -1, Message: "no login to continue"}
	}
	return c.TokenLogin(ctx, creds.Token())
}

func (c *Client) loginResponse(ctx context.Context, plain []byte, unlocks int) error {
	r := protocol.NewReader(plain)
	r.Skip(2)
	status := r.U8()
	r.Skip(2)
	rest := r.Rest()
	if err := r.Err(); err != nil {
		return &ProtocolError{Op: "login response", Err: err}
	}
	t, err := tlv.DecodeCounted(rest)
	if err != nil {
		return &ProtocolError{Op: "login response", Err: err}
	}
	logs.Debugf("client.login response uin=%d status=%d tags=%d", c.cfg.Uin, status, len(t))

	switch status {
	case statusSuccess:
		return c.loginSucceeded(ctx, t)
	case statusSlider:
		if err := schema.Validate(schema.MsgSlider, t); err != nil {
			return c.loginFailed(status, "[login failed]unknown captcha format")
		}
		c.sig.SetT104(t[schema.TagT104])
		url := string(t[schema.TagSliderURL])
		c.emit(SliderEvent{URL: url})
		return &VerificationError{Kind: VerifySlider, URL: url}
	case statusDeviceLock:
		return c.deviceLock(t)
	case statusUnlock:
		if err := schema.Validate(schema.MsgUnlock, t); err != nil {
			return &ProtocolError{Op: "unlock", Err: err}
		}
		if unlocks >= maxUnlocks {
			return c.loginFailed(status, "[login failed]too many unlock rounds")
		}
		c.sig.SetT104(t[schema.TagT104])
		logs.Infof("client.login unlocking uin=%d round=%d", c.cfg.Uin, unlocks+1)
		plain, err := c.handshake(ctx, c.loginRequest(cmdLogin, (*tlv.Packer).UnlockBody))
		if err != nil {
			return err
		}
		return c.loginResponse(ctx, plain, unlocks+1)
	case statusTokenExpired, statusTokenInvalid:
		c.emit(TokenInvalidEvent{Err: ErrTokenExpired})
		return ErrTokenExpired
	}

	if v, ok := t.Get(schema.TagError149); ok {
		return c.loginFailed(status, errorText(v, 2))
	}
	if v, ok := t.Get(schema.TagError146); ok {
		return c.loginFailed(status, errorText(v, 4))
	}
	return c.loginFailed(status, "[login failed]unknown error")
}

func (c *Client) loginFailed(status uint8, msg string) error {
	c.emit(LoginErrorEvent{Code: int(status), Message: msg})
	return &LoginError{Code: int(status), Message: msg}
}

// errorText reads the title and detail blocks of t146/t149.
func errorText(v []byte, skip int) string {
	r := protocol.NewReader(v)
	r.Skip(skip)
	title := r.Tlv()
	content := r.Tlv()
	if r.Err() != nil {
		return "[login failed]unreadable error"
	}
	return fmt.Sprintf("[%s]%s", title, content)
}

func (c *Client) deviceLock(t tlv.Map) error {
	verifyURL, hasURL := t.Get(schema.TagVerifyURL)
	t174, has174 := t.Get(schema.TagT174)
	if !hasURL && !has174 {
		logs.Infof("client.login sms code sent to bound phone uin=%d", c.cfg.Uin)
		return &VerificationError{Kind: VerifySMS}
	}
	var phone string
	if has174 {
		if ph, ok := t.Get(schema.TagPhone); ok {
			c.sig.SetT104(t[schema.TagT104])
			c.sig.SetT174(t174)
			phone = phoneHint(ph)
		}
	}
	c.emit(DeviceEvent{URL: string(verifyURL), Phone: phone})
	return &VerificationError{Kind: VerifyDevice, URL: string(verifyURL), Phone: phone}
}

// phoneHint extracts the masked number that follows the 0x0b marker.
func phoneHint(b []byte) string {
	s := b[bytes.IndexByte(b, 0x0b)+1:]
	if len(s) > 11 {
		s = s[:11]
	}
	return string(s)
}

func (c *Client) loginSucceeded(ctx context.Context, t tlv.Map) error {
	if err := schema.Validate(schema.MsgLoginSuccess, t); err != nil {
		return &ProtocolError{Op: "login success", Err: err}
	}
	creds, profile, cookies, err := decodeT119(t[schema.TagSigBlock], c.sig.Credentials().TGTGT, time.Now())
	if err != nil {
		return &ProtocolError{Op: "t119", Err: err}
	}
	c.sig.SetT104(nil)
	c.sig.SetT174(nil)
	c.sig.SetCredentials(creds)
	if len(cookies) > 0 {
		c.sig.SetCookies(cookies)
	}
	c.mu.Lock()
	c.profile = profile
	c.mu.Unlock()

	if err := c.online(ctx); err != nil {
		return err
	}
	c.issueToken(creds)
	return nil
}

// decodeT119 opens the credential block of a successful login.
func decodeT119(t119 []byte, tgtgt tea.Key, now time.Time) (session.Credentials, Profile, map[string][]byte, error) {
	plain, err := tea.Decrypt(t119, tgtgt)
	if err != nil {
		return session.Credentials{}, Profile{}, nil, err
	}
	if len(plain) < 2 {
		return session.Credentials{}, Profile{}, nil, protocol.ErrTruncated
	}
	t, err := tlv.DecodeCounted(plain[2:])
	if err != nil {
		return session.Credentials{}, Profile{}, nil, err
	}
	if err := schema.Validate(schema.MsgCredentials, t); err != nil {
		return session.Credentials{}, Profile{}, nil, err
	}
	d2key, err := tea.KeyFrom(t[schema.TagD2Key])
	if err != nil {
		return session.Credentials{}, Profile{}, nil, err
	}
	creds := session.Credentials{
		TGT:      t[schema.TagTGT],
		SKey:     t[schema.TagSKey],
		D2:       t[schema.TagD2],
		D2Key:    d2key,
		TGTGT:    md5.Sum(d2key[:]),
		IssuedAt: now,
	}

	var profile Profile
	if p, ok := t.Get(schema.TagProfile); ok && len(p) >= 5 {
		profile = Profile{Age: p[2], Gender: p[3], Nickname: string(p[5:])}
	}

	var cookies map[string][]byte
	if raw, ok := t.Get(schema.TagCookies); ok {
		if cookies, err = decodeCookies(raw); err != nil {
			logs.Warnf("client.login dropped unreadable cookies err=%v", err)
			cookies = nil
		}
	}
	return creds, profile, cookies, nil
}

func decodeCookies(b []byte) (map[string][]byte, error) {
	r := protocol.NewReader(b)
	n := int(r.U16())
	out := make(map[string][]byte, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		domain := string(r.Tlv())
		pskey := r.Tlv()
		r.Tlv()
		out[domain] = pskey
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) issueToken(creds session.Credentials) {
	token := creds.Token()
	c.emit(TokenEvent{Token: token})
	if c.cfg.Tokens == nil {
		return
	}
	if err := c.cfg.Tokens.SaveToken(c.cfg.Uin, token); err != nil {
		logs.Warnf("client.token save failed uin=%d err=%v", c.cfg.Uin, err)
	}
}
