package client

import (
	"context"
	"crypto/md5"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/msfcore/internal/network"
	"github.com/danmuck/msfcore/internal/protocol/frame"
	"github.com/danmuck/msfcore/internal/protocol/jce"
	"github.com/danmuck/msfcore/internal/protocol/session"
	"github.com/danmuck/msfcore/internal/protocol/tlv"
	"github.com/danmuck/msfcore/internal/testutil/gateway"
	"github.com/danmuck/msfcore/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUin = 12345678

var testPassword = md5.Sum([]byte("correct horse"))

func newTestClient(t *testing.T, gw *gateway.Gateway, mutate func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig(testUin)
	cfg.Network = network.Config{Host: gw.Host(), Port: gw.Port()}
	cfg.ServerPublicKey = gw.PublicKey()
	cfg.Reconnect = false
	cfg.Session.CallTimeout = 2 * time.Second
	cfg.Session.HeartbeatInterval = time.Hour
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Terminate)
	return c
}

func waitEvent[T Event](t *testing.T, c *Client, timeout time.Duration) T {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				t.Fatalf("event channel closed")
			}
			if v, ok := ev.(T); ok {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("no %T within %s", zero, timeout)
			return zero
		}
	}
}

func loginOnline(t *testing.T, c *Client) {
	t.Helper()
	require.NoError(t, c.PasswordLogin(context.Background(), testPassword))
	require.Equal(t, StateOnline, c.State())
	waitEvent[OnlineEvent](t, c, time.Second)
}

func TestNewRequiresUin(t *testing.T) {
	testlog.Start(t)
	_, err := New(DefaultConfig(0))
	require.ErrorIs(t, err, ErrUinRequired)
}

func TestNewDefaultsFrameLimits(t *testing.T) {
	testlog.Start(t)
	gw := gateway.New(t, testUin, testPassword)
	c := newTestClient(t, gw, nil)
	assert.Equal(t, frame.DefaultLimits(), c.cfg.Network.Limits)

	c = newTestClient(t, gw, func(cfg *Config) { cfg.Network.Limits = frame.Limits{MaxFrameBytes: 1 << 10} })
	assert.Equal(t, uint32(1<<10), c.cfg.Network.Limits.MaxFrameBytes)
}

func TestPasswordLoginGoesOnlineAfterRegistration(t *testing.T) {
	testlog.Start(t)
	gw := gateway.New(t, testUin, testPassword)
	gw.SetProfile(gateway.Profile{Nickname: "alice", Age: 23, Gender: 2})
	c := newTestClient(t, gw, nil)

	require.NoError(t, c.PasswordLogin(context.Background(), testPassword))
	assert.Equal(t, StateOnline, c.State())
	assert.Equal(t, 1, gw.Count(gateway.CmdLogin))
	assert.Equal(t, 1, gw.Count(gateway.CmdRegister))

	online := waitEvent[OnlineEvent](t, c, time.Second)
	assert.Equal(t, uint32(testUin), online.Uin)
	assert.Equal(t, Profile{Nickname: "alice", Age: 23, Gender: 2}, online.Profile)

	tok := waitEvent[TokenEvent](t, c, time.Second)
	assert.Equal(t, gw.Token(), tok.Token)
	creds, err := session.CredentialsFromToken(tok.Token)
	require.NoError(t, err)
	want := gw.Credentials()
	assert.Equal(t, want.TGT, creds.TGT)
	assert.Equal(t, want.SKey, creds.SKey)
	assert.Equal(t, want.D2, creds.D2)
	assert.Equal(t, want.D2Key, creds.D2Key)

	assert.Equal(t, []byte("pskey-qun"), c.Cookie("qun.qq.com"))
}

func TestLoginNotOnlineWhenRegistrationRejected(t *testing.T) {
	testlog.Start(t)
	gw := gateway.New(t, testUin, testPassword)
	gw.RejectRegister(true)
	c := newTestClient(t, gw, nil)

	err := c.PasswordLogin(context.Background(), testPassword)
	require.ErrorIs(t, err, ErrTokenExpired)
	assert.Equal(t, StateLoginError, c.State())
	waitEvent[TokenInvalidEvent](t, c, time.Second)

	_, err = c.Call(context.Background(), "Any.Cmd", nil)
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, CodeNotOnline, rej.Code)
}

func TestSliderRequiredThenSubmitted(t *testing.T) {
	testlog.Start(t)
	gw := gateway.New(t, testUin, testPassword)
	var ticket string
	gw.SetLogin(func(req gateway.LoginRequest) (gateway.LoginReply, bool) {
		if req.Sub == tlv.SubSlider {
			v, _ := req.Tlv.Get(0x193)
			ticket = string(v)
			return gw.Accept(req)
		}
		return gateway.LoginReply{Status: 2, Fields: []tlv.Field{
			{Tag: 0x104, Value: []byte("t104-state")},
			{Tag: 0x192, Value: []byte("https://captcha.example/slider?sid=1")},
		}}, true
	})
	c := newTestClient(t, gw, nil)

	err := c.PasswordLogin(context.Background(), testPassword)
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, VerifySlider, verr.Kind)
	assert.Equal(t, StateAwaitingVerification, c.State())
	assert.Zero(t, gw.Count(gateway.CmdRegister))

	ev := waitEvent[SliderEvent](t, c, time.Second)
	assert.Equal(t, "https://captcha.example/slider?sid=1", ev.URL)

	require.NoError(t, c.SubmitSlider(context.Background(), " ticket-xyz \n"))
	assert.Equal(t, "ticket-xyz", ticket)
	assert.Equal(t, StateOnline, c.State())
}

func TestDeviceLockWithSmsCode(t *testing.T) {
	testlog.Start(t)
	gw := gateway.New(t, testUin, testPassword)
	var code string
	gw.SetLogin(func(req gateway.LoginRequest) (gateway.LoginReply, bool) {
		switch req.Sub {
		case tlv.SubSendSMS:
			return gateway.LoginReply{Status: 160}, true
		case tlv.SubSubmitSMS:
			v, _ := req.Tlv.Get(0x17C)
			code = string(v[2:])
			return gw.Accept(req)
		}
		return gateway.LoginReply{Status: 160, Fields: []tlv.Field{
			{Tag: 0x104, Value: []byte("t104")},
			{Tag: 0x174, Value: []byte("t174")},
			{Tag: 0x178, Value: []byte("\x00\x02+86\x0b138****0000")},
			{Tag: 0x204, Value: []byte("https://verify.example/device")},
		}}, true
	})
	c := newTestClient(t, gw, nil)

	err := c.PasswordLogin(context.Background(), testPassword)
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, VerifyDevice, verr.Kind)
	ev := waitEvent[DeviceEvent](t, c, time.Second)
	assert.Equal(t, "https://verify.example/device", ev.URL)
	assert.Equal(t, "138****0000", ev.Phone)
	assert.Equal(t, StateAwaitingVerification, c.State())

	require.NoError(t, c.SendSmsCode(context.Background()))
	require.NoError(t, c.SubmitSmsCode(context.Background(), "123456"))
	assert.Equal(t, "123456", code)
	assert.Equal(t, StateOnline, c.State())
}

func TestUnlockInterstitialIsSilent(t *testing.T) {
	testlog.Start(t)
	gw := gateway.New(t, testUin, testPassword)
	gw.SetLogin(func(req gateway.LoginRequest) (gateway.LoginReply, bool) {
		if req.Sub == tlv.SubUnlock {
			return gw.Accept(req)
		}
		return gateway.LoginReply{Status: 204, Fields: []tlv.Field{{Tag: 0x104, Value: []byte("t104")}}}, true
	})
	c := newTestClient(t, gw, nil)

	require.NoError(t, c.PasswordLogin(context.Background(), testPassword))
	assert.Equal(t, 2, gw.Count(gateway.CmdLogin))
	assert.Equal(t, StateOnline, c.State())
}

func TestLoginErrorCarriesGatewayText(t *testing.T) {
	testlog.Start(t)
	gw := gateway.New(t, testUin, testPassword)
	t149 := []byte{0, 1, 0, 5, 'o', 'o', 'p', 's', '!', 0, 13}
	t149 = append(t149, "wrong account"...)
	gw.SetLogin(func(gateway.LoginRequest) (gateway.LoginReply, bool) {
		return gateway.LoginReply{Status: 1, Fields: []tlv.Field{{Tag: 0x149, Value: t149}}}, true
	})
	c := newTestClient(t, gw, nil)

	err := c.PasswordLogin(context.Background(), testPassword)
	var lerr *LoginError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, 1, lerr.Code)
	assert.Equal(t, "[oops!]wrong account", lerr.Message)
	assert.Equal(t, StateLoginError, c.State())
	ev := waitEvent[LoginErrorEvent](t, c, time.Second)
	assert.Equal(t, lerr.Message, ev.Message)
}

func TestExpiredTokenStatus(t *testing.T) {
	testlog.Start(t)
	gw := gateway.New(t, testUin, testPassword)
	gw.SetLogin(func(gateway.LoginRequest) (gateway.LoginReply, bool) {
		return gateway.LoginReply{Status: 15}, true
	})
	c := newTestClient(t, gw, nil)

	err := c.TokenLogin(context.Background(), gw.Token())
	require.ErrorIs(t, err, ErrTokenExpired)
	waitEvent[TokenInvalidEvent](t, c, time.Second)
}

type memTokens struct {
	mu     sync.Mutex
	tokens map[uint32][]byte
}

func (m *memTokens) SaveToken(uin uint32, token []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[uin] = token
	return nil
}

func TestTokenLoginSavesIssuedToken(t *testing.T) {
	testlog.Start(t)
	gw := gateway.New(t, testUin, testPassword)
	store := &memTokens{tokens: make(map[uint32][]byte)}
	c := newTestClient(t, gw, func(cfg *Config) { cfg.Tokens = store })

	require.NoError(t, c.TokenLogin(context.Background(), gw.Token()))
	assert.Equal(t, StateOnline, c.State())
	assert.Equal(t, 1, gw.Count(gateway.CmdExchange))
	assert.Equal(t, gw.Token(), store.tokens[testUin])
	assert.Equal(t, gw.Token(), c.Token())
}

func TestTokenLoginRejectsMalformedToken(t *testing.T) {
	testlog.Start(t)
	gw := gateway.New(t, testUin, testPassword)
	c := newTestClient(t, gw, nil)
	err := c.TokenLogin(context.Background(), []byte{0, 9, 1})
	require.ErrorIs(t, err, session.ErrInvalidToken)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConcurrentLoginIsRejected(t *testing.T) {
	testlog.Start(t)
	gw := gateway.New(t, testUin, testPassword)
	release := make(chan struct{})
	gw.SetLogin(func(req gateway.LoginRequest) (gateway.LoginReply, bool) {
		<-release
		return gw.Accept(req)
	})
	c := newTestClient(t, gw, nil)

	first := make(chan error, 1)
	go func() { first <- c.PasswordLogin(context.Background(), testPassword) }()
	require.Eventually(t, func() bool { return gw.Count(gateway.CmdLogin) == 1 }, 2*time.Second, 5*time.Millisecond)

	err := c.PasswordLogin(context.Background(), testPassword)
	require.ErrorIs(t, err, ErrLoginInProgress)
	err = c.TokenLogin(context.Background(), gw.Token())
	require.ErrorIs(t, err, ErrLoginInProgress)
	_, err = c.FetchQrcode(context.Background())
	require.ErrorIs(t, err, ErrLoginInProgress)
	_, err = c.QueryQrcodeResult(context.Background())
	require.ErrorIs(t, err, ErrLoginInProgress)
	require.ErrorIs(t, c.SendSmsCode(context.Background()), ErrLoginInProgress)
	assert.Equal(t, 1, gw.Count(gateway.CmdLogin))
	assert.Zero(t, gw.Count(gateway.CmdTransEmp))

	close(release)
	require.NoError(t, <-first)
	assert.Equal(t, StateOnline, c.State())
	require.ErrorIs(t, c.PasswordLogin(context.Background(), testPassword), ErrAlreadyOnline)
}

func TestQrcodeFlow(t *testing.T) {
	testlog.Start(t)
	gw := gateway.New(t, testUin, testPassword)
	c := newTestClient(t, gw, nil)
	ctx := context.Background()

	_, err := c.QueryQrcodeResult(ctx)
	require.ErrorIs(t, err, ErrNoQrcode)

	img, err := c.FetchQrcode(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG-qrcode"), img)
	ev := waitEvent[QrcodeEvent](t, c, time.Second)
	assert.Equal(t, img, ev.Image)

	res, err := c.QueryQrcodeResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, QrcodeWaitingForScan, res)

	err = c.QrcodeLogin(ctx)
	var qerr *QrcodeError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, QrcodeWaitingForScan, qerr.Result)
	assert.NotEqual(t, StateOnline, c.State())

	gw.SetQrResult(0)
	require.NoError(t, c.QrcodeLogin(ctx))
	assert.Equal(t, StateOnline, c.State())

	assert.Equal(t, 4, gw.Count(gateway.CmdTransEmp))
	assert.Equal(t, 1, gw.Count(gateway.CmdLogin))
}

func TestQrcodeTimeoutEmitsError(t *testing.T) {
	testlog.Start(t)
	gw := gateway.New(t, testUin, testPassword)
	gw.SetQrResult(uint8(QrcodeTimeout))
	c := newTestClient(t, gw, nil)
	_, err := c.FetchQrcode(context.Background())
	require.NoError(t, err)

	err = c.QrcodeLogin(context.Background())
	var qerr *QrcodeError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, QrcodeTimeout, qerr.Result)
	ev := waitEvent[QrcodeErrorEvent](t, c, time.Second)
	assert.Equal(t, QrcodeTimeout, ev.Result)
}

func TestCallRoundTrip(t *testing.T) {
	testlog.Start(t)
	gw := gateway.New(t, testUin, testPassword)
	gw.Handle("Echo.Cmd", func(req *frame.Request) ([]byte, bool) {
		return append([]byte("echo:"), req.Body...), true
	})
	c := newTestClient(t, gw, nil)
	loginOnline(t, c)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := c.Call(context.Background(), "Echo.Cmd", []byte("ping"))
			assert.NoError(t, err)
			assert.Equal(t, []byte("echo:ping"), out)
		}()
	}
	wg.Wait()
	assert.Zero(t, c.pending.Len())
}

func TestCallTimeoutAndLateResponse(t *testing.T) {
	testlog.Start(t)
	assert.Equal(t, 5*time.Second, DefaultConfig(1).Session.CallTimeout)

	gw := gateway.New(t, testUin, testPassword)
	seqs := make(chan uint32, 1)
	gw.Handle("Silent.Cmd", func(req *frame.Request) ([]byte, bool) {
		seqs <- req.Seq
		return nil, false
	})
	gw.Handle("Echo.Cmd", func(req *frame.Request) ([]byte, bool) { return req.Body, true })
	c := newTestClient(t, gw, nil)
	loginOnline(t, c)

	start := time.Now()
	_, err := c.CallTimeout(context.Background(), "Silent.Cmd", nil, 300*time.Millisecond)
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, CodeTimeout, rej.Code)
	assert.ErrorIs(t, err, session.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	assert.Zero(t, c.pending.Len())

	seq := <-seqs
	require.NoError(t, gw.Reply("Silent.Cmd", seq, []byte("late")))
	push := waitEvent[PushEvent](t, c, time.Second)
	assert.Equal(t, seq, push.Seq)

	out, err := c.Call(context.Background(), "Echo.Cmd", []byte("still fine"))
	require.NoError(t, err)
	assert.Equal(t, []byte("still fine"), out)

	out, err = c.CallTimeout(context.Background(), "Echo.Cmd", []byte("default timeout"), 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("default timeout"), out)
	out, err = c.CallTimeout(context.Background(), "Echo.Cmd", []byte("negative timeout"), -time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("negative timeout"), out)
}

func TestHeartbeatFailuresCloseConnection(t *testing.T) {
	testlog.Start(t)
	gw := gateway.New(t, testUin, testPassword)
	c := newTestClient(t, gw, func(cfg *Config) {
		cfg.Session.HeartbeatInterval = 50 * time.Millisecond
		cfg.Session.HeartbeatTimeout = 100 * time.Millisecond
	})
	loginOnline(t, c)

	gw.DropHeartbeats(true)
	ev := waitEvent[DisconnectEvent](t, c, 3*time.Second)
	assert.False(t, ev.Reconnecting)
	assert.GreaterOrEqual(t, gw.Count(gateway.CmdHeartbeat), 2)
	assert.Equal(t, StateDisconnected, c.State())
	require.Eventually(t, func() bool { return gw.Connections() == 0 }, time.Second, 10*time.Millisecond)
}

func TestReconnectRestoresSession(t *testing.T) {
	testlog.Start(t)
	gw := gateway.New(t, testUin, testPassword)
	c := newTestClient(t, gw, func(cfg *Config) {
		cfg.Reconnect = true
		cfg.Session.Backoff = session.BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 100 * time.Millisecond}
	})
	loginOnline(t, c)

	gw.DropConnections()
	ev := waitEvent[DisconnectEvent](t, c, 2*time.Second)
	assert.True(t, ev.Reconnecting)
	waitEvent[OnlineEvent](t, c, 2*time.Second)
	assert.Equal(t, StateOnline, c.State())
	assert.Equal(t, 2, gw.Count(gateway.CmdRegister))
	assert.Equal(t, 1, gw.Count(gateway.CmdLogin))

	regs := gw.Requests(gateway.CmdRegister)
	require.Len(t, regs, 2)
	logins := gw.Requests(gateway.CmdLogin)
	require.Len(t, logins, 1)
	assert.Equal(t, logins[0].Session, regs[0].Session)
	assert.NotEqual(t, regs[0].Session, regs[1].Session, "each connection carries a fresh session id")
}

func TestHeartbeatRefreshesStaleToken(t *testing.T) {
	testlog.Start(t)
	gw := gateway.New(t, testUin, testPassword)
	c := newTestClient(t, gw, func(cfg *Config) {
		cfg.Session.HeartbeatInterval = 50 * time.Millisecond
		cfg.Session.TokenRefreshAfter = time.Nanosecond
	})
	loginOnline(t, c)
	waitEvent[TokenEvent](t, c, time.Second)

	waitEvent[TokenEvent](t, c, 2*time.Second)
	assert.GreaterOrEqual(t, gw.Count(gateway.CmdExchange), 1)
	assert.GreaterOrEqual(t, gw.Count(gateway.CmdCorrectTime), 1)
	assert.Equal(t, StateOnline, c.State())
}

func TestCorrectTimeStoresOffset(t *testing.T) {
	testlog.Start(t)
	gw := gateway.New(t, testUin, testPassword)
	gw.SetServerTime(uint32(time.Now().Unix() + 120))
	c := newTestClient(t, gw, nil)
	loginOnline(t, c)

	diff, err := c.CorrectTime(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 120, diff, 2)
	assert.Equal(t, diff, c.TimeDiff())
}

func TestKickoffStopsSession(t *testing.T) {
	testlog.Start(t)
	gw := gateway.New(t, testUin, testPassword)
	c := newTestClient(t, gw, func(cfg *Config) { cfg.Reconnect = true })
	loginOnline(t, c)

	payload, err := jce.EncodeWrapper("StatSvc", "ReqMSFLoginNotify", "req",
		jce.NewStruct(nil, nil, nil, "logged in elsewhere", "Offline"), 0)
	require.NoError(t, err)
	require.NoError(t, gw.Push("StatSvc.ReqMSFOffline", 9, payload))

	ev := waitEvent[KickoffEvent](t, c, time.Second)
	assert.Equal(t, "[Offline]logged in elsewhere", ev.Reason)
	disc := waitEvent[DisconnectEvent](t, c, time.Second)
	assert.False(t, disc.Reconnecting)
	assert.Equal(t, StateDisconnected, c.State())

	_, err = c.Call(context.Background(), "Any.Cmd", nil)
	var kerr *KickoffError
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, ev.Reason, kerr.Reason)
}

func TestPushAckAndGenericPush(t *testing.T) {
	testlog.Start(t)
	gw := gateway.New(t, testUin, testPassword)
	c := newTestClient(t, gw, nil)
	loginOnline(t, c)

	require.NoError(t, gw.Push("QualityTest.PushList", 77, []byte{1}))
	require.Eventually(t, func() bool { return gw.Count("QualityTest.PushList") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint32(77), gw.Requests("QualityTest.PushList")[0].Seq)

	require.NoError(t, gw.Push("ConfigPushSvc.PushReq", 5, []byte{0xAA}))
	ev := waitEvent[PushEvent](t, c, time.Second)
	assert.Equal(t, PushEvent{Cmd: "ConfigPushSvc.PushReq", Seq: 5, Payload: []byte{0xAA}}, ev)
}

func TestMalformedPushDoesNotDisturbCalls(t *testing.T) {
	testlog.Start(t)
	gw := gateway.New(t, testUin, testPassword)
	gw.Handle("Echo.Cmd", func(req *frame.Request) ([]byte, bool) { return req.Body, true })
	c := newTestClient(t, gw, nil)
	loginOnline(t, c)

	require.NoError(t, gw.Push("MessageSvc.PushForceOffline", 3, []byte{0xFF, 0x00}))
	out, err := c.Call(context.Background(), "Echo.Cmd", []byte("ok"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), out)
	assert.Equal(t, StateOnline, c.State())
}

func TestFatalDecodeInvalidatesToken(t *testing.T) {
	testlog.Start(t)
	gw := gateway.New(t, testUin, testPassword)
	c := newTestClient(t, gw, nil)
	loginOnline(t, c)

	require.NoError(t, gw.Send(frame.Response{Seq: 40, Cmd: "Any.Cmd", Enc: frame.EncryptSession, RetCode: -10008}))
	ev := waitEvent[TokenInvalidEvent](t, c, time.Second)
	var perr *ProtocolError
	require.True(t, errors.As(ev.Err, &perr))
	var rc *frame.RetCodeError
	require.ErrorAs(t, ev.Err, &rc)
	assert.Equal(t, int32(-10008), rc.RetCode)

	require.NoError(t, gw.Send(frame.Response{Seq: 41, Cmd: "Any.Cmd", Enc: frame.EncryptSession, Flag: 9}))
	ev = waitEvent[TokenInvalidEvent](t, c, time.Second)
	assert.ErrorIs(t, ev.Err, frame.ErrUnknownFlag)
}

func TestLogoutDeregisters(t *testing.T) {
	testlog.Start(t)
	gw := gateway.New(t, testUin, testPassword)
	c := newTestClient(t, gw, nil)
	loginOnline(t, c)

	require.NoError(t, c.Logout(context.Background()))
	assert.Equal(t, 2, gw.Count(gateway.CmdRegister))
	assert.Equal(t, StateDisconnected, c.State())
	require.Eventually(t, func() bool { return gw.Connections() == 0 }, time.Second, 10*time.Millisecond)
}

func TestTerminateClosesEvents(t *testing.T) {
	testlog.Start(t)
	gw := gateway.New(t, testUin, testPassword)
	c := newTestClient(t, gw, func(cfg *Config) { cfg.Session.HeartbeatInterval = 20 * time.Millisecond })
	loginOnline(t, c)

	c.Terminate()
	for range c.Events() {
	}
	require.ErrorIs(t, c.PasswordLogin(context.Background(), testPassword), ErrClosed)
}
