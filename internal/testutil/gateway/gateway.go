// Package gateway runs an in-process access gateway for client tests. It
// speaks the real envelopes through the gateway side of internal/protocol/frame
// and answers the login, registration and keep-alive commands with scripted
// replies.
package gateway

import (
	"crypto/ecdh"
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	logs "github.com/danmuck/msfcore/internal/logging"
	"github.com/danmuck/msfcore/internal/protocol"
	"github.com/danmuck/msfcore/internal/protocol/frame"
	"github.com/danmuck/msfcore/internal/protocol/jce"
	"github.com/danmuck/msfcore/internal/protocol/session"
	"github.com/danmuck/msfcore/internal/protocol/tea"
	"github.com/danmuck/msfcore/internal/protocol/tlv"
)

// Commands with a built-in reply.
const (
	CmdLogin       = "wtlogin.login"
	CmdExchange    = "wtlogin.exchange_emp"
	CmdTransEmp    = "wtlogin.trans_emp"
	CmdRegister    = "StatSvc.register"
	CmdHeartbeat   = "OidbSvc.0x480_9_IMCore"
	CmdCorrectTime = "Client.CorrectTime"
)

// LoginRequest is a decoded wtlogin.login or wtlogin.exchange_emp body.
type LoginRequest struct {
	Cmd string
	Sub uint16
	Tlv tlv.Map
	// TGTGT is the key the client will use to open t119, recovered from
	// t106 (password), the QR confirmation or the issued d2key (exchange).
	TGTGT tea.Key
}

// LoginReply is the status byte and tags of a login response.
type LoginReply struct {
	Status uint8
	Fields []tlv.Field
}

// LoginFunc scripts login responses. Returning ok=false drops the request.
type LoginFunc func(req LoginRequest) (reply LoginReply, ok bool)

// HandlerFunc answers a service command. Returning ok=false sends nothing.
type HandlerFunc func(req *frame.Request) (payload []byte, ok bool)

// Profile is what the gateway reports in t11a.
type Profile struct {
	Nickname string
	Age      uint8
	Gender   uint8
}

// Gateway is a single-account fake gateway.
type Gateway struct {
	ln       net.Listener
	priv     *ecdh.PrivateKey
	uin      uint32
	password [16]byte
	creds    session.Credentials

	writeMu sync.Mutex

	mu             sync.Mutex
	conns          map[net.Conn]struct{}
	counts         map[string]int
	requests       []*frame.Request
	handlers       map[string]HandlerFunc
	login          LoginFunc
	profile        Profile
	rejectRegister bool
	dropHeartbeats bool
	serverTime     uint32
	qr             qrState
	// lastTGTGT is the key recovered from the latest t106; verification
	// follow-ups carry no t106 and reuse it.
	lastTGTGT tea.Key
}

type qrState struct {
	image  []byte
	sig    []byte
	result uint8
	t106   []byte
	t16a   []byte
	t318   []byte
	tgtgt  tea.Key
}

// New starts a gateway for uin on a loopback port. md5pass is the password
// hash it accepts. The listener closes with the test.
func New(t testing.TB, uin uint32, md5pass [16]byte) *Gateway {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("gateway listen: %v", err)
	}
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("gateway key: %v", err)
	}
	var d2key tea.Key
	_, _ = rand.Read(d2key[:])
	g := &Gateway{
		ln:       ln,
		priv:     priv,
		uin:      uin,
		password: md5pass,
		creds: session.Credentials{
			TGT:   []byte("tgt-" + strconv.FormatUint(uint64(uin), 10)),
			SKey:  []byte("@skey0001"),
			D2:    []byte("d2-" + strconv.FormatUint(uint64(uin), 10)),
			D2Key: d2key,
			TGTGT: md5.Sum(d2key[:]),
		},
		conns:    make(map[net.Conn]struct{}),
		counts:   make(map[string]int),
		handlers: make(map[string]HandlerFunc),
		profile:  Profile{Nickname: "tester", Age: 20, Gender: 1},
		qr: qrState{
			image:  []byte("\x89PNG-qrcode"),
			sig:    []byte("qrsig"),
			result: 0x30,
			t106:   []byte("qr-t106"),
			t16a:   []byte("qr-t16a"),
			t318:   []byte("qr-t318"),
		},
	}
	_, _ = rand.Read(g.qr.tgtgt[:])
	g.login = g.Accept
	go g.acceptLoop()
	t.Cleanup(g.Close)
	return g
}

func (g *Gateway) Host() string {
	host, _, _ := net.SplitHostPort(g.ln.Addr().String())
	return host
}

func (g *Gateway) Port() int {
	_, port, _ := net.SplitHostPort(g.ln.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// PublicKey is the uncompressed point the client must agree keys with.
func (g *Gateway) PublicKey() []byte {
	return g.priv.PublicKey().Bytes()
}

// Credentials are the secrets issued on a successful login.
func (g *Gateway) Credentials() session.Credentials {
	return g.creds
}

// Token is the token a client holds after logging in here.
func (g *Gateway) Token() []byte {
	return g.creds.Token()
}

func (g *Gateway) SetLogin(fn LoginFunc) {
	g.mu.Lock()
	g.login = fn
	g.mu.Unlock()
}

func (g *Gateway) SetProfile(p Profile) {
	g.mu.Lock()
	g.profile = p
	g.mu.Unlock()
}

func (g *Gateway) Handle(cmd string, fn HandlerFunc) {
	g.mu.Lock()
	g.handlers[cmd] = fn
	g.mu.Unlock()
}

func (g *Gateway) RejectRegister(v bool) {
	g.mu.Lock()
	g.rejectRegister = v
	g.mu.Unlock()
}

// DropHeartbeats makes the gateway ignore keep-alive calls.
func (g *Gateway) DropHeartbeats(v bool) {
	g.mu.Lock()
	g.dropHeartbeats = v
	g.mu.Unlock()
}

func (g *Gateway) SetServerTime(unix uint32) {
	g.mu.Lock()
	g.serverTime = unix
	g.mu.Unlock()
}

// SetQrResult sets what QR polls report: 0 confirms the scan.
func (g *Gateway) SetQrResult(code uint8) {
	g.mu.Lock()
	g.qr.result = code
	g.mu.Unlock()
}

// QrTGTGT is the key handed out with a confirmed scan.
func (g *Gateway) QrTGTGT() tea.Key {
	return g.qr.tgtgt
}

// Count returns how many requests for cmd arrived.
func (g *Gateway) Count(cmd string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counts[cmd]
}

// Requests returns every decoded request for cmd in arrival order.
func (g *Gateway) Requests(cmd string) []*frame.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*frame.Request, 0)
	for _, r := range g.requests {
		if r.Cmd == cmd {
			out = append(out, r)
		}
	}
	return out
}

// Connections returns the number of open client connections.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Push sends an unsolicited service packet to every connected client.
func (g *Gateway) Push(cmd string, seq uint32, payload []byte) error {
	return g.Send(frame.Response{
		Seq:     seq,
		Cmd:     cmd,
		Payload: payload,
		Enc:     frame.EncryptSession,
	})
}

// Send writes an arbitrary inbound frame to every connected client. Uin
// and keys default to the account's.
func (g *Gateway) Send(resp frame.Response) error {
	if resp.Uin == 0 {
		resp.Uin = g.uin
	}
	if resp.Keys.D2Key == (tea.Key{}) {
		resp.Keys.D2Key = g.creds.D2Key
	}
	out, err := frame.BuildResponse(resp)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.conns) == 0 {
		return errors.New("gateway: no client connected")
	}
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	for c := range g.conns {
		if _, err := c.Write(out); err != nil {
			return err
		}
	}
	return nil
}

// Reply sends a service response for seq to every connected client.
func (g *Gateway) Reply(cmd string, seq uint32, payload []byte) error {
	return g.Push(cmd, seq, payload)
}

// DropConnections closes every client connection from the gateway side.
func (g *Gateway) DropConnections() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for c := range g.conns {
		_ = c.Close()
	}
}

func (g *Gateway) Close() {
	_ = g.ln.Close()
	g.DropConnections()
}

func (g *Gateway) acceptLoop() {
	for {
		conn, err := g.ln.Accept()
		if err != nil {
			return
		}
		g.mu.Lock()
		g.conns[conn] = struct{}{}
		g.mu.Unlock()
		go g.serve(conn)
	}
}

func (g *Gateway) serve(conn net.Conn) {
	defer func() {
		g.mu.Lock()
		delete(g.conns, conn)
		g.mu.Unlock()
		_ = conn.Close()
	}()
	for {
		f, err := frame.ReadFrame(conn, frame.DefaultLimits())
		if err != nil {
			return
		}
		g.handle(conn, f)
	}
}

func (g *Gateway) handle(conn net.Conn, f []byte) {
	req, err := frame.ParseRequest(f, frame.Keys{D2: g.creds.D2, D2Key: g.creds.D2Key})
	if err != nil {
		logs.Warnf("gateway parse request: %v", err)
		return
	}
	g.mu.Lock()
	g.counts[req.Cmd]++
	g.requests = append(g.requests, req)
	custom := g.handlers[req.Cmd]
	g.mu.Unlock()

	if custom != nil {
		if payload, ok := custom(req); ok {
			g.respond(conn, req, payload)
		}
		return
	}
	switch req.Cmd {
	case CmdLogin, CmdExchange, CmdTransEmp:
		g.handleHandshake(conn, req)
	case CmdRegister:
		g.mu.Lock()
		reject := g.rejectRegister
		g.mu.Unlock()
		status := 1
		if reject {
			status = 0
		}
		payload, err := jce.EncodeWrapper("PushService", "SvcRespRegister", "SvcRespRegister",
			jce.NewStruct(int64(g.uin), 0, 0, 0, 0, 0, 0, 0, 0, status), 0)
		if err != nil {
			logs.Warnf("gateway encode register: %v", err)
			return
		}
		g.respond(conn, req, payload)
	case CmdHeartbeat:
		g.mu.Lock()
		drop := g.dropHeartbeats
		g.mu.Unlock()
		if !drop {
			g.respond(conn, req, nil)
		}
	case CmdCorrectTime:
		g.mu.Lock()
		now := g.serverTime
		g.mu.Unlock()
		if now == 0 {
			now = uint32(time.Now().Unix())
		}
		g.respond(conn, req, binary.BigEndian.AppendUint32(nil, now))
	}
}

// respond answers in the key regime of the request.
func (g *Gateway) respond(conn net.Conn, req *frame.Request, payload []byte) {
	enc := req.Enc
	if req.Kind == frame.KindService {
		enc = frame.EncryptSession
	}
	out, err := frame.BuildResponse(frame.Response{
		Seq:     req.Seq,
		Cmd:     req.Cmd,
		Payload: payload,
		Session: req.Session,
		Uin:     g.uin,
		Enc:     enc,
		Keys:    frame.Keys{D2Key: g.creds.D2Key},
	})
	if err != nil {
		logs.Warnf("gateway build response: %v", err)
		return
	}
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	if _, err := conn.Write(out); err != nil {
		logs.Warnf("gateway write: %v", err)
	}
}

func (g *Gateway) handleHandshake(conn net.Conn, req *frame.Request) {
	hs, err := frame.OpenHandshake(req.Body)
	if err != nil {
		logs.Warnf("gateway open handshake: %v", err)
		return
	}
	peer, err := ecdh.P256().NewPublicKey(hs.PublicKey)
	if err != nil {
		logs.Warnf("gateway client key: %v", err)
		return
	}
	secret, err := g.priv.ECDH(peer)
	if err != nil {
		logs.Warnf("gateway agree: %v", err)
		return
	}
	share := tea.Key(md5.Sum(secret[:16]))
	plain, err := tea.Decrypt(hs.Sealed, share)
	if err != nil {
		logs.Warnf("gateway open body: %v", err)
		return
	}

	var body []byte
	if req.Cmd == CmdTransEmp {
		body = g.transEmp(plain)
	} else {
		r := protocol.NewReader(plain)
		lr := LoginRequest{Cmd: req.Cmd, Sub: r.U16()}
		if lr.Tlv, err = tlv.DecodeCounted(r.Rest()); err != nil {
			logs.Warnf("gateway login tags: %v", err)
			return
		}
		lr.TGTGT = g.tgtgtFor(lr)
		g.mu.Lock()
		fn := g.login
		g.mu.Unlock()
		reply, ok := fn(lr)
		if !ok {
			return
		}
		body = protocol.NewWriter().
			WriteU16(0).
			WriteU8(reply.Status).
			WriteU16(0).
			WriteBytes(counted(reply.Fields)).
			Bytes()
	}
	if body == nil {
		return
	}
	g.respond(conn, req, frame.SealResponse(body, share))
}

func (g *Gateway) tgtgtFor(lr LoginRequest) tea.Key {
	if lr.Sub == tlv.SubExchange {
		return g.creds.TGTGT
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	t106, ok := lr.Tlv.Get(0x106)
	if !ok {
		return g.lastTGTGT
	}
	if string(t106) == string(g.qr.t106) {
		g.lastTGTGT = g.qr.tgtgt
		return g.lastTGTGT
	}
	seed := append(append([]byte(nil), g.password[:]...), 0, 0, 0, 0)
	seed = binary.BigEndian.AppendUint32(seed, g.uin)
	plain, err := tea.Decrypt(t106, tea.Key(md5.Sum(seed)))
	if err != nil || len(plain) < 67 {
		return tea.Key{}
	}
	copy(g.lastTGTGT[:], plain[51:67])
	return g.lastTGTGT
}

// Accept is the default login script: every attempt succeeds.
func (g *Gateway) Accept(req LoginRequest) (LoginReply, bool) {
	return LoginReply{Status: 0, Fields: g.SuccessFields(req.TGTGT)}, true
}

// SuccessFields builds the t119 block a successful login carries.
func (g *Gateway) SuccessFields(tgtgt tea.Key) []tlv.Field {
	g.mu.Lock()
	p := g.profile
	g.mu.Unlock()
	profile := protocol.NewWriter().
		WriteU16(0).
		WriteU8(p.Age).
		WriteU8(p.Gender).
		WriteU8(uint8(len(p.Nickname))).
		WriteString(p.Nickname).
		Bytes()
	cookies := protocol.NewWriter().
		WriteU16(1).
		WriteTlvString("qun.qq.com").
		WriteTlv([]byte("pskey-qun")).
		WriteTlv(nil).
		Bytes()
	inner := counted([]tlv.Field{
		{Tag: 0x10A, Value: g.creds.TGT},
		{Tag: 0x120, Value: g.creds.SKey},
		{Tag: 0x143, Value: g.creds.D2},
		{Tag: 0x305, Value: g.creds.D2Key[:]},
		{Tag: 0x11A, Value: profile},
		{Tag: 0x512, Value: cookies},
	})
	plain := protocol.NewWriter().WriteU16(0).WriteBytes(inner).Bytes()
	return []tlv.Field{{Tag: 0x119, Value: tea.Encrypt(plain, tgtgt)}}
}

func counted(fields []tlv.Field) []byte {
	return protocol.NewWriter().
		WriteU16(uint16(len(fields))).
		WriteBytes(tlv.EncodeFields(fields)).
		Bytes()
}

// transEmp answers QR fetch (0x11100) and poll (0x6200) envelopes.
func (g *Gateway) transEmp(plain []byte) []byte {
	r := protocol.NewReader(plain)
	head := r.U32()
	if r.Err() != nil {
		return nil
	}
	g.mu.Lock()
	qr := g.qr
	g.mu.Unlock()

	switch head {
	case 0x11100:
		return protocol.NewWriter().
			WriteBytes(make([]byte, 54)).
			WriteU8(0).
			WriteTlv(qr.sig).
			WriteU16(0).
			WriteBytes(counted([]tlv.Field{{Tag: 0x17, Value: qr.image}})).
			Bytes()
	case 0x6200:
		w := protocol.NewWriter().
			WriteBytes(make([]byte, 48)).
			WriteU16(0).
			WriteBytes(make([]byte, 4)).
			WriteU8(qr.result)
		if qr.result == 0 {
			w.WriteBytes(make([]byte, 4)).
				WriteU32(g.uin).
				WriteBytes(make([]byte, 6)).
				WriteBytes(counted([]tlv.Field{
					{Tag: 0x18, Value: qr.t106},
					{Tag: 0x19, Value: qr.t16a},
					{Tag: 0x65, Value: qr.t318},
					{Tag: 0x1E, Value: qr.tgtgt[:]},
				}))
		}
		return w.Bytes()
	}
	return nil
}
