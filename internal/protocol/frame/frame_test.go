package frame

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/danmuck/msfcore/internal/protocol/tea"
	"github.com/danmuck/msfcore/internal/testutil/testlog"
)

func testKeys() Keys {
	return Keys{D2: []byte("d2-bytes"), D2Key: tea.Key(md5.Sum([]byte("d2key")))}
}

func TestReassemblerByteSizedChunks(t *testing.T) {
	testlog.Start(t)
	f := BuildService(Service{Seq: 5, Cmd: "OidbSvc.0x480_9_IMCore", Body: []byte("hello"), Uin: 10001, Session: []byte{1, 2, 3, 4}, D2Key: testKeys().D2Key})
	r := NewReassembler(DefaultLimits())
	var got [][]byte
	for i := range f {
		frames, err := r.Feed(f[i : i+1])
		if err != nil {
			t.Fatalf("feed: %v", err)
		}
		if len(frames) > 0 && i != len(f)-1 {
			t.Fatalf("frame emitted early at byte %d", i)
		}
		got = append(got, frames...)
	}
	if len(got) != 1 || !bytes.Equal(got[0], f) {
		t.Fatalf("expected exactly the original frame, got %d frames", len(got))
	}
	if len(r.buf) != 0 {
		t.Fatalf("buffer should be empty, has %d", len(r.buf))
	}
}

func TestReassemblerSeveralFramesInOneChunk(t *testing.T) {
	testlog.Start(t)
	a := []byte{0, 0, 0, 6, 'a', 'a'}
	b := []byte{0, 0, 0, 5, 'b'}
	c := []byte{0, 0, 0, 7, 'c', 'c', 'c'}
	stream := append(append(append([]byte{}, a...), b...), c[:3]...)
	r := NewReassembler(DefaultLimits())
	frames, err := r.Feed(stream)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(frames) != 2 || !bytes.Equal(frames[0], a) || !bytes.Equal(frames[1], b) {
		t.Fatalf("unexpected frames %x", frames)
	}
	frames, err = r.Feed(c[3:])
	if err != nil || len(frames) != 1 || !bytes.Equal(frames[0], c) {
		t.Fatalf("tail frame mismatch: %x err=%v", frames, err)
	}
}

func TestReassemblerRejectsBadLength(t *testing.T) {
	r := NewReassembler(Limits{MaxFrameBytes: 64})
	if _, err := r.Feed([]byte{0, 0, 0, 2}); !errors.Is(err, ErrLengthTooSmall) {
		t.Fatalf("expected ErrLengthTooSmall, got %v", err)
	}
	if _, err := r.Feed([]byte{0}); !errors.Is(err, ErrReassemblerDead) {
		t.Fatalf("expected latched error, got %v", err)
	}
	r = NewReassembler(Limits{MaxFrameBytes: 64})
	if _, err := r.Feed([]byte{0, 0, 1, 0}); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadFrame(t *testing.T) {
	f := []byte{0, 0, 0, 7, 1, 2, 3}
	got, err := ReadFrame(bytes.NewReader(append(f, 0xff)), DefaultLimits())
	if err != nil || !bytes.Equal(got, f) {
		t.Fatalf("read frame got=%x err=%v", got, err)
	}
	if _, err := ReadFrame(bytes.NewReader([]byte{0, 1}), DefaultLimits()); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestLoginFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	keys := testKeys()
	for _, enc := range []Encryption{EncryptNone, EncryptSession, EncryptZero} {
		b, err := BuildLogin(Login{
			Seq: 77, Cmd: "wtlogin.login", Body: []byte("body"), Enc: enc, Uin: 10001,
			SubID: 537113159, Session: []byte{9, 9, 9, 9}, IMEI: "866174040000000", TGT: []byte("tgt"), Keys: keys,
		})
		if err != nil {
			t.Fatalf("build enc=%d: %v", enc, err)
		}
		if int(binary.BigEndian.Uint32(b)) != len(b) {
			t.Fatalf("length prefix must count the whole frame")
		}
		req, err := ParseRequest(b, keys)
		if err != nil {
			t.Fatalf("parse enc=%d: %v", enc, err)
		}
		if req.Kind != KindLogin || req.Seq != 77 || req.Cmd != "wtlogin.login" || string(req.Body) != "body" ||
			req.Uin != 10001 || string(req.TGT) != "tgt" || !bytes.Equal(req.D2, keys.D2) || req.Enc != enc {
			t.Fatalf("request mismatch enc=%d: %+v", enc, req)
		}
	}
}

func TestServiceFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	keys := testKeys()
	b := BuildService(Service{Seq: 1234, Cmd: "Client.CorrectTime", Body: []byte{0, 0, 0, 0}, Uin: 10001, Session: []byte{1, 2, 3, 4}, D2Key: keys.D2Key})
	req, err := ParseRequest(b, keys)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req.Kind != KindService || req.Seq != 1234 || req.Cmd != "Client.CorrectTime" || !bytes.Equal(req.Session, []byte{1, 2, 3, 4}) {
		t.Fatalf("request mismatch: %+v", req)
	}
}

func TestParseResponse(t *testing.T) {
	testlog.Start(t)
	keys := testKeys()
	payload := bytes.Repeat([]byte("push-payload "), 20)
	for _, tc := range []struct {
		enc      Encryption
		compress bool
	}{{EncryptNone, false}, {EncryptSession, false}, {EncryptZero, false}, {EncryptSession, true}} {
		b, err := BuildResponse(Response{Seq: 42, Cmd: "StatSvc.register", Payload: payload, Uin: 10001, Enc: tc.enc, Keys: keys, Compress: tc.compress})
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		p, err := Parse(b, keys)
		if err != nil {
			t.Fatalf("parse enc=%d compress=%v: %v", tc.enc, tc.compress, err)
		}
		if p.Seq != 42 || p.Cmd != "StatSvc.register" || !bytes.Equal(p.Payload, payload) {
			t.Fatalf("packet mismatch enc=%d compress=%v: seq=%d cmd=%s", tc.enc, tc.compress, p.Seq, p.Cmd)
		}
	}
}

func TestParseUnknownFlagIsFatal(t *testing.T) {
	b, err := BuildResponse(Response{Seq: 1, Cmd: "x", Enc: EncryptNone, Flag: 5})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := Parse(b, testKeys()); !errors.Is(err, ErrUnknownFlag) {
		t.Fatalf("expected ErrUnknownFlag, got %v", err)
	}
}

func TestParseNonZeroRetCode(t *testing.T) {
	b, _ := BuildResponse(Response{Seq: 3, Cmd: "x", Enc: EncryptZero, RetCode: -10008})
	_, err := Parse(b, testKeys())
	var rc *RetCodeError
	if !errors.As(err, &rc) || rc.RetCode != -10008 || rc.Seq != 3 {
		t.Fatalf("expected RetCodeError, got %v", err)
	}
}

func TestParseWrongKeyIsMalformed(t *testing.T) {
	b, _ := BuildResponse(Response{Seq: 3, Cmd: "x", Payload: []byte("p"), Enc: EncryptSession, Keys: testKeys()})
	other := Keys{D2Key: tea.Key(md5.Sum([]byte("other")))}
	if _, err := Parse(b, other); err == nil {
		t.Fatalf("expected error decoding with the wrong key")
	}
}

func TestHandshakeWrapAndOpen(t *testing.T) {
	testlog.Start(t)
	share := tea.Key(md5.Sum([]byte("share")))
	h := Handshake{CmdID: CmdIDLogin, Uin: 10001, PublicKey: bytes.Repeat([]byte{4}, 65), ShareKey: share}
	wrapped := h.Wrap([]byte("login body"))
	if wrapped[0] != 0x02 || wrapped[len(wrapped)-1] != 0x03 {
		t.Fatalf("envelope markers missing")
	}
	if int(binary.BigEndian.Uint16(wrapped[1:])) != len(wrapped) {
		t.Fatalf("declared envelope length %d != %d", binary.BigEndian.Uint16(wrapped[1:]), len(wrapped))
	}
	opened, err := OpenHandshake(wrapped)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if opened.CmdID != CmdIDLogin || opened.Uin != 10001 || !bytes.Equal(opened.PublicKey, h.PublicKey) {
		t.Fatalf("handshake mismatch: %+v", opened)
	}
	body, err := tea.Decrypt(opened.Sealed, share)
	if err != nil || string(body) != "login body" {
		t.Fatalf("sealed body got=%q err=%v", body, err)
	}

	resp, err := UnwrapResponse(SealResponse([]byte("response"), share), share)
	if err != nil || string(resp) != "response" {
		t.Fatalf("unwrap got=%q err=%v", resp, err)
	}
}

func TestCode2DEnvelope(t *testing.T) {
	body := []byte{1, 2, 3}
	b := Code2D(0x31, 0x11100, body, 9, 1700000000)
	if len(b) != 4+4+2+4+4+1+2+2+21+1+2+2+4+8+len(body)+1 {
		t.Fatalf("unexpected envelope length %d", len(b))
	}
	if got := binary.BigEndian.Uint32(b[len(b)-1-len(body)-8-4:]); got != 10 {
		t.Fatalf("expected seq+1, got %d", got)
	}
}

func TestParseBoundsInflatedPayload(t *testing.T) {
	testlog.Start(t)
	keys := testKeys()
	payload := make([]byte, 64*1024)
	b, err := BuildResponse(Response{Seq: 9, Cmd: "ConfigPushSvc.PushReq", Payload: payload, Uin: 10001, Enc: EncryptSession, Keys: keys, Compress: true})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(b) > 4*1024 {
		t.Fatalf("expected a small compressed frame, got %d bytes", len(b))
	}
	if _, err := ParseLimited(b, keys, Limits{MaxFrameBytes: 16 * 1024}); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	p, err := ParseLimited(b, keys, Limits{MaxFrameBytes: uint32(len(payload))})
	if err != nil {
		t.Fatalf("parse at exact limit: %v", err)
	}
	if len(p.Payload) != len(payload) {
		t.Fatalf("payload length: got %d want %d", len(p.Payload), len(payload))
	}
}
