package session

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/msfcore/internal/protocol/tea"
)

// MaxSeq is the largest sequence number; the counter wraps back to 1.
const MaxSeq = 0x7FFF

var ErrInvalidToken = errors.New("session: invalid token")

// Credentials are the long-term secrets issued by a successful login.
// They are replaced as a unit.
type Credentials struct {
	TGT   []byte
	SKey  []byte
	D2    []byte
	D2Key tea.Key
	// TGTGT keys the encrypted device-info tag.
	TGTGT tea.Key
	// IssuedAt is when the gateway issued this set.
	IssuedAt time.Time
}

// Empty reports whether no login has populated the credentials yet.
func (c Credentials) Empty() bool {
	return len(c.D2) == 0 && len(c.TGT) == 0
}

// QrResult holds the artifacts returned when a QR code is confirmed.
type QrResult struct {
	T106  []byte
	T16A  []byte
	T318  []byte
	TGTGT tea.Key
}

// Snapshot is a consistent copy of Sig used to pack one request.
type Snapshot struct {
	Uin      uint32
	Seq      uint32
	Session  []byte
	RandKey  [16]byte
	Creds    Credentials
	T104     []byte
	T174     []byte
	QrSig    []byte
	Qr       QrResult
	TimeDiff int64
}

// Sig is the mutable signature state of one logical session.
type Sig struct {
	uin uint32
	seq atomic.Uint32

	mu       sync.RWMutex
	session  []byte
	randKey  [16]byte
	creds    Credentials
	t104     []byte
	t174     []byte
	qrsig    []byte
	qr       QrResult
	cookies  map[string][]byte
	timeDiff int64
}

// NewSig creates signature state with fresh random keys and a random
// starting sequence number.
func NewSig(uin uint32) *Sig {
	s := &Sig{uin: uin, cookies: make(map[string][]byte)}
	s.ResetSession()
	var tgtgt tea.Key
	_, _ = rand.Read(tgtgt[:])
	_, _ = rand.Read(s.randKey[:])
	s.creds.TGTGT = tgtgt
	var b [2]byte
	_, _ = rand.Read(b[:])
	s.seq.Store(uint32(binary.BigEndian.Uint16(b[:])) % MaxSeq)
	return s
}

func (s *Sig) Uin() uint32 {
	return s.uin
}

// NextSeq returns the next sequence number in 1..MaxSeq.
func (s *Sig) NextSeq() uint32 {
	for {
		cur := s.seq.Load()
		next := cur + 1
		if next > MaxSeq {
			next = 1
		}
		if s.seq.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// Seq returns the last issued sequence number.
func (s *Sig) Seq() uint32 {
	return s.seq.Load()
}

// ResetSession picks a new random session id, used once per connection.
func (s *Sig) ResetSession() {
	session := make([]byte, 4)
	_, _ = rand.Read(session)
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()
}

func (s *Sig) Session() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *Sig) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Uin:      s.uin,
		Seq:      s.seq.Load(),
		Session:  s.session,
		RandKey:  s.randKey,
		Creds:    s.creds,
		T104:     s.t104,
		T174:     s.t174,
		QrSig:    s.qrsig,
		Qr:       s.qr,
		TimeDiff: s.timeDiff,
	}
}

func (s *Sig) Credentials() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// SetCredentials replaces every credential at once.
func (s *Sig) SetCredentials(c Credentials) {
	s.mu.Lock()
	s.creds = c
	s.mu.Unlock()
}

// ClearCredentials drops the long-term secrets, keeping a fresh TGTGT.
func (s *Sig) ClearCredentials() {
	var tgtgt tea.Key
	_, _ = rand.Read(tgtgt[:])
	s.mu.Lock()
	s.creds = Credentials{TGTGT: tgtgt}
	s.mu.Unlock()
}

func (s *Sig) SetT104(b []byte) {
	s.mu.Lock()
	s.t104 = b
	s.mu.Unlock()
}

func (s *Sig) SetT174(b []byte) {
	s.mu.Lock()
	s.t174 = b
	s.mu.Unlock()
}

func (s *Sig) SetQrSig(b []byte) {
	s.mu.Lock()
	s.qrsig = b
	s.mu.Unlock()
}

// SetQrResult stores a confirmed scan and switches TGTGT to the one it carried.
func (s *Sig) SetQrResult(r QrResult) {
	s.mu.Lock()
	s.qr = r
	s.creds.TGTGT = r.TGTGT
	s.mu.Unlock()
}

func (s *Sig) SetCookies(c map[string][]byte) {
	s.mu.Lock()
	s.cookies = maps.Clone(c)
	s.mu.Unlock()
}

// Cookie returns the per-domain cookie issued at login.
func (s *Sig) Cookie(domain string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cookies[domain]
}

func (s *Sig) SetTimeDiff(d int64) {
	s.mu.Lock()
	s.timeDiff = d
	s.mu.Unlock()
}

func (s *Sig) TimeDiff() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeDiff
}

// Token serializes the credentials needed for a later token login.
func (c Credentials) Token() []byte {
	out := make([]byte, 0, 8+len(c.TGT)+len(c.SKey)+len(c.D2)+len(c.D2Key))
	for _, part := range [][]byte{c.TGT, c.SKey, c.D2, c.D2Key[:]} {
		out = binary.BigEndian.AppendUint16(out, uint16(len(part)))
		out = append(out, part...)
	}
	return out
}

// CredentialsFromToken parses a Token. TGTGT is re-derived from D2Key.
func CredentialsFromToken(token []byte) (Credentials, error) {
	parts := make([][]byte, 0, 4)
	b := token
	for i := 0; i < 4; i++ {
		if len(b) < 2 {
			return Credentials{}, fmt.Errorf("%w: truncated part %d", ErrInvalidToken, i)
		}
		n := int(binary.BigEndian.Uint16(b))
		if len(b)-2 < n {
			return Credentials{}, fmt.Errorf("%w: truncated part %d", ErrInvalidToken, i)
		}
		parts = append(parts, append([]byte(nil), b[2:2+n]...))
		b = b[2+n:]
	}
	if len(b) != 0 {
		return Credentials{}, fmt.Errorf("%w: trailing bytes", ErrInvalidToken)
	}
	d2key, err := tea.KeyFrom(parts[3])
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return Credentials{
		TGT:   parts[0],
		SKey:  parts[1],
		D2:    parts[2],
		D2Key: d2key,
		TGTGT: md5.Sum(d2key[:]),
	}, nil
}
