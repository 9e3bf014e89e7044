package tlv

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"strconv"
	"time"

	"github.com/danmuck/msfcore/internal/device"
	"github.com/danmuck/msfcore/internal/protocol"
	"github.com/danmuck/msfcore/internal/protocol/pb"
	"github.com/danmuck/msfcore/internal/protocol/session"
	"github.com/danmuck/msfcore/internal/protocol/tea"
)

// Packer builds login blocks from device identity, application metadata and
// a signature snapshot. Blocks that echo server-issued state (T104, T174,
// T10A, T143) are only meaningful after the response that set it.
type Packer struct {
	Device *device.Device
	Apk    device.Apk
	Sig    session.Snapshot
	// Now defaults to time.Now shifted by the server clock offset.
	Now func() time.Time
}

func NewPacker(dev *device.Device, apk device.Apk, sig session.Snapshot) *Packer {
	return &Packer{Device: dev, Apk: apk, Sig: sig}
}

func (p *Packer) unix() uint32 {
	if p.Now != nil {
		return uint32(p.Now().Unix())
	}
	return uint32(time.Now().Unix() + p.Sig.TimeDiff)
}

func block(tag uint16, w *protocol.Writer) []byte {
	return EncodeField(Field{Tag: tag, Value: w.Bytes()})
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

func trunc(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func (p *Packer) T1() []byte {
	return block(0x01, protocol.NewWriter().
		WriteU16(1).
		WriteBytes(randomBytes(4)).
		WriteU32(p.Sig.Uin).
		WriteU32(p.unix()).
		WriteBytes(make([]byte, 4)).
		WriteU16(0))
}

func (p *Packer) T8() []byte {
	return block(0x08, protocol.NewWriter().WriteU16(0).WriteU32(2052).WriteU16(0))
}

// T16 always carries the watch profile; it is only sent by the QR flow.
func (p *Packer) T16() []byte {
	apk := device.ApkFor(device.Watch)
	return block(0x16, protocol.NewWriter().
		WriteU32(7).
		WriteU32(apk.AppID).
		WriteU32(apk.SubID).
		WriteBytes(p.Device.GUID[:]).
		WriteTlvString(apk.ID).
		WriteTlvString(apk.Ver).
		WriteTlv(apk.Sign))
}

func (p *Packer) T18() []byte {
	return block(0x18, protocol.NewWriter().
		WriteU16(1).
		WriteU32(1536).
		WriteU32(p.Apk.AppID).
		WriteU32(0).
		WriteU32(p.Sig.Uin).
		WriteU16(0).
		WriteU16(0))
}

func (p *Packer) T1B() []byte {
	return block(0x1B, protocol.NewWriter().
		WriteU32(0).WriteU32(0).WriteU32(3).WriteU32(4).
		WriteU32(72).WriteU32(2).WriteU32(2).WriteU16(0))
}

func (p *Packer) T1D() []byte {
	return block(0x1D, protocol.NewWriter().
		WriteU8(1).WriteU32(184024956).WriteU32(0).WriteU8(0).WriteU32(0))
}

func (p *Packer) T1F() []byte {
	return block(0x1F, protocol.NewWriter().
		WriteU8(0).
		WriteTlvString(p.Device.OSType).
		WriteTlvString(p.Device.Version.Release).
		WriteU16(2).
		WriteTlvString(p.Device.SIM).
		WriteTlv(nil).
		WriteTlvString(p.Device.APN))
}

func (p *Packer) T33() []byte {
	return block(0x33, protocol.NewWriter().WriteBytes(p.Device.GUID[:]))
}

func (p *Packer) T35() []byte {
	return block(0x35, protocol.NewWriter().WriteU32(8))
}

// T100 announces the app and signature map. emp selects the sub id used by
// token exchange.
func (p *Packer) T100(emp bool) []byte {
	subID := p.Apk.SubID
	if emp {
		subID = 2
	}
	return block(0x100, protocol.NewWriter().
		WriteU16(1).
		WriteU32(7).
		WriteU32(p.Apk.AppID).
		WriteU32(subID).
		WriteU32(0).
		WriteU32(p.Apk.SigMap))
}

func (p *Packer) T104() []byte {
	return block(0x104, protocol.NewWriter().WriteBytes(p.Sig.T104))
}

// T106 carries the password hash encrypted under a key derived from it.
func (p *Packer) T106(md5pass [16]byte) []byte {
	body := protocol.NewWriter().
		WriteU16(4).
		WriteBytes(randomBytes(4)).
		WriteU32(7).
		WriteU32(p.Apk.AppID).
		WriteU32(0).
		WriteU64(uint64(p.Sig.Uin)).
		WriteU32(p.unix()).
		WriteBytes(make([]byte, 4)).
		WriteU8(1).
		WriteBytes(md5pass[:]).
		WriteBytes(p.Sig.Creds.TGTGT[:]).
		WriteU32(0).
		WriteU8(1).
		WriteBytes(p.Device.GUID[:]).
		WriteU32(p.Apk.SubID).
		WriteU32(1).
		WriteTlvString(strconv.FormatUint(uint64(p.Sig.Uin), 10)).
		WriteU16(0).
		Bytes()

	seed := make([]byte, 0, 24)
	seed = append(seed, md5pass[:]...)
	seed = append(seed, 0, 0, 0, 0)
	seed = binary.BigEndian.AppendUint32(seed, p.Sig.Uin)
	key := tea.Key(md5.Sum(seed))
	return block(0x106, protocol.NewWriter().WriteBytes(tea.Encrypt(body, key)))
}

func (p *Packer) T107() []byte {
	return block(0x107, protocol.NewWriter().WriteU16(0).WriteU8(0).WriteU16(0).WriteU8(1))
}

func (p *Packer) T109() []byte {
	sum := md5.Sum([]byte(p.Device.IMEI))
	return block(0x109, protocol.NewWriter().WriteBytes(sum[:]))
}

func (p *Packer) T10A() []byte {
	return block(0x10A, protocol.NewWriter().WriteBytes(p.Sig.Creds.TGT))
}

func (p *Packer) T116() []byte {
	return block(0x116, protocol.NewWriter().
		WriteU8(0).
		WriteU32(p.Apk.Bitmap).
		WriteU32(0x10400).
		WriteU8(1).
		WriteU32(1600000226))
}

func (p *Packer) T124() []byte {
	return block(0x124, protocol.NewWriter().
		WriteTlvString(trunc(p.Device.OSType, 16)).
		WriteTlvString(trunc(p.Device.Version.Release, 16)).
		WriteU16(2).
		WriteTlvString(trunc(p.Device.SIM, 16)).
		WriteU16(0).
		WriteTlvString(trunc(p.Device.APN, 16)))
}

func (p *Packer) T128() []byte {
	return block(0x128, protocol.NewWriter().
		WriteU16(0).
		WriteU8(0).
		WriteU8(1).
		WriteU8(0).
		WriteU32(16777216).
		WriteTlvString(trunc(p.Device.Model, 32)).
		WriteTlv(p.Device.GUID[:]).
		WriteTlvString(trunc(p.Device.Brand, 16)))
}

func (p *Packer) T141() []byte {
	return block(0x141, protocol.NewWriter().
		WriteU16(1).
		WriteTlvString(p.Device.SIM).
		WriteU16(2).
		WriteTlvString(p.Device.APN))
}

func (p *Packer) T142() []byte {
	return block(0x142, protocol.NewWriter().WriteU16(0).WriteTlvString(trunc(p.Apk.ID, 32)))
}

func (p *Packer) T143() []byte {
	return block(0x143, protocol.NewWriter().WriteBytes(p.Sig.Creds.D2))
}

// T144 nests the device tags encrypted under TGTGT.
func (p *Packer) T144() []byte {
	body := protocol.NewWriter().
		WriteU16(5).
		WriteBytes(p.T109()).
		WriteBytes(p.T52D()).
		WriteBytes(p.T124()).
		WriteBytes(p.T128()).
		WriteBytes(p.T16E()).
		Bytes()
	return block(0x144, protocol.NewWriter().WriteBytes(tea.Encrypt(body, p.Sig.Creds.TGTGT)))
}

func (p *Packer) T145() []byte {
	return block(0x145, protocol.NewWriter().WriteBytes(p.Device.GUID[:]))
}

func (p *Packer) T147() []byte {
	return block(0x147, protocol.NewWriter().
		WriteU32(p.Apk.AppID).
		WriteTlvString(trunc(p.Apk.Ver, 5)).
		WriteTlv(p.Apk.Sign))
}

func (p *Packer) T154() []byte {
	return block(0x154, protocol.NewWriter().WriteU32(p.Sig.Seq+1))
}

func (p *Packer) T16E() []byte {
	return block(0x16E, protocol.NewWriter().WriteString(p.Device.Model))
}

func (p *Packer) T174() []byte {
	return block(0x174, protocol.NewWriter().WriteBytes(p.Sig.T174))
}

func (p *Packer) T177() []byte {
	return block(0x177, protocol.NewWriter().
		WriteU8(1).
		WriteU32(p.Apk.BuildTime).
		WriteTlvString(p.Apk.SDKVer))
}

func (p *Packer) T17A() []byte {
	return block(0x17A, protocol.NewWriter().WriteU32(9))
}

// T17C carries the SMS verification code.
func (p *Packer) T17C(code string) []byte {
	return block(0x17C, protocol.NewWriter().WriteTlvString(code))
}

func (p *Packer) T187() []byte {
	sum := md5.Sum([]byte(p.Device.MACAddress))
	return block(0x187, protocol.NewWriter().WriteBytes(sum[:]))
}

func (p *Packer) T188() []byte {
	sum := md5.Sum([]byte(p.Device.AndroidID))
	return block(0x188, protocol.NewWriter().WriteBytes(sum[:]))
}

func (p *Packer) T191() []byte {
	return block(0x191, protocol.NewWriter().WriteU8(0x82))
}

// T193 carries the slider captcha ticket.
func (p *Packer) T193(ticket string) []byte {
	return block(0x193, protocol.NewWriter().WriteString(ticket))
}

func (p *Packer) T194() []byte {
	return block(0x194, protocol.NewWriter().WriteBytes(p.Device.IMSI))
}

func (p *Packer) T197() []byte {
	return block(0x197, protocol.NewWriter().WriteTlv([]byte{0}))
}

func (p *Packer) T198() []byte {
	return block(0x198, protocol.NewWriter().WriteTlv([]byte{0}))
}

func (p *Packer) T202() []byte {
	return block(0x202, protocol.NewWriter().
		WriteTlvString(trunc(p.Device.WifiBSSID, 16)).
		WriteTlvString(trunc(p.Device.WifiSSID, 32)))
}

func (p *Packer) T401() []byte {
	return block(0x401, protocol.NewWriter().WriteBytes(randomBytes(16)))
}

// CookieDomains are the domains whose cookies are requested at login.
var CookieDomains = []string{
	"aq.qq.com",
	"buluo.qq.com",
	"connect.qq.com",
	"docs.qq.com",
	"game.qq.com",
	"gamecenter.qq.com",
	"haoma.qq.com",
	"id.qq.com",
	"kg.qq.com",
	"mail.qq.com",
	"mma.qq.com",
	"office.qq.com",
	"openmobile.qq.com",
	"qqweb.qq.com",
	"qun.qq.com",
	"qzone.qq.com",
	"ti.qq.com",
	"v.qq.com",
	"vip.qq.com",
	"y.qq.com",
}

func (p *Packer) T511() []byte {
	w := protocol.NewWriter().WriteU16(uint16(len(CookieDomains)))
	for _, d := range CookieDomains {
		w.WriteU8(1).WriteTlvString(d)
	}
	return block(0x511, w)
}

func (p *Packer) T516() []byte {
	return block(0x516, protocol.NewWriter().WriteU32(0))
}

func (p *Packer) T521() []byte {
	return block(0x521, protocol.NewWriter().WriteU32(0).WriteU16(0))
}

func (p *Packer) T525() []byte {
	return block(0x525, protocol.NewWriter().WriteU16(1).WriteU16(0x536).WriteTlv([]byte{1, 0}))
}

// T52D is the device build info in the field-numbered binary format.
func (p *Packer) T52D() []byte {
	d := p.Device
	info := pb.MustEncode(pb.Message{
		1: d.Bootloader,
		2: d.ProcVersion,
		3: d.Version.Codename,
		4: d.Version.Incremental,
		5: d.Fingerprint,
		6: d.BootID,
		7: d.AndroidID,
		8: d.Baseband,
		9: d.Version.Incremental,
	})
	return block(0x52D, protocol.NewWriter().WriteBytes(info))
}

// Raw wraps an opaque payload returned by the gateway, such as the QR scan
// artifacts, so it can be echoed back under tag.
func Raw(tag uint16, payload []byte) []byte {
	return EncodeField(Field{Tag: tag, Value: payload})
}
