package tlv

import "github.com/danmuck/msfcore/internal/protocol"

// Login sub-commands carried in the first u16 of a handshake body.
const (
	SubPassword  uint16 = 9
	SubSlider    uint16 = 2
	SubSubmitSMS uint16 = 7
	SubSendSMS   uint16 = 8
	SubExchange  uint16 = 11
	SubUnlock    uint16 = 20
)

func counted(sub uint16, blocks ...[]byte) []byte {
	w := protocol.NewWriter().WriteU16(sub).WriteU16(uint16(len(blocks)))
	for _, b := range blocks {
		w.WriteBytes(b)
	}
	return w.Bytes()
}

// PasswordBody is the wtlogin.login body for a password attempt.
func (p *Packer) PasswordBody(md5pass [16]byte) []byte {
	return counted(SubPassword,
		p.T18(), p.T1(), p.T106(md5pass), p.T116(), p.T100(false), p.T107(),
		p.T142(), p.T144(), p.T145(), p.T147(), p.T154(), p.T141(), p.T8(),
		p.T511(), p.T187(), p.T188(), p.T194(), p.T191(), p.T202(), p.T177(),
		p.T516(), p.T521(), p.T525(),
	)
}

// QrLoginBody is the wtlogin.login body after a QR code was confirmed; the
// scan artifacts replace the password tag.
func (p *Packer) QrLoginBody() []byte {
	return counted(SubPassword,
		p.T18(), p.T1(), Raw(0x106, p.Sig.Qr.T106), p.T116(), p.T100(false), p.T107(),
		p.T142(), p.T144(), p.T145(), p.T147(), Raw(0x16A, p.Sig.Qr.T16A), p.T154(),
		p.T141(), p.T8(), p.T511(), p.T187(), p.T188(), p.T194(), p.T191(),
		p.T202(), p.T177(), p.T516(), p.T521(), Raw(0x318, p.Sig.Qr.T318),
	)
}

// ExchangeBody is the wtlogin.exchange_emp body used for token login and
// token refresh.
func (p *Packer) ExchangeBody() []byte {
	return counted(SubExchange,
		p.T100(true), p.T10A(), p.T116(), p.T144(), p.T143(), p.T142(),
		p.T154(), p.T18(), p.T141(), p.T8(), p.T147(), p.T177(), p.T187(),
		p.T188(), p.T202(), p.T511(),
	)
}

func (p *Packer) SliderBody(ticket string) []byte {
	return counted(SubSlider, p.T193(ticket), p.T8(), p.T104(), p.T116())
}

func (p *Packer) SubmitSMSBody(code string) []byte {
	return counted(SubSubmitSMS,
		p.T8(), p.T104(), p.T116(), p.T174(), p.T17C(code), p.T401(), p.T198(),
	)
}

func (p *Packer) SendSMSBody() []byte {
	return counted(SubSendSMS, p.T8(), p.T104(), p.T116(), p.T174(), p.T17A(), p.T197())
}

// UnlockBody is the silent follow-up after a 204 interstitial.
func (p *Packer) UnlockBody() []byte {
	return counted(SubUnlock, p.T8(), p.T104(), p.T116(), p.T401())
}

// QrFetchBody requests a new QR code (trans_emp 0x31).
func (p *Packer) QrFetchBody() []byte {
	w := protocol.NewWriter().
		WriteU16(0).
		WriteU32(16).
		WriteU64(0).
		WriteU8(8).
		WriteTlv(nil).
		WriteU16(6)
	for _, b := range [][]byte{p.T16(), p.T1B(), p.T1D(), p.T1F(), p.T33(), p.T35()} {
		w.WriteBytes(b)
	}
	return w.Bytes()
}

// QrQueryBody polls the scan state of the QR code identified by qrsig
// (trans_emp 0x12).
func (p *Packer) QrQueryBody() []byte {
	return protocol.NewWriter().
		WriteU16(5).
		WriteU8(1).
		WriteU32(8).
		WriteU32(16).
		WriteTlv(p.Sig.QrSig).
		WriteU64(0).
		WriteU8(8).
		WriteTlv(nil).
		WriteU16(0).
		Bytes()
}
