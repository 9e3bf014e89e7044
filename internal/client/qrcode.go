package client

import (
	"context"
	"time"

	"github.com/danmuck/msfcore/internal/device"
	logs "github.com/danmuck/msfcore/internal/logging"
	"github.com/danmuck/msfcore/internal/protocol"
	"github.com/danmuck/msfcore/internal/protocol/frame"
	"github.com/danmuck/msfcore/internal/protocol/schema"
	"github.com/danmuck/msfcore/internal/protocol/session"
	"github.com/danmuck/msfcore/internal/protocol/tea"
	"github.com/danmuck/msfcore/internal/protocol/tlv"
)

// trans_emp sub-commands and envelope heads.
const (
	qrFetchCmd  uint16 = 0x31
	qrFetchHead uint32 = 0x11100
	qrQueryCmd  uint16 = 0x12
	qrQueryHead uint32 = 0x6200
)

// qrRequest wraps a trans_emp body. QR requests always present the watch
// application with no uin.
func (c *Client) qrRequest(cmdID uint16, head uint32, build func(p *tlv.Packer) []byte) handshakeRequest {
	return handshakeRequest{
		cmd:   cmdTransEmp,
		cmdID: frame.CmdIDQrcode,
		subID: device.ApkFor(device.Watch).SubID,
		build: func(p *tlv.Packer) []byte {
			return frame.Code2D(cmdID, head, build(p), p.Sig.Seq, uint32(time.Now().Unix()))
		},
	}
}

// FetchQrcode requests a new QR code and returns its image. A QrcodeEvent
// carries the same image.
func (c *Client) FetchQrcode(ctx context.Context) ([]byte, error) {
	if err := c.sideRequest(); err != nil {
		return nil, err
	}
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	plain, err := c.handshake(ctx, c.qrRequest(qrFetchCmd, qrFetchHead, (*tlv.Packer).QrFetchBody))
	if err != nil {
		return nil, err
	}
	r := protocol.NewReader(plain)
	r.Skip(54)
	retcode := r.U8()
	qrsig := r.Tlv()
	r.Skip(2)
	rest := r.Rest()
	if err := r.Err(); err != nil {
		return nil, &ProtocolError{Op: "fetch qrcode", Err: err}
	}
	t, err := tlv.DecodeCounted(rest)
	if err != nil {
		return nil, &ProtocolError{Op: "fetch qrcode", Err: err}
	}
	if retcode != 0 || schema.Validate(schema.MsgQrFetch, t) != nil {
		c.emit(QrcodeErrorEvent{Result: QrcodeResult(retcode), Message: "fetch qrcode failed, retry"})
		return nil, &QrcodeError{Result: QrcodeResult(retcode)}
	}
	c.sig.SetQrSig(qrsig)
	image := t[schema.TagQrImage]
	logs.Infof("client.FetchQrcode uin=%d bytes=%d", c.cfg.Uin, len(image))
	c.emit(QrcodeEvent{Image: image})
	return image, nil
}

type qrScan struct {
	result QrcodeResult
	uin    uint32
	qr     session.QrResult
}

func (c *Client) queryQrcode(ctx context.Context) (qrScan, error) {
	if len(c.sig.Snapshot().QrSig) == 0 {
		return qrScan{}, ErrNoQrcode
	}
	if err := c.ensureConnected(ctx); err != nil {
		return qrScan{}, err
	}
	plain, err := c.handshake(ctx, c.qrRequest(qrQueryCmd, qrQueryHead, (*tlv.Packer).QrQueryBody))
	if err != nil {
		return qrScan{}, err
	}
	r := protocol.NewReader(plain)
	r.Skip(48)
	if n := int(int16(r.U16())); n > 0 {
		n--
		if r.U8() == 2 {
			r.Skip(8)
			n -= 8
		}
		if n > 0 {
			r.Skip(n)
		}
	}
	r.Skip(4)
	scan := qrScan{result: QrcodeResult(r.U8())}
	if scan.result != QrcodeConfirmed {
		if err := r.Err(); err != nil {
			return qrScan{}, &ProtocolError{Op: "query qrcode", Err: err}
		}
		return scan, nil
	}
	r.Skip(4)
	scan.uin = r.U32()
	r.Skip(6)
	rest := r.Rest()
	if err := r.Err(); err != nil {
		return qrScan{}, &ProtocolError{Op: "query qrcode", Err: err}
	}
	t, err := tlv.DecodeCounted(rest)
	if err != nil {
		return qrScan{}, &ProtocolError{Op: "query qrcode", Err: err}
	}
	if err := schema.Validate(schema.MsgQrConfirmed, t); err != nil {
		return qrScan{}, &ProtocolError{Op: "query qrcode", Err: err}
	}
	tgtgt, _ := tea.KeyFrom(t[schema.TagQrTGTGT])
	scan.qr = session.QrResult{
		T106:  t[schema.TagQrT106],
		T16A:  t[schema.TagQrT16A],
		T318:  t[schema.TagQrT318],
		TGTGT: tgtgt,
	}
	return scan, nil
}

// QueryQrcodeResult polls the scan state of the last fetched QR code.
func (c *Client) QueryQrcodeResult(ctx context.Context) (QrcodeResult, error) {
	if err := c.sideRequest(); err != nil {
		return 0, err
	}
	scan, err := c.queryQrcode(ctx)
	if err != nil {
		return 0, err
	}
	return scan.result, nil
}

// QrcodeLogin logs in with a confirmed QR code. Until the code is
// confirmed it returns a *QrcodeError with the current scan state.
func (c *Client) QrcodeLogin(ctx context.Context) error {
	return c.attempt(ctx, flowQrcode, func(ctx context.Context) error {
		scan, err := c.queryQrcode(ctx)
		if err != nil {
			return err
		}
		switch scan.result {
		case QrcodeConfirmed:
		case QrcodeTimeout, QrcodeCanceled:
			c.emit(QrcodeErrorEvent{Result: scan.result, Message: "qrcode " + scan.result.String()})
			return &QrcodeError{Result: scan.result}
		default:
			return &QrcodeError{Result: scan.result}
		}
		if scan.uin != c.cfg.Uin {
			return c.loginFailed(0, "[login failed]scanned account does not match")
		}
		c.sig.SetQrResult(scan.qr)
		return c.login(ctx, c.loginRequest(cmdLogin, (*tlv.Packer).QrLoginBody))
	})
}
