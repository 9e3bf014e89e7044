package client

import (
	"errors"
	"fmt"
)

var (
	ErrUinRequired     = errors.New("client: uin required")
	ErrLoginInProgress = errors.New("client: login already in progress")
	ErrAlreadyOnline   = errors.New("client: already online")
	ErrTokenExpired    = errors.New("client: token expired")
	ErrNoQrcode        = errors.New("client: no qrcode fetched")
	ErrClosed          = errors.New("client: terminated")
)

// Rejection codes carried by RejectionError.
const (
	CodeNotOnline = -1
	CodeTimeout   = -2
	CodeNetwork   = -3
)

// RejectionError is a call the gateway never answered: not online, timed
// out or not writable. The caller may retry.
type RejectionError struct {
	Code    int
	Message string
	Err     error
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("client: rejected code=%d: %s", e.Code, e.Message)
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}

// ProtocolError is an inbound packet that could not be decoded. It is fatal
// to the current credentials.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("client: %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// LoginError is a login the gateway refused. Message carries the gateway's
// "[title]detail" text when it sent one.
type LoginError struct {
	Code    int
	Message string
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("client: login failed code=%d: %s", e.Code, e.Message)
}

// VerificationKind names the artifact a login is waiting for.
type VerificationKind int

const (
	VerifySlider VerificationKind = iota + 1
	VerifyDevice
	VerifySMS
)

func (k VerificationKind) String() string {
	switch k {
	case VerifySlider:
		return "slider"
	case VerifyDevice:
		return "device"
	case VerifySMS:
		return "sms"
	default:
		return "unknown"
	}
}

// VerificationError pauses a login until the caller supplies the missing
// artifact through SubmitSlider, SubmitSmsCode or Continue.
type VerificationError struct {
	Kind  VerificationKind
	URL   string
	Phone string
}

func (e *VerificationError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("client: %s verification required", e.Kind)
	}
	return fmt.Sprintf("client: %s verification required url=%s", e.Kind, e.URL)
}

// KickoffError is returned by calls made after the gateway invalidated the
// session.
type KickoffError struct {
	Reason string
}

func (e *KickoffError) Error() string {
	return "client: kicked off: " + e.Reason
}

// QrcodeError reports a QR login that cannot proceed yet or any more.
type QrcodeError struct {
	Result QrcodeResult
}

func (e *QrcodeError) Error() string {
	return "client: qrcode " + e.Result.String()
}
