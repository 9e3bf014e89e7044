package client

// State is the lifecycle position of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshake
	StateAwaitingVerification
	StateOnline
	StateOfflineRetrying
	StateLoginError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshake:
		return "handshake"
	case StateAwaitingVerification:
		return "awaiting_verification"
	case StateOnline:
		return "online"
	case StateOfflineRetrying:
		return "offline_retrying"
	case StateLoginError:
		return "login_error"
	default:
		return "unknown"
	}
}

// busy reports whether a login or reconnect owns the session state.
func (s State) busy() bool {
	return s == StateConnecting || s == StateHandshake || s == StateOfflineRetrying
}

// QrcodeResult is the scan state reported by a QR poll.
type QrcodeResult uint8

const (
	QrcodeConfirmed         QrcodeResult = 0x00
	QrcodeTimeout           QrcodeResult = 0x11
	QrcodeWaitingForScan    QrcodeResult = 0x30
	QrcodeWaitingForConfirm QrcodeResult = 0x35
	QrcodeCanceled          QrcodeResult = 0x36
)

func (r QrcodeResult) String() string {
	switch r {
	case QrcodeConfirmed:
		return "confirmed"
	case QrcodeTimeout:
		return "timeout"
	case QrcodeWaitingForScan:
		return "waiting_for_scan"
	case QrcodeWaitingForConfirm:
		return "waiting_for_confirm"
	case QrcodeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Profile is the account summary returned with a successful login.
type Profile struct {
	Nickname string
	Age      uint8
	Gender   uint8
}
