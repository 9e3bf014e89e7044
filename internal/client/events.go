package client

// Event is a session notification delivered on Client.Events.
type Event interface {
	event()
}

// QrcodeEvent carries a freshly fetched QR code image.
type QrcodeEvent struct {
	Image []byte
}

// SliderEvent asks the user to solve the slider at URL and submit the ticket.
type SliderEvent struct {
	URL string
}

// DeviceEvent asks for device verification, either at URL or by an SMS
// sent to Phone.
type DeviceEvent struct {
	URL   string
	Phone string
}

// TokenInvalidEvent means the credentials are unusable and a full login
// is needed.
type TokenInvalidEvent struct {
	Err error
}

type NetworkErrorEvent struct {
	Code    int
	Message string
}

type LoginErrorEvent struct {
	Code    int
	Message string
}

type QrcodeErrorEvent struct {
	Result  QrcodeResult
	Message string
}

// OnlineEvent fires once registration is accepted.
type OnlineEvent struct {
	Uin     uint32
	Profile Profile
}

// TokenEvent carries a newly issued token, from login or refresh. The
// token holds tgt, skey, d2 and d2key in that order, each prefixed by a
// big-endian u16 length, so field offsets vary with the credentials.
// Parse it with session.CredentialsFromToken rather than by offset.
type TokenEvent struct {
	Token []byte
}

type KickoffEvent struct {
	Reason string
}

// DisconnectEvent fires when the gateway connection closes. Reconnecting
// reports whether the client will try to restore the session.
type DisconnectEvent struct {
	Err          error
	Reconnecting bool
}

// PushEvent is an unsolicited service packet.
type PushEvent struct {
	Cmd     string
	Seq     uint32
	Payload []byte
}

func (QrcodeEvent) event()       {}
func (SliderEvent) event()       {}
func (DeviceEvent) event()       {}
func (TokenInvalidEvent) event() {}
func (NetworkErrorEvent) event() {}
func (LoginErrorEvent) event()   {}
func (QrcodeErrorEvent) event()  {}
func (OnlineEvent) event()       {}
func (TokenEvent) event()        {}
func (KickoffEvent) event()      {}
func (DisconnectEvent) event()   {}
func (PushEvent) event()         {}
