// Package schema checks that login responses carry the tags each outcome
// depends on before the state machine reads them.
package schema

import (
	"fmt"

	logs "github.com/danmuck/msfcore/internal/logging"
	"github.com/danmuck/msfcore/internal/protocol/tlv"
)

// Response kinds with required tags.
const (
	MsgLoginSuccess uint32 = 1
	MsgCredentials  uint32 = 2
	MsgSlider       uint32 = 3
	MsgDeviceLock   uint32 = 4
	MsgUnlock       uint32 = 5
	MsgQrFetch      uint32 = 6
	MsgQrConfirmed  uint32 = 7
)

// Tags read by the login flows.
const (
	TagT104      uint16 = 0x104
	TagTGT       uint16 = 0x10A
	TagProfile   uint16 = 0x11A
	TagSigBlock  uint16 = 0x119
	TagSKey      uint16 = 0x120
	TagD2        uint16 = 0x143
	TagError146  uint16 = 0x146
	TagError149  uint16 = 0x149
	TagT174      uint16 = 0x174
	TagPhone     uint16 = 0x178
	TagSliderURL uint16 = 0x192
	TagVerifyURL uint16 = 0x204
	TagD2Key     uint16 = 0x305
	TagCookies   uint16 = 0x512

	TagQrImage uint16 = 0x17
	TagQrT106  uint16 = 0x18
	TagQrT16A  uint16 = 0x19
	TagQrTGTGT uint16 = 0x1E
	TagQrT318  uint16 = 0x65
)

// Requirement is one mandatory tag. Len, when non-zero, is the exact
// payload length.
type Requirement struct {
	Tag uint16
	Len int
}

type ValidationError struct {
	MessageType uint32
	Tag         uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.Tag == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d tag=0x%x: %s", e.MessageType, e.Tag, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgLoginSuccess: {
		{Tag: TagSigBlock},
	},
	MsgCredentials: {
		{Tag: TagTGT},
		{Tag: TagSKey},
		{Tag: TagD2},
		{Tag: TagD2Key, Len: 16},
	},
	MsgSlider: {
		{Tag: TagT104},
		{Tag: TagSliderURL},
	},
	MsgDeviceLock: {
		{Tag: TagT104},
	},
	MsgUnlock: {
		{Tag: TagT104},
	},
	MsgQrFetch: {
		{Tag: TagQrImage},
	},
	MsgQrConfirmed: {
		{Tag: TagQrT106},
		{Tag: TagQrT16A},
		{Tag: TagQrT318},
		{Tag: TagQrTGTGT, Len: 16},
	},
}

// Validate enforces required tags for a message type. Extra tags are ignored.
func Validate(messageType uint32, m tlv.Map) error {
	logs.Debugf("schema.Validate message_type=%d tags=%d", messageType, len(m))
	reqs, ok := requirements[messageType]
	if !ok {
		logs.Errf("schema.Validate unknown message_type=%d", messageType)
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		v, found := m.Get(req.Tag)
		if !found {
			logs.Errf("schema.Validate missing tag message_type=%d tag=0x%x", messageType, req.Tag)
			return ValidationError{MessageType: messageType, Tag: req.Tag, Reason: "missing required tag"}
		}
		if req.Len != 0 && len(v) != req.Len {
			logs.Errf(
				"schema.Validate length mismatch message_type=%d tag=0x%x got=%d want=%d",
				messageType,
				req.Tag,
				len(v),
				req.Len,
			)
			return ValidationError{MessageType: messageType, Tag: req.Tag, Reason: "length mismatch"}
		}
	}
	logs.Debugf("schema.Validate ok message_type=%d", messageType)
	return nil
}
