package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/msfcore/internal/device"
	"github.com/danmuck/msfcore/internal/protocol/jce"
	"github.com/danmuck/msfcore/internal/protocol/pb"
)

const (
	CmdRegister = "StatSvc.register"

	registerServant  = "PushService"
	registerFunction = "SvcReqRegister"
)

var ErrRegisterRejected = errors.New("session: registration rejected")

// BuildRegister encodes the registration body that marks the session live
// with the gateway, or removes it when logout is set.
func BuildRegister(uin uint32, dev *device.Device, logout bool, now time.Time) ([]byte, error) {
	pick := func(online, offline int) int {
		if logout {
			return offline
		}
		return online
	}
	ext, err := pb.Encode(pb.Message{
		1: []pb.Message{
			{1: 46, 2: now.Unix()},
			{1: 283, 2: 0},
		},
	})
	if err != nil {
		return nil, err
	}
	req := jce.NewStruct(
		int64(uin), pick(7, 0), 0, "", pick(11, 21), 0, 0, 0, 0, 0, pick(0, 44),
		dev.Version.SDK, 1, "", 0, nil, dev.GUID[:], 2052, 0,
		dev.Model, dev.Model, dev.Version.Release, 1, 0, 0, nil, 0, 0, "", 0,
		dev.Brand, dev.Brand, "", ext, 0, nil, 0, nil, 1000, 98,
	)
	return jce.EncodeWrapper(registerServant, registerFunction, registerFunction, req, 0)
}

// ParseRegisterResponse reports whether the gateway accepted the registration.
func ParseRegisterResponse(payload []byte) error {
	rsp, err := jce.DecodeWrapper(payload)
	if err != nil {
		return fmt.Errorf("session: decode register response: %w", err)
	}
	if rsp.Int(9) == 0 {
		return ErrRegisterRejected
	}
	return nil
}
