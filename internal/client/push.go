package client

import (
	"fmt"

	logs "github.com/danmuck/msfcore/internal/logging"
	"github.com/danmuck/msfcore/internal/protocol/frame"
	"github.com/danmuck/msfcore/internal/protocol/jce"
)

// Pushes handled by the session itself.
const (
	cmdForceOffline  = "MessageSvc.PushForceOffline"
	cmdMSFOffline    = "StatSvc.ReqMSFOffline"
	cmdQualityTest   = "QualityTest.PushList"
	cmdTicketExpired = "OnlinePush.SidTicketExpired"
)

func (c *Client) handlePush(pkt *frame.Packet) {
	switch pkt.Cmd {
	case cmdForceOffline, cmdMSFOffline:
		reason, err := kickoffReason(pkt.Payload)
		if err != nil {
			logs.Warnf("client.push dropped malformed kickoff cmd=%s err=%v", pkt.Cmd, err)
			return
		}
		c.kickoff(reason)
		return
	case cmdQualityTest, cmdTicketExpired:
		if err := c.writeUni(pkt.Seq, pkt.Cmd, nil); err != nil {
			logs.Warnf("client.push ack failed cmd=%s seq=%d err=%v", pkt.Cmd, pkt.Seq, err)
		}
		return
	}
	c.emit(PushEvent{Cmd: pkt.Cmd, Seq: pkt.Seq, Payload: pkt.Payload})
}

// kickoffReason renders the "[title]message" text of an offline push. The
// MSF variant carries it in fields 4 and 3, the message variant in 1 and 2.
func kickoffReason(payload []byte) (string, error) {
	s, err := jce.DecodeWrapper(payload)
	if err != nil {
		return "", err
	}
	if title := s.String(4); title != "" {
		return fmt.Sprintf("[%s]%s", title, s.String(3)), nil
	}
	return fmt.Sprintf("[%s]%s", s.String(1), s.String(2)), nil
}

func (c *Client) kickoff(reason string) {
	c.mu.Lock()
	c.kicked = &KickoffError{Reason: reason}
	c.stopHeartbeatLocked()
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	logs.Warnf("client.kickoff uin=%d reason=%q", c.cfg.Uin, reason)
	c.emit(KickoffEvent{Reason: reason})
	_ = c.conn.Close()
}
