package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrTimeout  = errors.New("session: call timed out")
	ErrSeqInUse = errors.New("session: sequence number already pending")
)

// Result settles one pending call.
type Result struct {
	Payload []byte
	Err     error
}

type pendingCall struct {
	ch    chan Result
	timer *time.Timer
}

// PendingTable maps outstanding sequence numbers to their waiters. An entry
// settles exactly once, by response, timeout or cancel.
type PendingTable struct {
	mu    sync.Mutex
	items map[uint32]*pendingCall
}

func NewPendingTable() *PendingTable {
	return &PendingTable{items: make(map[uint32]*pendingCall)}
}

// Add registers seq to time out after timeout. The returned channel
// receives exactly one Result.
func (p *PendingTable) Add(seq uint32, timeout time.Duration) (<-chan Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.items[seq]; ok {
		return nil, fmt.Errorf("%w: seq=%d", ErrSeqInUse, seq)
	}
	call := &pendingCall{ch: make(chan Result, 1)}
	call.timer = time.AfterFunc(timeout, func() {
		p.settle(seq, call, Result{Err: ErrTimeout})
	})
	p.items[seq] = call
	return call.ch, nil
}

// Resolve delivers payload to the waiter for seq. It reports false when no
// entry is live, in which case the payload belongs to the push path.
func (p *PendingTable) Resolve(seq uint32, payload []byte) bool {
	p.mu.Lock()
	call, ok := p.items[seq]
	p.mu.Unlock()
	if !ok {
		return false
	}
	return p.settle(seq, call, Result{Payload: payload})
}

// Fail settles seq with err, used when the request never left the socket
// or the caller gave up.
func (p *PendingTable) Fail(seq uint32, err error) bool {
	p.mu.Lock()
	call, ok := p.items[seq]
	p.mu.Unlock()
	if !ok {
		return false
	}
	return p.settle(seq, call, Result{Err: err})
}

func (p *PendingTable) settle(seq uint32, call *pendingCall, r Result) bool {
	p.mu.Lock()
	if p.items[seq] != call {
		p.mu.Unlock()
		return false
	}
	delete(p.items, seq)
	p.mu.Unlock()
	call.timer.Stop()
	call.ch <- r
	return true
}

func (p *PendingTable) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}
