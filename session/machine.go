package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"
)

// Sentinel errors for state machine operations.
var (
	// ErrInvalidTransition indicates the requested event is not legal
	// from the current phase. Callers treat this as a no-op.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNotInCall indicates an operation that requires an active call.
	ErrNotInCall = errors.New("no active call")
)

// State machine events. Each row of the transition table below corresponds
// to one edge of the call lifecycle.
const (
	eventDial          = "dial"
	eventIncoming      = "incoming"
	eventRequestFailed = "request_failed"
	eventCancel        = "cancel"
	eventTimeout       = "timeout"
	eventAccept        = "accept"
	eventReject        = "reject"
	eventJoined        = "joined"
	eventEnded         = "ended"
	eventHangup        = "hangup"
	eventFail          = "fail"
	eventDismiss       = "dismiss"
)

// Machine is the authoritative model of the current call.
//
// It owns the session payload, the in-call message list and the transition
// table. All mutation goes through the event methods; illegal events return
// ErrInvalidTransition and leave the machine untouched, which makes the
// machine idempotent against duplicate signaling delivery.
type Machine struct {
	mu       sync.Mutex
	fsm      *fsm.FSM
	session  *Session
	reason   string
	messages []Message

	stateCb func(StateChange)
	ignored uint64

	now func() time.Time
}

// NewMachine creates a machine in PhaseIdle.
func NewMachine() *Machine {
	m := &Machine{now: time.Now}
	m.fsm = fsm.NewFSM(
		string(PhaseIdle),
		fsm.Events{
			{Name: eventDial, Src: []string{string(PhaseIdle)}, Dst: string(PhaseOutgoing)},
			{Name: eventIncoming, Src: []string{string(PhaseIdle)}, Dst: string(PhaseIncoming)},
			{Name: eventRequestFailed, Src: []string{string(PhaseOutgoing)}, Dst: string(PhaseFailed)},
			{Name: eventCancel, Src: []string{string(PhaseOutgoing), string(PhaseIncoming)}, Dst: string(PhaseIdle)},
			{Name: eventTimeout, Src: []string{string(PhaseOutgoing), string(PhaseIncoming)}, Dst: string(PhaseIdle)},
			{Name: eventAccept, Src: []string{string(PhaseIncoming)}, Dst: string(PhaseConnecting)},
			{Name: eventReject, Src: []string{string(PhaseIncoming)}, Dst: string(PhaseIdle)},
			{Name: eventJoined, Src: []string{string(PhaseOutgoing), string(PhaseConnecting)}, Dst: string(PhaseInCall)},
			{Name: eventEnded, Src: []string{string(PhaseInCall)}, Dst: string(PhaseIdle)},
			{Name: eventHangup, Src: []string{string(PhaseInCall)}, Dst: string(PhaseIdle)},
			{Name: eventFail, Src: []string{
				string(PhaseIdle), string(PhaseOutgoing), string(PhaseIncoming),
				string(PhaseConnecting), string(PhaseInCall),
			}, Dst: string(PhaseFailed)},
			{Name: eventDismiss, Src: []string{string(PhaseFailed)}, Dst: string(PhaseIdle)},
		},
		nil,
	)
	return m
}

// SetStateCallback registers the observer notified after every successful
// transition. The callback runs outside the machine lock.
func (m *Machine) SetStateCallback(cb func(StateChange)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateCb = cb
}

// apply attempts one transition. mutate runs under the lock only after the
// transition table accepted the event.
func (m *Machine) apply(event string, mutate func()) error {
	m.mu.Lock()
	prev := m.snapshotLocked()

	if err := m.fsm.Event(context.Background(), event); err != nil {
		m.ignored++
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Machine.apply",
			"event":    event,
			"phase":    prev.Phase,
		}).Debug("Ignoring event not legal in current phase")
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, prev.Phase)
	}

	if mutate != nil {
		mutate()
	}

	cur := m.snapshotLocked()
	cb := m.stateCb
	at := m.now()
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Machine.apply",
		"event":    event,
		"from":     prev.Phase,
		"to":       cur.Phase,
	}).Info("Call state transition")

	if cb != nil {
		cb(StateChange{Previous: prev, Current: cur, At: at})
	}
	return nil
}

// clearLocked drops the session payload and message history. Called on
// every transition back to idle.
func (m *Machine) clearLocked() {
	m.session = nil
	m.reason = ""
	m.messages = nil
}

// Dial moves idle -> outgoing for a locally initiated call.
func (m *Machine) Dial(sess *Session) error {
	return m.apply(eventDial, func() { m.session = sess })
}

// Incoming moves idle -> incoming for a remotely initiated call.
func (m *Machine) Incoming(sess *Session) error {
	return m.apply(eventIncoming, func() { m.session = sess })
}

// RequestFailed moves outgoing -> failed with the server-supplied reason.
func (m *Machine) RequestFailed(reason string) error {
	return m.apply(eventRequestFailed, func() {
		m.session = nil
		m.reason = reason
	})
}

// Cancel clears an unanswered call: outgoing -> idle for a self-initiated
// cancellation, incoming -> idle when the caller withdrew.
func (m *Machine) Cancel() error {
	return m.apply(eventCancel, m.clearLocked)
}

// Timeout clears an unanswered call on either side after a server-side
// ring timeout.
func (m *Machine) Timeout() error {
	return m.apply(eventTimeout, m.clearLocked)
}

// Accept moves incoming -> connecting. A second Accept for the same call
// finds the machine in connecting and is rejected, which guarantees the
// accept response is emitted at most once per call.
func (m *Machine) Accept() error {
	return m.apply(eventAccept, nil)
}

// Reject moves incoming -> idle.
func (m *Machine) Reject() error {
	return m.apply(eventReject, m.clearLocked)
}

// Joined moves outgoing or connecting -> in_call once the relay room is
// known. Duplicate join events while already in_call are rejected.
func (m *Machine) Joined(roomID string) error {
	return m.apply(eventJoined, func() {
		if m.session != nil {
			m.session.RoomID = roomID
		}
	})
}

// Ended moves in_call -> idle after a remote hang-up.
func (m *Machine) Ended() error {
	return m.apply(eventEnded, m.clearLocked)
}

// HangUp moves in_call -> idle for a local hang-up. Calling it again once
// idle returns ErrInvalidTransition without side effects.
func (m *Machine) HangUp() error {
	return m.apply(eventHangup, m.clearLocked)
}

// Fail moves any non-failed phase -> failed with the given reason.
func (m *Machine) Fail(reason string) error {
	return m.apply(eventFail, func() {
		m.session = nil
		m.messages = nil
		m.reason = reason
	})
}

// Dismiss moves failed -> idle after the user acknowledged the failure.
func (m *Machine) Dismiss() error {
	return m.apply(eventDismiss, m.clearLocked)
}

// snapshotLocked builds a State from the current fsm phase and payload.
func (m *Machine) snapshotLocked() State {
	st := State{Phase: Phase(m.fsm.Current())}
	switch st.Phase {
	case PhaseOutgoing:
		if m.session != nil {
			st.RemoteUserID = m.session.RemoteUserID
			st.RemoteUserName = m.session.RemoteUserName
			st.IsVideo = m.session.IsVideo
		}
	case PhaseIncoming, PhaseConnecting:
		if m.session != nil {
			st.CallID = m.session.CallID
			st.RemoteUserID = m.session.RemoteUserID
			st.RemoteUserName = m.session.RemoteUserName
			st.IsVideo = m.session.IsVideo
		}
	case PhaseInCall:
		if m.session != nil {
			st.RoomID = m.session.RoomID
			st.RemoteUserID = m.session.RemoteUserID
			st.RemoteUserName = m.session.RemoteUserName
			st.IsVideo = m.session.IsVideo
		}
	case PhaseFailed:
		st.Reason = m.reason
	}
	return st
}

// State returns a snapshot of the current state union.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Phase returns the active phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Phase(m.fsm.Current())
}

// Session returns a copy of the active session, or nil when idle or failed.
func (m *Machine) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	sess := *m.session
	return &sess
}

// SetCallID records the server-assigned call identifier. The caller only
// learns it from the answer event, after the session already exists.
func (m *Machine) SetCallID(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.session.CallID = callID
	}
}

// AppendMessage appends one chat or notice message to the in-call history.
// Messages are only accepted while a call is active.
func (m *Machine) AppendMessage(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if Phase(m.fsm.Current()) != PhaseInCall {
		return ErrNotInCall
	}
	m.messages = append(m.messages, msg)
	return nil
}

// Messages returns a copy of the in-call message history.
func (m *Machine) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// IgnoredEvents returns how many events were rejected as illegal edges.
func (m *Machine) IgnoredEvents() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ignored
}
