// Package session implements the authoritative call session state machine.
//
// The package models the engine's call lifecycle as a tagged union (Phase
// plus per-variant payload fields) driven by an explicit transition table.
// Exactly one state is active at any time; all transitions happen through
// Machine methods and illegal transitions are rejected without side effects.
package session

import (
	"fmt"
	"time"
)

// Phase identifies the active variant of the call state union.
type Phase string

const (
	// PhaseIdle indicates no call activity.
	PhaseIdle Phase = "idle"
	// PhaseConnecting indicates a locally accepted call waiting for the relay room.
	PhaseConnecting Phase = "connecting"
	// PhaseOutgoing indicates a dialed call waiting for the remote answer.
	PhaseOutgoing Phase = "outgoing"
	// PhaseIncoming indicates a received call waiting for the local answer.
	PhaseIncoming Phase = "incoming"
	// PhaseInCall indicates an active call joined to a relay room.
	PhaseInCall Phase = "in_call"
	// PhaseFailed indicates a terminal failure awaiting user dismissal.
	PhaseFailed Phase = "failed"
)

// State is a snapshot of the call state union.
//
// Only the payload fields belonging to the active Phase are meaningful:
// RemoteUserID for PhaseOutgoing; CallID, RemoteUserID, RemoteUserName and
// IsVideo for PhaseIncoming; RoomID for PhaseInCall; Reason for PhaseFailed.
type State struct {
	Phase          Phase
	RemoteUserID   string
	RemoteUserName string
	CallID         string
	RoomID         string
	IsVideo        bool
	Reason         string
}

// String returns a compact human-readable description of the state.
func (s State) String() string {
	switch s.Phase {
	case PhaseOutgoing:
		return fmt.Sprintf("outgoing(%s)", s.RemoteUserID)
	case PhaseIncoming:
		return fmt.Sprintf("incoming(%s)", s.CallID)
	case PhaseInCall:
		return fmt.Sprintf("in_call(%s)", s.RoomID)
	case PhaseFailed:
		return fmt.Sprintf("failed(%s)", s.Reason)
	default:
		return string(s.Phase)
	}
}

// StateChange describes one observed transition of the state machine.
type StateChange struct {
	Previous State
	Current  State
	At       time.Time
}
