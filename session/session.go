package session

import "time"

// Session identifies one call attempt or active call.
//
// A session is created on an outgoing dial or on receipt of an incoming
// call event and cleared when the machine returns to idle. At most one
// non-idle session exists per machine at any time.
type Session struct {
	CallID         string
	RoomID         string
	LocalUserID    string
	LocalUserName  string
	RemoteUserID   string
	RemoteUserName string
	IsVideo        bool
	CreatedAt      time.Time
}

// Message is one line of in-call text chat, scoped to the lifetime of a
// single active call. Locally generated notices (for example the quality
// controller's audio-only fallback notice) are flagged IsLocal like sent
// chat.
type Message struct {
	Text           string
	SenderUserID   string
	SenderUserName string
	Timestamp      time.Time
	IsLocal        bool
}
