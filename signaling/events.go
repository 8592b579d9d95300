// Package signaling implements the client side of the call-control and
// media-relay protocol: a persistent websocket connection carrying JSON
// envelopes of the form {"event": <name>, "data": <payload>}.
//
// Control events are fire-and-forget and idempotent from the receiver's
// perspective; media-frame events are best-effort with tolerated loss, so
// no acknowledgement tracking exists for either.
package signaling

// Client-emitted events.
const (
	// EventRegister announces presence after every successful connect.
	EventRegister = "register"
	// EventCallRequest initiates an outgoing call.
	EventCallRequest = "call-request"
	// EventCallResponse accepts or rejects an incoming call.
	EventCallResponse = "call-response"
	// EventJoinCall enters the relay room.
	EventJoinCall = "join-call"
	// EventLeaveCall announces an explicit local hang-up.
	EventLeaveCall = "leave-call"
	// EventCancelCall cancels an outgoing call before the answer.
	EventCancelCall = "cancel-call"
	// EventMediaFrame relays one video frame or audio chunk.
	EventMediaFrame = "media-frame"
	// EventCallMessage carries in-call text chat.
	EventCallMessage = "call-message"
)

// Server-emitted events.
const (
	EventRegisterSuccess   = "register-success"
	EventRegisterError     = "register-error"
	EventIncomingCall      = "incoming-call"
	EventCallStarted       = "call-started"
	EventCallRequestFailed = "call-request-failed"
	EventJoinCallRoom      = "join-call-room"
	EventCallCancelled     = "call-cancelled"
	EventCallTimeout       = "call-timeout"
	EventCallEnded         = "call-ended"
	EventNetworkMetrics    = "network-metrics"
	EventDebugMediaInfo    = "debug-media-info"
)

// Media frame payload types.
const (
	MediaTypeVideo = "video"
	MediaTypeAudio = "audio"
)

// RegisterPayload announces the local user after connect.
type RegisterPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// RegisterErrorPayload reports a rejected registration.
type RegisterErrorPayload struct {
	Reason string `json:"reason"`
}

// CallRequestPayload initiates an outgoing call to another user.
type CallRequestPayload struct {
	RoomID       string `json:"roomId"`
	FromUserID   string `json:"fromUserId"`
	FromUserName string `json:"fromUserName"`
	ToUserID     string `json:"toUserId"`
	IsVideoCall  bool   `json:"isVideoCall"`
}

// CallResponsePayload accepts or rejects a pending call. The same shape is
// received by the caller when the remote side answers.
type CallResponsePayload struct {
	CallID   string `json:"callId"`
	Accepted bool   `json:"accepted"`
}

// JoinCallPayload enters the relay room for an accepted call.
type JoinCallPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// LeaveCallPayload announces a local hang-up.
type LeaveCallPayload struct {
	RoomID string `json:"roomId"`
}

// CancelCallPayload withdraws an unanswered outgoing call.
type CancelCallPayload struct {
	CallID string `json:"callId"`
}

// MediaFramePayload relays one media unit scoped to a room. FrameData
// carries base64 video frames, AudioData base64 audio chunks; exactly one
// is set depending on Type.
type MediaFramePayload struct {
	RoomID    string `json:"roomId"`
	Type      string `json:"type"`
	FrameData string `json:"frameData,omitempty"`
	AudioData string `json:"audioData,omitempty"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Timestamp int64  `json:"timestamp"`
}

// CallMessagePayload carries one line of in-call chat.
type CallMessagePayload struct {
	RoomID   string `json:"roomId"`
	Message  string `json:"message"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// IncomingCallPayload notifies the callee of a pending call.
type IncomingCallPayload struct {
	CallID       string `json:"callId"`
	RoomID       string `json:"roomId"`
	FromUserID   string `json:"fromUserId"`
	FromUserName string `json:"fromUserName"`
	IsVideoCall  bool   `json:"isVideoCall"`
	Timestamp    int64  `json:"timestamp"`
}

// CallRequestFailedPayload reports why an outgoing call could not be
// placed.
type CallRequestFailedPayload struct {
	Reason string `json:"reason"`
}

// JoinCallRoomPayload instructs both parties to enter the relay room.
type JoinCallRoomPayload struct {
	RoomID string `json:"roomId"`
	CallID string `json:"callId"`
}

// CallEndedPayload reports the remote termination of an active call.
type CallEndedPayload struct {
	Reason string `json:"reason"`
}

// NetworkMetricsPayload is informational server-side telemetry.
type NetworkMetricsPayload struct {
	PacketLoss float64 `json:"packetLoss"`
	Latency    float64 `json:"latency"`
	Bandwidth  float64 `json:"bandwidth"`
}
