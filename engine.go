package relaycall

import (
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/relaycall/media/audio"
	"github.com/opd-ai/relaycall/media/video"
	"github.com/opd-ai/relaycall/metrics"
	"github.com/opd-ai/relaycall/playback"
	"github.com/opd-ai/relaycall/quality"
	"github.com/opd-ai/relaycall/session"
	"github.com/opd-ai/relaycall/signaling"
)

// Signaler is the engine's view of the signaling connection. The websocket
// client satisfies it; tests substitute an in-memory fake.
type Signaler interface {
	On(event string, handler signaling.Handler)
	SetStatusCallback(cb func(connected bool))
	SetReconnectFailedCallback(cb func())
	Connect() error
	Send(event string, payload interface{}) error
	IsConnected() bool
	Close() error
}

// Engine ties the call components together behind one facade: signaling,
// the call state machine, capture producers, the quality loop and playback.
//
// Commands are safe to call from any goroutine. Producers run exactly while
// a call is active; entering in_call starts them and leaving it stops them
// and releases every device before the transition is reported.
type Engine struct {
	userID   string
	userName string

	machine    *session.Machine
	signaler   Signaler
	audio      *audio.Producer
	video      *video.Producer
	sampler    *quality.Sampler
	controller *quality.Controller
	sink       *playback.Sink
	collector  *metrics.Collector
	encoder    audio.Encoder

	mu          sync.Mutex
	closed      bool
	forwardStop chan struct{}
	forwardWg   sync.WaitGroup

	stateCb        func(session.StateChange)
	messageCb      func(session.Message)
	connectivityCb func(connected bool)
	speakingCb     func(speaking bool)

	deviceErrs chan error
}

// NewEngine builds an engine from the given options. No device or network
// resource is acquired until Start.
func NewEngine(opts *Options) (*Engine, error) {
	if opts == nil || opts.UserID == "" {
		return nil, ErrMissingIdentity
	}
	if opts.ServerURL == "" && opts.Signaler == nil {
		return nil, ErrMissingIdentity
	}

	e := &Engine{
		userID:     opts.UserID,
		userName:   opts.UserName,
		machine:    session.NewMachine(),
		audio:      audio.NewProducer(opts.OpenMic, opts.Audio),
		video:      video.NewProducer(opts.Cameras, opts.Video),
		sampler:    quality.NewSampler(opts.Connection, opts.Sampler),
		sink:       playback.NewSink(opts.AudioOutput, opts.Sink),
		collector:  metrics.NewCollector(),
		encoder:    audio.NewPCMEncoder(),
		deviceErrs: make(chan error, 8),
	}

	e.machine.SetStateCallback(e.handleStateChange)
	e.audio.SetSpeakingCallback(e.handleSpeaking)
	e.audio.SetErrorCallback(e.handleMicError)
	e.video.SetErrorCallback(e.pushDeviceError)

	e.controller = quality.NewController(e.video, e.inVideoCall)
	e.controller.SetNoticeCallback(e.handleQualityNotice)
	e.sampler.SetTierCallback(func(tier quality.Tier, transport string) {
		e.controller.HandleTierChange(tier)
	})

	sig := opts.Signaler
	if sig == nil {
		sig = signaling.NewClient(opts.ServerURL, opts.UserID, opts.UserName, opts.Dial)
	}
	e.signaler = sig
	e.registerHandlers()
	sig.SetStatusCallback(e.handleConnectivity)
	sig.SetReconnectFailedCallback(e.handleReconnectFailed)

	return e, nil
}

// Start connects to the signaling server and registers the local user.
func (e *Engine) Start() error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrEngineClosed
	}
	return e.signaler.Connect()
}

// Close hangs up any active call, releases all devices and shuts down the
// signaling connection. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	_ = e.HangUp()
	return e.signaler.Close()
}

// SetStateCallback registers the observer of call state transitions.
func (e *Engine) SetStateCallback(cb func(session.StateChange)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stateCb = cb
}

// SetMessageCallback registers the observer of in-call messages, both chat
// and local notices.
func (e *Engine) SetMessageCallback(cb func(session.Message)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messageCb = cb
}

// SetConnectivityCallback registers the observer of signaling connectivity.
func (e *Engine) SetConnectivityCallback(cb func(connected bool)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connectivityCb = cb
}

// SetSpeakingCallback registers the observer of local voice activity.
func (e *Engine) SetSpeakingCallback(cb func(speaking bool)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speakingCb = cb
}

// Dial places an outgoing call. The relay room identifier is minted locally
// and travels with the request.
func (e *Engine) Dial(toUserID, toUserName string, isVideo bool) error {
	roomID := "room_" + uuid.NewString()
	sess := &session.Session{
		RoomID:         roomID,
		LocalUserID:    e.userID,
		LocalUserName:  e.userName,
		RemoteUserID:   toUserID,
		RemoteUserName: toUserName,
		IsVideo:        isVideo,
		CreatedAt:      time.Now(),
	}
	if err := e.machine.Dial(sess); err != nil {
		return err
	}

	err := e.signaler.Send(signaling.EventCallRequest, signaling.CallRequestPayload{
		RoomID:       roomID,
		FromUserID:   e.userID,
		FromUserName: e.userName,
		ToUserID:     toUserID,
		IsVideoCall:  isVideo,
	})
	if err != nil {
		_ = e.machine.Fail("connection failed")
		return err
	}
	return nil
}

// Accept answers the pending incoming call. The accept response is emitted
// at most once per call; a duplicate Accept is rejected by the state
// machine before anything reaches the wire.
func (e *Engine) Accept() error {
	if err := e.machine.Accept(); err != nil {
		return err
	}

	err := e.signaler.Send(signaling.EventCallResponse, signaling.CallResponsePayload{
		CallID:   e.machine.State().CallID,
		Accepted: true,
	})
	if err != nil {
		_ = e.machine.Fail("connection failed")
		return err
	}
	return nil
}

// Reject declines the pending incoming call.
func (e *Engine) Reject() error {
	sess := e.machine.Session()
	if err := e.machine.Reject(); err != nil {
		return err
	}

	callID := ""
	if sess != nil {
		callID = sess.CallID
	}
	return e.signaler.Send(signaling.EventCallResponse, signaling.CallResponsePayload{
		CallID:   callID,
		Accepted: false,
	})
}

// Cancel withdraws an outgoing call before the remote side answers.
func (e *Engine) Cancel() error {
	sess := e.machine.Session()
	if err := e.machine.Cancel(); err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	return e.signaler.Send(signaling.EventCancelCall, signaling.CancelCallPayload{
		CallID: sess.CallID,
	})
}

// HangUp terminates the active call. Every device is released before the
// idle transition is reported, and the room departure is announced only for
// this local hang-up path. Calling HangUp with no active call is a no-op.
func (e *Engine) HangUp() error {
	sess := e.machine.Session()
	if err := e.machine.HangUp(); err != nil {
		return nil
	}
	if sess != nil {
		if err := e.signaler.Send(signaling.EventLeaveCall, signaling.LeaveCallPayload{RoomID: sess.RoomID}); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Engine.HangUp",
				"error":    err.Error(),
			}).Warn("Leave announcement failed")
		}
	}
	return nil
}

// Dismiss acknowledges a failed call and returns to idle.
func (e *Engine) Dismiss() error {
	return e.machine.Dismiss()
}

// SendMessage sends one line of in-call chat to the remote participant and
// records it in the local history.
func (e *Engine) SendMessage(text string) error {
	sess := e.machine.Session()
	if sess == nil || e.machine.Phase() != session.PhaseInCall {
		return session.ErrNotInCall
	}

	msg := session.Message{
		Text:           text,
		SenderUserID:   e.userID,
		SenderUserName: e.userName,
		Timestamp:      time.Now(),
		IsLocal:        true,
	}
	if err := e.machine.AppendMessage(msg); err != nil {
		return err
	}

	err := e.signaler.Send(signaling.EventCallMessage, signaling.CallMessagePayload{
		RoomID:   sess.RoomID,
		Message:  text,
		UserID:   e.userID,
		UserName: e.userName,
	})
	if err != nil {
		return err
	}

	e.collector.MessagesExchanged.WithLabelValues("outbound").Inc()
	e.notifyMessage(msg)
	return nil
}

// ToggleVideo flips outgoing video production and returns the new streaming
// state. Re-enabling after an audio-only degrade reopens the camera.
func (e *Engine) ToggleVideo() bool {
	target := !e.video.IsStreaming()
	if target && !e.video.IsRunning() && e.machine.Phase() == session.PhaseInCall {
		if err := e.video.Start(); err != nil {
			e.pushDeviceError(err)
			return false
		}
	}
	e.video.SetEnabled(target)
	return e.IsVideoStreaming()
}

// ToggleAudio flips the microphone mute and returns the new streaming
// state. Capture keeps running while muted so unmuting is instant.
func (e *Engine) ToggleAudio() bool {
	e.audio.SetEnabled(!e.audio.IsEnabled())
	return e.IsAudioStreaming()
}

// SwitchCamera swaps between the front and back camera mid-call.
func (e *Engine) SwitchCamera() error {
	return e.video.SwitchCamera()
}

// SetAdaptiveQuality toggles automatic stream reshaping on tier changes.
func (e *Engine) SetAdaptiveQuality(enabled bool) {
	e.controller.SetAdaptive(enabled)
}

// State returns a snapshot of the call state union.
func (e *Engine) State() session.State {
	return e.machine.State()
}

// Phase returns the active call phase.
func (e *Engine) Phase() session.Phase {
	return e.machine.Phase()
}

// Messages returns a copy of the in-call message history.
func (e *Engine) Messages() []session.Message {
	return e.machine.Messages()
}

// IsVideoStreaming reports whether outgoing video frames are produced.
func (e *Engine) IsVideoStreaming() bool {
	return e.machine.Phase() == session.PhaseInCall && e.video.IsStreaming()
}

// IsAudioStreaming reports whether outgoing audio is captured and unmuted.
func (e *Engine) IsAudioStreaming() bool {
	return e.machine.Phase() == session.PhaseInCall && e.audio.IsRunning() && e.audio.IsEnabled()
}

// IsConnected reports signaling connectivity.
func (e *Engine) IsConnected() bool {
	return e.signaler.IsConnected()
}

// LatestRemoteFrame returns the most recent remote video frame, or nil.
func (e *Engine) LatestRemoteFrame() *playback.RemoteFrame {
	return e.sink.LatestFrame()
}

// DeviceErrors returns the channel carrying device faults that did not
// terminate the call, such as a missing camera on a video call.
func (e *Engine) DeviceErrors() <-chan error {
	return e.deviceErrs
}

// Metrics returns the engine's Prometheus collector.
func (e *Engine) Metrics() *metrics.Collector {
	return e.collector
}

// registerHandlers binds every server event to its handler. Handlers run
// sequentially on the signaling dispatch goroutine.
func (e *Engine) registerHandlers() {
	e.signaler.On(signaling.EventRegisterSuccess, e.onRegisterSuccess)
	e.signaler.On(signaling.EventRegisterError, e.onRegisterError)
	e.signaler.On(signaling.EventIncomingCall, e.onIncomingCall)
	e.signaler.On(signaling.EventCallStarted, e.onCallStarted)
	e.signaler.On(signaling.EventCallRequestFailed, e.onCallRequestFailed)
	e.signaler.On(signaling.EventCallResponse, e.onCallResponse)
	e.signaler.On(signaling.EventJoinCallRoom, e.onJoinCallRoom)
	e.signaler.On(signaling.EventCallCancelled, e.onCallCancelled)
	e.signaler.On(signaling.EventCallTimeout, e.onCallTimeout)
	e.signaler.On(signaling.EventCallEnded, e.onCallEnded)
	e.signaler.On(signaling.EventMediaFrame, e.onMediaFrame)
	e.signaler.On(signaling.EventCallMessage, e.onCallMessage)
	e.signaler.On(signaling.EventNetworkMetrics, e.onNetworkMetrics)
	e.signaler.On(signaling.EventDebugMediaInfo, e.onDebugMediaInfo)
}

func (e *Engine) onRegisterSuccess(data json.RawMessage) {
	logrus.WithFields(logrus.Fields{
		"function": "Engine.onRegisterSuccess",
		"user_id":  e.userID,
	}).Info("Registered with signaling server")
}

func (e *Engine) onRegisterError(data json.RawMessage) {
	var p signaling.RegisterErrorPayload
	_ = json.Unmarshal(data, &p)
	logrus.WithFields(logrus.Fields{
		"function": "Engine.onRegisterError",
		"reason":   p.Reason,
	}).Warn("Registration rejected")
}

func (e *Engine) onIncomingCall(data json.RawMessage) {
	var p signaling.IncomingCallPayload
	if err := json.Unmarshal(data, &p); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.onIncomingCall",
			"error":    err.Error(),
		}).Warn("Dropping malformed incoming-call payload")
		return
	}

	sess := &session.Session{
		CallID:         p.CallID,
		RoomID:         p.RoomID,
		LocalUserID:    e.userID,
		LocalUserName:  e.userName,
		RemoteUserID:   p.FromUserID,
		RemoteUserName: p.FromUserName,
		IsVideo:        p.IsVideoCall,
		CreatedAt:      time.Now(),
	}
	if err := e.machine.Incoming(sess); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.onIncomingCall",
			"call_id":  p.CallID,
		}).Debug("Ignoring incoming call while busy")
	}
}

func (e *Engine) onCallStarted(data json.RawMessage) {
	logrus.WithFields(logrus.Fields{
		"function": "Engine.onCallStarted",
	}).Debug("Call started on server")
}

func (e *Engine) onCallRequestFailed(data json.RawMessage) {
	var p signaling.CallRequestFailedPayload
	_ = json.Unmarshal(data, &p)
	if p.Reason == "" {
		p.Reason = "call could not be placed"
	}
	_ = e.machine.RequestFailed(p.Reason)
}

// onCallResponse handles the remote answer to our outgoing call. A decline
// surfaces like any other setup failure so the user always sees a reason.
func (e *Engine) onCallResponse(data json.RawMessage) {
	var p signaling.CallResponsePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if !p.Accepted {
		_ = e.machine.RequestFailed("call declined")
		return
	}
	e.machine.SetCallID(p.CallID)
}

// onJoinCallRoom completes call setup for both parties. The duplicate-join
// guard lives in the state machine, so the room entry below is emitted at
// most once per call.
func (e *Engine) onJoinCallRoom(data json.RawMessage) {
	var p signaling.JoinCallRoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if err := e.machine.Joined(p.RoomID); err != nil {
		return
	}
	e.machine.SetCallID(p.CallID)

	if err := e.signaler.Send(signaling.EventJoinCall, signaling.JoinCallPayload{
		RoomID:   p.RoomID,
		UserID:   e.userID,
		UserName: e.userName,
	}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.onJoinCallRoom",
			"error":    err.Error(),
		}).Warn("Room entry emit failed")
	}
}

func (e *Engine) onCallCancelled(data json.RawMessage) {
	_ = e.machine.Cancel()
}

func (e *Engine) onCallTimeout(data json.RawMessage) {
	_ = e.machine.Timeout()
}

func (e *Engine) onCallEnded(data json.RawMessage) {
	_ = e.machine.Ended()
}

func (e *Engine) onMediaFrame(data json.RawMessage) {
	if e.machine.Phase() != session.PhaseInCall {
		return
	}

	var p signaling.MediaFramePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}

	switch p.Type {
	case signaling.MediaTypeVideo:
		frame, err := base64.StdEncoding.DecodeString(p.FrameData)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Engine.onMediaFrame",
				"error":    err.Error(),
			}).Warn("Dropping undecodable video frame")
			return
		}
		e.sink.WriteFrame(&playback.RemoteFrame{
			Data:           frame,
			SenderUserID:   p.UserID,
			SenderUserName: p.UserName,
			ReceivedAt:     time.Now(),
		})
	case signaling.MediaTypeAudio:
		chunk, err := base64.StdEncoding.DecodeString(p.AudioData)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Engine.onMediaFrame",
				"error":    err.Error(),
			}).Warn("Dropping undecodable audio chunk")
			return
		}
		_ = e.sink.PlayChunk(chunk)
	}
}

func (e *Engine) onCallMessage(data json.RawMessage) {
	var p signaling.CallMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}

	msg := session.Message{
		Text:           p.Message,
		SenderUserID:   p.UserID,
		SenderUserName: p.UserName,
		Timestamp:      time.Now(),
		IsLocal:        false,
	}
	if err := e.machine.AppendMessage(msg); err != nil {
		return
	}
	e.collector.MessagesExchanged.WithLabelValues("inbound").Inc()
	e.notifyMessage(msg)
}

func (e *Engine) onNetworkMetrics(data json.RawMessage) {
	var p signaling.NetworkMetricsPayload
	_ = json.Unmarshal(data, &p)
	logrus.WithFields(logrus.Fields{
		"function":    "Engine.onNetworkMetrics",
		"packet_loss": p.PacketLoss,
		"latency":     p.Latency,
		"bandwidth":   p.Bandwidth,
	}).Debug("Server network telemetry")
}

func (e *Engine) onDebugMediaInfo(data json.RawMessage) {
	logrus.WithFields(logrus.Fields{
		"function": "Engine.onDebugMediaInfo",
	}).Debug("Server media diagnostics")
}

// handleStateChange drives the media lifecycle off the state machine: the
// in_call entry starts the producers and its exit tears everything down
// before the change reaches the application.
func (e *Engine) handleStateChange(change session.StateChange) {
	e.collector.StateTransitions.WithLabelValues(string(change.Current.Phase)).Inc()

	entering := change.Current.Phase == session.PhaseInCall && change.Previous.Phase != session.PhaseInCall
	leaving := change.Previous.Phase == session.PhaseInCall && change.Current.Phase != session.PhaseInCall

	if entering {
		e.collector.CallsActive.Set(1)
		e.startMedia(change.Current.IsVideo)
	}
	if leaving {
		e.collector.CallsActive.Set(0)
		e.stopMedia()
	}

	e.mu.Lock()
	cb := e.stateCb
	e.mu.Unlock()
	if cb != nil {
		cb(change)
	}
}

// startMedia acquires the devices for an active call. A missing microphone
// fails the call; a missing camera degrades a video call to audio only.
func (e *Engine) startMedia(isVideo bool) {
	if err := e.audio.Start(); err != nil {
		e.pushDeviceError(err)
		go func() { _ = e.machine.Fail("microphone unavailable") }()
		return
	}

	if isVideo {
		if err := e.video.Start(); err != nil {
			e.pushDeviceError(err)
			e.appendLocalNotice("Camera unavailable. Continuing with audio only.")
		}
	}

	if err := e.sampler.Start(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.startMedia",
			"error":    err.Error(),
		}).Debug("Quality sampling unavailable")
	}

	e.mu.Lock()
	stopCh := make(chan struct{})
	e.forwardStop = stopCh
	e.mu.Unlock()

	e.forwardWg.Add(1)
	go e.forwardLoop(stopCh)
}

// stopMedia releases every device and stops the forwarding loop. It is
// tolerant of partially started calls.
func (e *Engine) stopMedia() {
	e.mu.Lock()
	stopCh := e.forwardStop
	e.forwardStop = nil
	e.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		e.forwardWg.Wait()
	}

	e.video.Stop()
	e.audio.Stop()
	e.sampler.Stop()
	e.sink.Close()
}

// forwardLoop drains both producers and relays their output. Media frames
// are fire-and-forget; a failed send drops the frame and nothing else.
func (e *Engine) forwardLoop(stopCh chan struct{}) {
	defer e.forwardWg.Done()

	for {
		select {
		case <-stopCh:
			return
		case frame := <-e.video.Output():
			e.sendVideoFrame(frame)
		case chunk := <-e.audio.Output():
			e.sendAudioChunk(chunk)
		}
	}
}

func (e *Engine) sendVideoFrame(frame *video.Frame) {
	sess := e.machine.Session()
	if sess == nil || e.machine.Phase() != session.PhaseInCall {
		return
	}

	err := e.signaler.Send(signaling.EventMediaFrame, signaling.MediaFramePayload{
		RoomID:    sess.RoomID,
		Type:      signaling.MediaTypeVideo,
		FrameData: base64.StdEncoding.EncodeToString(frame.Data),
		UserID:    e.userID,
		UserName:  e.userName,
		Timestamp: frame.CapturedAt.UnixMilli(),
	})
	if err != nil {
		e.collector.FramesDropped.WithLabelValues("video").Inc()
		logrus.WithFields(logrus.Fields{
			"function": "Engine.sendVideoFrame",
			"error":    err.Error(),
		}).Debug("Video frame send failed")
		return
	}
	e.collector.FramesSent.WithLabelValues("video").Inc()
}

func (e *Engine) sendAudioChunk(chunk *audio.Chunk) {
	sess := e.machine.Session()
	if sess == nil || e.machine.Phase() != session.PhaseInCall {
		return
	}

	encoded, err := e.encoder.Encode(chunk.PCM)
	if err != nil {
		e.collector.FramesDropped.WithLabelValues("audio").Inc()
		return
	}

	err = e.signaler.Send(signaling.EventMediaFrame, signaling.MediaFramePayload{
		RoomID:    sess.RoomID,
		Type:      signaling.MediaTypeAudio,
		AudioData: base64.StdEncoding.EncodeToString(encoded),
		UserID:    e.userID,
		UserName:  e.userName,
		Timestamp: chunk.CapturedAt.UnixMilli(),
	})
	if err != nil {
		e.collector.FramesDropped.WithLabelValues("audio").Inc()
		logrus.WithFields(logrus.Fields{
			"function": "Engine.sendAudioChunk",
			"error":    err.Error(),
		}).Debug("Audio chunk send failed")
		return
	}
	e.collector.FramesSent.WithLabelValues("audio").Inc()
}

// inVideoCall reports whether the active call carries video, for the
// quality controller's audio-only fallback decision.
func (e *Engine) inVideoCall() bool {
	sess := e.machine.Session()
	return sess != nil && sess.IsVideo
}

// handleQualityNotice surfaces a controller notice as a local message in
// the call history.
func (e *Engine) handleQualityNotice(text string) {
	e.appendLocalNotice(text)
}

func (e *Engine) appendLocalNotice(text string) {
	msg := session.Message{
		Text:           text,
		SenderUserID:   e.userID,
		SenderUserName: e.userName,
		Timestamp:      time.Now(),
		IsLocal:        true,
	}
	if err := e.machine.AppendMessage(msg); err != nil {
		return
	}
	e.collector.MessagesExchanged.WithLabelValues("notice").Inc()
	e.notifyMessage(msg)
}

func (e *Engine) handleSpeaking(speaking bool) {
	e.collector.SpeakingTransitions.Inc()

	e.mu.Lock()
	cb := e.speakingCb
	e.mu.Unlock()
	if cb != nil {
		cb(speaking)
	}
}

// handleMicError reacts to a microphone fault after capture started. Audio
// is the one medium the call cannot survive without.
func (e *Engine) handleMicError(err error) {
	e.pushDeviceError(err)
	// The capture loop reporting this error must unwind before the stop
	// sequence can wait on it.
	go func() { _ = e.machine.Fail("microphone failed") }()
}

func (e *Engine) handleConnectivity(connected bool) {
	if !connected {
		e.collector.Disconnects.Inc()
	}

	e.mu.Lock()
	cb := e.connectivityCb
	e.mu.Unlock()
	if cb != nil {
		cb(connected)
	}
}

// handleReconnectFailed fails whatever call was in flight once the
// reconnect policy is exhausted. With no call in progress the loss is
// silent; the next command will surface it.
func (e *Engine) handleReconnectFailed() {
	switch e.machine.Phase() {
	case session.PhaseIdle, session.PhaseFailed:
		return
	}
	_ = e.machine.Fail("connection to call server lost")
}

func (e *Engine) pushDeviceError(err error) {
	select {
	case e.deviceErrs <- err:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Engine.pushDeviceError",
			"error":    err.Error(),
		}).Warn("Device error channel full, dropping")
	}
}

func (e *Engine) notifyMessage(msg session.Message) {
	e.mu.Lock()
	cb := e.messageCb
	e.mu.Unlock()
	if cb != nil {
		cb(msg)
	}
}
