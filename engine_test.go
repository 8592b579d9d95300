package relaycall

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/relaycall/media/audio"
	"github.com/opd-ai/relaycall/media/video"
	"github.com/opd-ai/relaycall/playback"
	"github.com/opd-ai/relaycall/quality"
	"github.com/opd-ai/relaycall/session"
	"github.com/opd-ai/relaycall/signaling"
)

// fakeSignaler is an in-memory signaling connection. Tests deliver server
// events directly into the registered handlers.
type fakeSignaler struct {
	mu        sync.Mutex
	handlers  map[string]signaling.Handler
	sent      []sentEvent
	statusCb  func(bool)
	failedCb  func()
	connected bool
	sendErr   error
}

type sentEvent struct {
	event   string
	payload interface{}
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{handlers: make(map[string]signaling.Handler)}
}

func (f *fakeSignaler) On(event string, handler signaling.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = handler
}

func (f *fakeSignaler) SetStatusCallback(cb func(bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCb = cb
}

func (f *fakeSignaler) SetReconnectFailedCallback(cb func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedCb = cb
}

func (f *fakeSignaler) Connect() error {
	f.mu.Lock()
	f.connected = true
	cb := f.statusCb
	f.mu.Unlock()
	if cb != nil {
		cb(true)
	}
	return nil
}

func (f *fakeSignaler) Send(event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentEvent{event: event, payload: payload})
	return nil
}

func (f *fakeSignaler) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSignaler) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeSignaler) deliver(t *testing.T, event string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	f.mu.Lock()
	handler := f.handlers[event]
	f.mu.Unlock()
	require.NotNil(t, handler, "no handler for %s", event)
	handler(data)
}

func (f *fakeSignaler) sentEvents(event string) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentEvent
	for _, s := range f.sent {
		if s.event == event {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeSignaler) dropConnection() {
	f.mu.Lock()
	f.connected = false
	failedCb := f.failedCb
	f.mu.Unlock()
	if failedCb != nil {
		failedCb()
	}
}

// blockingMic replays buffers, then blocks like a real device.
type blockingMic struct {
	mu      sync.Mutex
	buffers [][]int16
	index   int
	closed  chan struct{}
	once    sync.Once
}

func newBlockingMic(buffers ...[]int16) *blockingMic {
	return &blockingMic{buffers: buffers, closed: make(chan struct{})}
}

func (m *blockingMic) Read(buf []int16) (int, error) {
	m.mu.Lock()
	if m.index < len(m.buffers) {
		b := m.buffers[m.index]
		m.index++
		m.mu.Unlock()
		return copy(buf, b), nil
	}
	m.mu.Unlock()
	<-m.closed
	return 0, errors.New("device closed")
}

func (m *blockingMic) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

func (m *blockingMic) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// stubCamera holds the frame callback so tests can inject frames.
type stubCamera struct {
	mu      sync.Mutex
	onFrame func(video.RawFrame)
	stopped bool
}

func (c *stubCamera) Info() video.CameraInfo {
	return video.CameraInfo{ID: "front", Facing: video.FacingFront}
}

func (c *stubCamera) Start(onFrame func(video.RawFrame)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFrame = onFrame
	return nil
}

func (c *stubCamera) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.onFrame = nil
	return nil
}

type stubProvider struct {
	camera *stubCamera
	empty  bool
}

func (p *stubProvider) List() ([]video.CameraInfo, error) {
	if p.empty {
		return nil, nil
	}
	return []video.CameraInfo{p.camera.Info()}, nil
}

func (p *stubProvider) Open(id string) (video.Camera, error) {
	if p.empty {
		return nil, errors.New("no camera")
	}
	return p.camera, nil
}

// stubOutput swallows playback audio.
type stubOutput struct {
	mu     sync.Mutex
	writes int
}

func (o *stubOutput) Write(data []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes++
	return len(data), nil
}

func (o *stubOutput) Close() error { return nil }

func (o *stubOutput) writeCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writes
}

// staticMonitor serves one fixed connection sample.
type staticMonitor struct {
	sample quality.ConnectionSample
}

func (m *staticMonitor) Sample() (quality.ConnectionSample, error) {
	return m.sample, nil
}

type engineFixture struct {
	engine   *Engine
	signaler *fakeSignaler
	mic      *blockingMic
	camera   *stubCamera
	output   *stubOutput
}

func loudPCM(n int) []int16 {
	buf := make([]int16, n)
	for i := range buf {
		buf[i] = 3000
	}
	return buf
}

func newEngineFixture(t *testing.T, mutate func(opts *Options)) *engineFixture {
	t.Helper()

	fx := &engineFixture{
		signaler: newFakeSignaler(),
		mic:      newBlockingMic(),
		camera:   &stubCamera{},
		output:   &stubOutput{},
	}

	opts := &Options{
		UserID:   "alice",
		UserName: "Alice",
		Signaler: fx.signaler,
		Cameras:  &stubProvider{camera: fx.camera},
		OpenMic: func() (audio.Microphone, error) {
			return fx.mic, nil
		},
		AudioOutput: func() (playback.AudioOutput, error) {
			return fx.output, nil
		},
		Connection: &staticMonitor{sample: quality.ConnectionSample{
			Transport:      quality.TransportWifi,
			DownstreamKbps: 8000,
		}},
		Sampler: &quality.SamplerConfig{Interval: time.Hour},
	}
	if mutate != nil {
		mutate(opts)
	}

	engine, err := NewEngine(opts)
	require.NoError(t, err)
	require.NoError(t, engine.Start())
	t.Cleanup(func() { _ = engine.Close() })

	fx.engine = engine
	return fx
}

// connectCall drives the caller side of call setup to in_call.
func (fx *engineFixture) connectCall(t *testing.T, isVideo bool) {
	t.Helper()
	require.NoError(t, fx.engine.Dial("bob", "Bob", isVideo))
	fx.signaler.deliver(t, signaling.EventCallResponse, signaling.CallResponsePayload{CallID: "call_1", Accepted: true})
	fx.signaler.deliver(t, signaling.EventJoinCallRoom, signaling.JoinCallRoomPayload{RoomID: "room_1", CallID: "call_1"})
	require.Equal(t, session.PhaseInCall, fx.engine.Phase())
}

func TestEngineRequiresIdentity(t *testing.T) {
	_, err := NewEngine(nil)
	assert.ErrorIs(t, err, ErrMissingIdentity)

	_, err = NewEngine(&Options{ServerURL: "ws://x/ws"})
	assert.ErrorIs(t, err, ErrMissingIdentity)

	_, err = NewEngine(&Options{UserID: "alice"})
	assert.ErrorIs(t, err, ErrMissingIdentity)
}

func TestEngineCallerHappyPath(t *testing.T) {
	fx := newEngineFixture(t, nil)

	require.NoError(t, fx.engine.Dial("bob", "Bob", true))
	assert.Equal(t, session.PhaseOutgoing, fx.engine.Phase())

	requests := fx.signaler.sentEvents(signaling.EventCallRequest)
	require.Len(t, requests, 1)
	req := requests[0].payload.(signaling.CallRequestPayload)
	assert.Equal(t, "alice", req.FromUserID)
	assert.Equal(t, "bob", req.ToUserID)
	assert.True(t, req.IsVideoCall)
	assert.NotEmpty(t, req.RoomID)

	fx.signaler.deliver(t, signaling.EventCallResponse, signaling.CallResponsePayload{CallID: "call_1", Accepted: true})
	fx.signaler.deliver(t, signaling.EventJoinCallRoom, signaling.JoinCallRoomPayload{RoomID: "room_1", CallID: "call_1"})

	assert.Equal(t, session.PhaseInCall, fx.engine.Phase())
	assert.Equal(t, "room_1", fx.engine.State().RoomID)
	assert.Len(t, fx.signaler.sentEvents(signaling.EventJoinCall), 1)

	// Producers run exactly while the call is active.
	assert.True(t, fx.engine.IsAudioStreaming())
	assert.True(t, fx.engine.IsVideoStreaming())

	require.NoError(t, fx.engine.HangUp())
	assert.Equal(t, session.PhaseIdle, fx.engine.Phase())

	// Local hangup announces the room departure and releases every device
	// before reporting idle.
	leaves := fx.signaler.sentEvents(signaling.EventLeaveCall)
	require.Len(t, leaves, 1)
	assert.Equal(t, "room_1", leaves[0].payload.(signaling.LeaveCallPayload).RoomID)
	assert.True(t, fx.mic.isClosed())
	assert.True(t, fx.camera.stopped)
	assert.False(t, fx.engine.IsAudioStreaming())
}

func TestEngineCalleeAcceptFlow(t *testing.T) {
	fx := newEngineFixture(t, nil)

	fx.signaler.deliver(t, signaling.EventIncomingCall, signaling.IncomingCallPayload{
		CallID:       "call_7",
		RoomID:       "room_7",
		FromUserID:   "bob",
		FromUserName: "Bob",
		IsVideoCall:  false,
	})

	st := fx.engine.State()
	require.Equal(t, session.PhaseIncoming, st.Phase)
	assert.Equal(t, "call_7", st.CallID)
	assert.Equal(t, "bob", st.RemoteUserID)
	assert.False(t, st.IsVideo)

	require.NoError(t, fx.engine.Accept())
	assert.Equal(t, session.PhaseConnecting, fx.engine.Phase())

	// A duplicate accept is rejected before anything reaches the wire.
	assert.ErrorIs(t, fx.engine.Accept(), session.ErrInvalidTransition)

	responses := fx.signaler.sentEvents(signaling.EventCallResponse)
	require.Len(t, responses, 1)
	resp := responses[0].payload.(signaling.CallResponsePayload)
	assert.Equal(t, "call_7", resp.CallID)
	assert.True(t, resp.Accepted)

	fx.signaler.deliver(t, signaling.EventJoinCallRoom, signaling.JoinCallRoomPayload{RoomID: "room_7", CallID: "call_7"})
	assert.Equal(t, session.PhaseInCall, fx.engine.Phase())
	assert.True(t, fx.engine.IsAudioStreaming())
	// Audio-only call never touches the camera.
	assert.False(t, fx.engine.IsVideoStreaming())
}

func TestEngineReject(t *testing.T) {
	fx := newEngineFixture(t, nil)

	fx.signaler.deliver(t, signaling.EventIncomingCall, signaling.IncomingCallPayload{
		CallID: "call_7", RoomID: "room_7", FromUserID: "bob",
	})
	require.NoError(t, fx.engine.Reject())

	assert.Equal(t, session.PhaseIdle, fx.engine.Phase())
	responses := fx.signaler.sentEvents(signaling.EventCallResponse)
	require.Len(t, responses, 1)
	assert.False(t, responses[0].payload.(signaling.CallResponsePayload).Accepted)
}

func TestEngineCancelOutgoing(t *testing.T) {
	fx := newEngineFixture(t, nil)

	require.NoError(t, fx.engine.Dial("bob", "Bob", false))
	fx.signaler.deliver(t, signaling.EventCallResponse, signaling.CallResponsePayload{CallID: "call_5", Accepted: true})
	require.NoError(t, fx.engine.Cancel())

	assert.Equal(t, session.PhaseIdle, fx.engine.Phase())
	cancels := fx.signaler.sentEvents(signaling.EventCancelCall)
	require.Len(t, cancels, 1)
	assert.Equal(t, "call_5", cancels[0].payload.(signaling.CancelCallPayload).CallID)
}

func TestEngineRemoteCancelClearsIncoming(t *testing.T) {
	fx := newEngineFixture(t, nil)

	fx.signaler.deliver(t, signaling.EventIncomingCall, signaling.IncomingCallPayload{
		CallID: "call_7", FromUserID: "bob",
	})
	require.Equal(t, session.PhaseIncoming, fx.engine.Phase())

	fx.signaler.deliver(t, signaling.EventCallCancelled, struct{}{})
	assert.Equal(t, session.PhaseIdle, fx.engine.Phase())
}

func TestEngineCallRequestFailed(t *testing.T) {
	fx := newEngineFixture(t, nil)

	require.NoError(t, fx.engine.Dial("bob", "Bob", false))
	fx.signaler.deliver(t, signaling.EventCallRequestFailed, signaling.CallRequestFailedPayload{Reason: "user offline"})

	st := fx.engine.State()
	assert.Equal(t, session.PhaseFailed, st.Phase)
	assert.Equal(t, "user offline", st.Reason)

	require.NoError(t, fx.engine.Dismiss())
	assert.Equal(t, session.PhaseIdle, fx.engine.Phase())
}

func TestEngineDeclineSurfacesReason(t *testing.T) {
	fx := newEngineFixture(t, nil)

	require.NoError(t, fx.engine.Dial("bob", "Bob", false))
	fx.signaler.deliver(t, signaling.EventCallResponse, signaling.CallResponsePayload{CallID: "call_1", Accepted: false})

	st := fx.engine.State()
	assert.Equal(t, session.PhaseFailed, st.Phase)
	assert.NotEmpty(t, st.Reason)
}

func TestEngineRemoteHangupEmitsNoLeave(t *testing.T) {
	fx := newEngineFixture(t, nil)
	fx.connectCall(t, false)

	fx.signaler.deliver(t, signaling.EventCallEnded, signaling.CallEndedPayload{Reason: "remote hangup"})

	assert.Equal(t, session.PhaseIdle, fx.engine.Phase())
	assert.Empty(t, fx.signaler.sentEvents(signaling.EventLeaveCall))
	assert.True(t, fx.mic.isClosed())
}

func TestEngineHangUpIdempotent(t *testing.T) {
	fx := newEngineFixture(t, nil)
	fx.connectCall(t, false)

	require.NoError(t, fx.engine.HangUp())
	require.NoError(t, fx.engine.HangUp())

	assert.Len(t, fx.signaler.sentEvents(signaling.EventLeaveCall), 1)
}

func TestEngineMissingCameraDegradesToAudio(t *testing.T) {
	fx := newEngineFixture(t, func(opts *Options) {
		opts.Cameras = &stubProvider{empty: true}
	})
	fx.connectCall(t, true)

	assert.True(t, fx.engine.IsAudioStreaming())
	assert.False(t, fx.engine.IsVideoStreaming())

	select {
	case err := <-fx.engine.DeviceErrors():
		assert.ErrorIs(t, err, video.ErrNoCamera)
	default:
		t.Fatal("Expected a camera fault on the device error channel")
	}

	// The degrade is surfaced in the call history.
	msgs := fx.engine.Messages()
	require.NotEmpty(t, msgs)
	assert.True(t, msgs[0].IsLocal)
}

func TestEngineMissingMicrophoneFailsCall(t *testing.T) {
	fx := newEngineFixture(t, func(opts *Options) {
		opts.OpenMic = func() (audio.Microphone, error) {
			return nil, errors.New("permission denied")
		}
	})

	require.NoError(t, fx.engine.Dial("bob", "Bob", false))
	fx.signaler.deliver(t, signaling.EventJoinCallRoom, signaling.JoinCallRoomPayload{RoomID: "room_1", CallID: "call_1"})

	require.Eventually(t, func() bool {
		return fx.engine.Phase() == session.PhaseFailed
	}, 2*time.Second, 10*time.Millisecond, "expected the call to fail without a microphone")
	assert.NotEmpty(t, fx.engine.State().Reason)
}

func TestEngineRemoteMediaReachesPlayback(t *testing.T) {
	fx := newEngineFixture(t, nil)
	fx.connectCall(t, false)

	fx.signaler.deliver(t, signaling.EventMediaFrame, signaling.MediaFramePayload{
		RoomID:    "room_1",
		Type:      signaling.MediaTypeVideo,
		FrameData: base64.StdEncoding.EncodeToString([]byte{0xFF, 0xD8, 0xFF}),
		UserID:    "bob",
		UserName:  "Bob",
	})

	frame := fx.engine.LatestRemoteFrame()
	require.NotNil(t, frame)
	assert.Equal(t, "bob", frame.SenderUserID)

	fx.signaler.deliver(t, signaling.EventMediaFrame, signaling.MediaFramePayload{
		RoomID:    "room_1",
		Type:      signaling.MediaTypeAudio,
		AudioData: base64.StdEncoding.EncodeToString([]byte{0x01, 0x00, 0x02, 0x00}),
		UserID:    "bob",
	})
	assert.Equal(t, 1, fx.output.writeCount())
}

func TestEngineIgnoresMediaOutsideCall(t *testing.T) {
	fx := newEngineFixture(t, nil)

	fx.signaler.deliver(t, signaling.EventMediaFrame, signaling.MediaFramePayload{
		Type:      signaling.MediaTypeVideo,
		FrameData: base64.StdEncoding.EncodeToString([]byte{1, 2, 3}),
	})
	assert.Nil(t, fx.engine.LatestRemoteFrame())
}

func TestEngineForwardsCapturedAudio(t *testing.T) {
	fx := newEngineFixture(t, func(opts *Options) {})
	fx.mic.buffers = [][]int16{loudPCM(320), loudPCM(320)}
	fx.connectCall(t, false)

	require.Eventually(t, func() bool {
		return len(fx.signaler.sentEvents(signaling.EventMediaFrame)) > 0
	}, 2*time.Second, 10*time.Millisecond, "expected captured speech on the wire")

	frames := fx.signaler.sentEvents(signaling.EventMediaFrame)
	payload := frames[0].payload.(signaling.MediaFramePayload)
	assert.Equal(t, signaling.MediaTypeAudio, payload.Type)
	assert.Equal(t, "room_1", payload.RoomID)
	assert.Equal(t, "alice", payload.UserID)

	pcm, err := base64.StdEncoding.DecodeString(payload.AudioData)
	require.NoError(t, err)
	assert.Equal(t, 640, len(pcm))
}

func TestEngineMessaging(t *testing.T) {
	fx := newEngineFixture(t, nil)

	assert.ErrorIs(t, fx.engine.SendMessage("too early"), session.ErrNotInCall)

	fx.connectCall(t, false)

	var received []session.Message
	var mu sync.Mutex
	fx.engine.SetMessageCallback(func(msg session.Message) {
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
	})

	require.NoError(t, fx.engine.SendMessage("hello"))
	outbound := fx.signaler.sentEvents(signaling.EventCallMessage)
	require.Len(t, outbound, 1)
	assert.Equal(t, "hello", outbound[0].payload.(signaling.CallMessagePayload).Message)

	fx.signaler.deliver(t, signaling.EventCallMessage, signaling.CallMessagePayload{
		RoomID: "room_1", Message: "hi back", UserID: "bob", UserName: "Bob",
	})

	msgs := fx.engine.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].IsLocal)
	assert.False(t, msgs[1].IsLocal)
	assert.Equal(t, "hi back", msgs[1].Text)

	mu.Lock()
	assert.Len(t, received, 2)
	mu.Unlock()
}

func TestEngineMuteToggles(t *testing.T) {
	fx := newEngineFixture(t, nil)
	fx.connectCall(t, true)

	assert.False(t, fx.engine.ToggleAudio())
	assert.True(t, fx.engine.ToggleAudio())

	assert.False(t, fx.engine.ToggleVideo())
	assert.True(t, fx.engine.ToggleVideo())
}

func TestEngineConnectionLossFailsActiveCall(t *testing.T) {
	fx := newEngineFixture(t, nil)
	fx.connectCall(t, false)

	fx.signaler.dropConnection()

	require.Eventually(t, func() bool {
		return fx.engine.Phase() == session.PhaseFailed
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, fx.mic.isClosed())
}

func TestEngineConnectionLossWhileIdleIsSilent(t *testing.T) {
	fx := newEngineFixture(t, nil)

	fx.signaler.dropConnection()
	assert.Equal(t, session.PhaseIdle, fx.engine.Phase())
}

func TestEnginePoorNetworkDisablesVideo(t *testing.T) {
	fx := newEngineFixture(t, func(opts *Options) {
		opts.Connection = &staticMonitor{sample: quality.ConnectionSample{
			Transport:      quality.TransportCellular,
			DownstreamKbps: 500,
		}}
		opts.Sampler = &quality.SamplerConfig{Interval: 5 * time.Millisecond}
	})
	fx.connectCall(t, true)

	require.Eventually(t, func() bool {
		return !fx.engine.IsVideoStreaming()
	}, 2*time.Second, 10*time.Millisecond, "expected poor network to disable video")

	// Audio keeps flowing and the user sees exactly one notice.
	assert.True(t, fx.engine.IsAudioStreaming())
	require.Eventually(t, func() bool {
		return len(fx.engine.Messages()) > 0
	}, 2*time.Second, 10*time.Millisecond)
	msgs := fx.engine.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsLocal)
	assert.Contains(t, msgs[0].Text, "Video has been turned off")
}

func TestEngineAdaptiveOffKeepsVideo(t *testing.T) {
	fx := newEngineFixture(t, func(opts *Options) {
		opts.Connection = &staticMonitor{sample: quality.ConnectionSample{
			Transport:      quality.TransportCellular,
			DownstreamKbps: 500,
		}}
		opts.Sampler = &quality.SamplerConfig{Interval: 5 * time.Millisecond}
	})
	fx.engine.SetAdaptiveQuality(false)
	fx.connectCall(t, true)

	time.Sleep(100 * time.Millisecond)
	assert.True(t, fx.engine.IsVideoStreaming())
	assert.Empty(t, fx.engine.Messages())
}

func TestEngineBusyIgnoresSecondIncoming(t *testing.T) {
	fx := newEngineFixture(t, nil)
	fx.connectCall(t, false)

	fx.signaler.deliver(t, signaling.EventIncomingCall, signaling.IncomingCallPayload{
		CallID: "call_9", FromUserID: "mallory",
	})

	st := fx.engine.State()
	assert.Equal(t, session.PhaseInCall, st.Phase)
	assert.Equal(t, "bob", st.RemoteUserID)
}

func TestEngineStateCallbackOrdering(t *testing.T) {
	fx := newEngineFixture(t, nil)

	var phases []session.Phase
	var mu sync.Mutex
	fx.engine.SetStateCallback(func(change session.StateChange) {
		mu.Lock()
		phases = append(phases, change.Current.Phase)
		mu.Unlock()
	})

	fx.connectCall(t, false)
	require.NoError(t, fx.engine.HangUp())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, phases, 3)
	assert.Equal(t, []session.Phase{session.PhaseOutgoing, session.PhaseInCall, session.PhaseIdle}, phases)
}

func TestEngineCloseIdempotent(t *testing.T) {
	fx := newEngineFixture(t, nil)
	fx.connectCall(t, false)

	require.NoError(t, fx.engine.Close())
	require.NoError(t, fx.engine.Close())

	assert.Equal(t, session.PhaseIdle, fx.engine.Phase())
	assert.True(t, fx.mic.isClosed())
	assert.ErrorIs(t, fx.engine.Start(), ErrEngineClosed)
}
