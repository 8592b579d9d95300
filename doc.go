// Package relaycall implements a one-to-one voice and video call engine
// over a central relay server.
//
// The engine connects to a signaling server over a websocket, models the
// call lifecycle in an explicit state machine and, while a call is active,
// captures microphone audio and camera video, adapts outgoing video to the
// measured network quality and renders remote media through a playback
// sink. All media travels through the relay as JSON-framed events; there is
// no peer-to-peer transport.
//
// # Getting Started
//
// Create an engine with options and set up callbacks for events:
//
//	engine, err := relaycall.NewEngine(&relaycall.Options{
//		ServerURL:   "wss://calls.example.com/ws",
//		UserID:      "user_42",
//		UserName:    "Dana",
//		Cameras:     provider,
//		OpenMic:     openMic,
//		AudioOutput: openSpeaker,
//		Connection:  connMonitor,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	engine.SetStateCallback(func(change session.StateChange) {
//	    // drive the UI from state transitions
//	})
//
//	if err := engine.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	engine.Dial("user_7", "Sam", true)
//
// Devices are acquired only while a call is active and are fully released
// before the engine reports the call over.
package relaycall
