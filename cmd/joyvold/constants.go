package main

import (
	"time"

	"joyvol/internal/ipc"
)

// Daemon defaults. Keep DefaultConfig and the flag help text in sync.
const (
	defaultPollIntervalMS   = 40   // one tick per 40 ms, 25 Hz
	defaultStopTimeoutMS    = 1000 // how long stop waits for the worker
	defaultPactlTimeoutMS   = 500  // per pactl invocation
	defaultCamillaTimeoutMS = 500  // websocket handshake and reply

	// maxStopTimeoutMS leaves a second of the IPC client's wait for the
	// round trip around a stop.
	maxStopTimeoutMS = int((ipc.DefaultCallTimeout - time.Second) / time.Millisecond)

	// readingCoalesceWindow bounds how often a binding's reading is pushed
	// to status clients; bursts inside the window collapse to the latest.
	readingCoalesceWindow = 50 * time.Millisecond

	// readingQueue is the buffer between the scheduler observer and the
	// status broadcaster. Readings are dropped when it is full.
	readingQueue = 256

	httpShutdownTimeout = 3 * time.Second
)
