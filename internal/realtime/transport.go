// ABOUTME: Transport contract for the realtime multimodal inference service
// ABOUTME: All service callbacks arrive as Events on one ordered channel

package realtime

import (
	"context"
	"image"
)

// EventType identifies a transport event
type EventType int

const (
	EventConnected EventType = iota
	EventFirstAudioSent
	EventSpeechStarted
	EventSpeechStopped
	EventTranscriptDelta
	EventUserTranscript
	EventTranscriptDone
	EventAudioDone
	EventError
)

var eventNames = map[EventType]string{
	EventConnected:       "connected",
	EventFirstAudioSent:  "first_audio_sent",
	EventSpeechStarted:   "speech_started",
	EventSpeechStopped:   "speech_stopped",
	EventTranscriptDelta: "transcript_delta",
	EventUserTranscript:  "user_transcript",
	EventTranscriptDone:  "transcript_done",
	EventAudioDone:       "audio_done",
	EventError:           "error",
}

func (t EventType) String() string {
	if n, ok := eventNames[t]; ok {
		return n
	}
	return "unknown"
}

// Event is delivered by the transport. Text carries the delta, transcript, or
// error message depending on Type.
type Event struct {
	Type EventType
	Text string
}

// Transport is the realtime service client consumed by the session layer.
// Connect is asynchronous: success arrives as EventConnected, failure as EventError.
type Transport interface {
	Connect(ctx context.Context)
	Disconnect()
	StartRecording()
	StopRecording()
	SendAudioAppend(base64Audio string) error
	CommitAudioBuffer() error
	SendImageAppend(img image.Image, maxDimension int, quality float64, maxBase64Length int) error
	SendUserMessage(text string, img image.Image, maxDimension int, quality float64) error
	RequestResponse() error
	UpdateSessionInstructions(text string) error
	Events() <-chan Event
}
