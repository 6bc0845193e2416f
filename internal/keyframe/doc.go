// Package keyframe turns speech-start signals into persisted camera keyframes
// and associates them with the user message they belong to.
//
// # Arbitration window
//
// Transcript text and captured frames arrive independently. The Arbiter keeps
// an explicit window so the two meet in one message:
//
//   - WindowNone: nothing open; late captures are held as pending
//   - WindowOpen: a message identity is reserved, captures buffer as pending
//   - WindowAssociated: the user message exists; captures attach to it directly
//
// SpeechStarted opens a window and schedules up to three captures 150ms
// apart, each reading the latest frame when it fires. UserTranscript creates
// or extends the message with the window's identity, adopts pending
// attachments, and schedules finalization after (k-1)*150ms + 500ms.
//
// The Arbiter is not safe for concurrent use; the session loop owns it.
package keyframe
