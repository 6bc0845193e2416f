// ABOUTME: Arbitration between captured keyframes and the asynchronously arriving user transcript
// ABOUTME: Schedules staggered captures and bounds how long a message stays open for images

package keyframe

import (
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/live-companion/internal/conversation"
	"github.com/2389/live-companion/internal/imaging"
	"github.com/2389/live-companion/internal/settings"
)

const (
	// Stagger separates consecutive keyframe captures
	Stagger = 150 * time.Millisecond
	// FinalizeGrace is added after the last capture before the window closes
	FinalizeGrace = 500 * time.Millisecond
	// MaxKeyframes caps captures per speech turn
	MaxKeyframes = 3
)

// Cancel stops a scheduled call
type Cancel func()

// AfterFunc schedules fn on the owning serialized context after d
type AfterFunc func(d time.Duration, fn func()) Cancel

// FrameSource returns the most recent camera frame, or nil
type FrameSource func() image.Image

// AttachmentStore persists and removes attachment images
type AttachmentStore interface {
	Save(img image.Image, maxDimension int, quality float64) (conversation.Attachment, error)
	Delete(attachments []conversation.Attachment)
}

// ImageSender forwards a keyframe to the realtime service
type ImageSender interface {
	SendImageAppend(img image.Image, maxDimension int, quality float64, maxBase64Length int) error
}

// WindowState describes the arbitration window
type WindowState int

const (
	WindowNone WindowState = iota
	WindowOpen
	WindowAssociated
)

func (s WindowState) String() string {
	switch s {
	case WindowOpen:
		return "open"
	case WindowAssociated:
		return "associated"
	default:
		return "none"
	}
}

// KeyframeCount clamps the configured count to [1, MaxKeyframes]
func KeyframeCount(q settings.Quality) int {
	return imaging.Clamp(q.KeyFrameCount, 1, MaxKeyframes)
}

// FinalizeDelay is how long after the transcript a window stays open
func FinalizeDelay(count int) time.Duration {
	return time.Duration(count-1)*Stagger + FinalizeGrace
}

// Config wires an Arbiter to its collaborators
type Config struct {
	After      AfterFunc
	Frames     FrameSource
	Blobs      AttachmentStore
	Sender     ImageSender
	Transcript *conversation.Transcript
	Logger     *slog.Logger
	// NewID generates message identities; defaults to uuid
	NewID func() string
}

// Arbiter owns the pending-attachment window
type Arbiter struct {
	cfg Config

	windowID string
	pending  []conversation.Attachment
	captures []Cancel
	finalize Cancel
}

// New creates an Arbiter
func New(cfg Config) *Arbiter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With("component", "keyframe")
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.New().String() }
	}
	return &Arbiter{cfg: cfg}
}

// State reports the window state and the reserved message identity
func (a *Arbiter) State() (WindowState, string) {
	switch {
	case a.windowID == "":
		return WindowNone, ""
	case a.cfg.Transcript.Find(a.windowID) >= 0:
		return WindowAssociated, a.windowID
	default:
		return WindowOpen, a.windowID
	}
}

// Pending returns attachments not yet associated with a message
func (a *Arbiter) Pending() []conversation.Attachment {
	return append([]conversation.Attachment(nil), a.pending...)
}

// SpeechStarted opens a new window and schedules keyframe captures. It reports
// false when no frame is available.
func (a *Arbiter) SpeechStarted(q settings.Quality) bool {
	frame := a.cfg.Frames()
	if frame == nil {
		a.cfg.Logger.Debug("speech started without a frame, skipping keyframes")
		return false
	}

	if len(a.pending) > 0 {
		a.cfg.Blobs.Delete(a.pending)
	}
	a.pending = nil
	a.cancelCaptures()

	a.windowID = a.cfg.NewID()
	count := KeyframeCount(q)
	for i := range count {
		a.captures = append(a.captures, a.cfg.After(time.Duration(i)*Stagger, func() {
			a.capture(frame, q)
		}))
	}

	a.cfg.Logger.Debug("arbitration window opened", "message_id", a.windowID, "keyframes", count)
	return true
}

func (a *Arbiter) capture(fallback image.Image, q settings.Quality) {
	frame := a.cfg.Frames()
	if frame == nil {
		frame = fallback
	}

	att, err := a.cfg.Blobs.Save(frame, q.MaxDimension, q.ImageQuality)
	if err != nil {
		a.cfg.Logger.Warn("keyframe not persisted", "error", err)
	} else {
		a.attach(att)
	}

	if err := a.cfg.Sender.SendImageAppend(frame, q.MaxDimension, q.ImageQuality, 0); err != nil {
		a.cfg.Logger.Warn("keyframe not sent", "error", err)
	}
}

func (a *Arbiter) attach(att conversation.Attachment) {
	if a.windowID != "" && a.cfg.Transcript.AppendAttachment(a.windowID, att) {
		return
	}
	a.pending = append(a.pending, att)
}

// UserTranscript records the user's words under the window's identity, adopting
// pending attachments. It returns the message identity used.
func (a *Arbiter) UserTranscript(text string, q settings.Quality) string {
	id := a.windowID
	if id == "" {
		id = a.cfg.NewID()
	}
	adopted := a.pending
	a.pending = nil
	a.windowID = id

	if a.cfg.Transcript.AppendContent(id, text) {
		for _, att := range adopted {
			a.cfg.Transcript.AppendAttachment(id, att)
		}
	} else {
		msg := conversation.NewMessage(conversation.RoleUser, text)
		msg.ID = id
		msg.ImageAttachments = adopted
		a.cfg.Transcript.Append(msg)
	}

	if a.finalize != nil {
		a.finalize()
	}
	a.finalize = a.cfg.After(FinalizeDelay(KeyframeCount(q)), func() {
		if a.windowID == id {
			a.windowID = ""
			// pending references are dropped without deleting their blobs
			a.pending = nil
			a.cfg.Logger.Debug("arbitration window closed", "message_id", id)
		}
	})
	return id
}

// Reset cancels scheduled work, deletes unassociated attachments, and closes the window
func (a *Arbiter) Reset() {
	a.cancelCaptures()
	if a.finalize != nil {
		a.finalize()
		a.finalize = nil
	}
	if len(a.pending) > 0 {
		a.cfg.Blobs.Delete(a.pending)
	}
	a.pending = nil
	a.windowID = ""
}

func (a *Arbiter) cancelCaptures() {
	for _, c := range a.captures {
		c()
	}
	a.captures = nil
}
