// ABOUTME: Realtime session orchestrator: connection lifecycle, reconnection, and transcript capture
// ABOUTME: All state lives on one serialized loop; transport events are marshaled onto it

package session

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/2389/live-companion/internal/conversation"
	"github.com/2389/live-companion/internal/keyframe"
	"github.com/2389/live-companion/internal/realtime"
	"github.com/2389/live-companion/internal/scheduler"
	"github.com/2389/live-companion/internal/settings"
)

const (
	// DefaultReconnectDelay separates teardown from the next connect attempt
	DefaultReconnectDelay = 400 * time.Millisecond
	// DefaultImageUnlockDelay follows the first audio flush before images may be sent
	DefaultImageUnlockDelay = time.Second
)

// RecordSaver persists a finished conversation
type RecordSaver interface {
	Save(ctx context.Context, record conversation.Record) error
}

// QualitySource supplies the current image settings
type QualitySource interface {
	Current() settings.Quality
}

// Deps are the collaborators an Orchestrator drives
type Deps struct {
	Transport realtime.Transport
	Records   RecordSaver
	Blobs     keyframe.AttachmentStore
	Settings  QualitySource
}

// Options tune a session
type Options struct {
	EnableImageInput bool
	Category         conversation.Category
	Language         string
	Model            string
	ReconnectDelay   time.Duration
	ImageUnlockDelay time.Duration
	Clock            clock.Clock
	Logger           *slog.Logger

	// OnStateChange and OnError run on the session loop and must not block
	OnStateChange func(from, to State)
	OnError       func(msg string)
}

// Status is a point-in-time view of the session
type Status struct {
	State             State
	Connected         bool
	Recording         bool
	Speaking          bool
	ImagesEnabled     bool
	PartialTranscript string
	Messages          []conversation.Message
	ErrorMessage      string
	Window            keyframe.WindowState
}

// Orchestrator runs one realtime conversation session at a time
type Orchestrator struct {
	deps   Deps
	opts   Options
	loop   *scheduler.Loop
	logger *slog.Logger
	ctx    context.Context

	// loop-owned state
	state                 State
	foreground            bool
	sessionActive         bool
	connecting            bool
	attemptingReconnect   bool
	reconnectOnForeground bool
	restartRecording      bool
	suppressErrors        bool
	saved                 bool
	imageSendingEnabled   bool
	speaking              bool
	frame                 image.Image
	partial               string
	transcript            conversation.Transcript
	errorMessage          string
	arbiter               *keyframe.Arbiter
	reconnectTimer        *scheduler.Timer
	unlockTimer           *scheduler.Timer

	updates *Broadcaster
}

// New creates an Orchestrator. Call Run before using it.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.ImageUnlockDelay <= 0 {
		opts.ImageUnlockDelay = DefaultImageUnlockDelay
	}
	if opts.Category == "" {
		opts.Category = conversation.CategoryLiveAI
	}

	o := &Orchestrator{
		deps:       deps,
		opts:       opts,
		loop:       scheduler.NewLoop(opts.Clock),
		logger:     opts.Logger.With("component", "session"),
		ctx:        context.Background(),
		foreground: true,
		updates:    NewBroadcaster(opts.Logger),
	}
	o.arbiter = keyframe.New(keyframe.Config{
		After: func(d time.Duration, fn func()) keyframe.Cancel {
			return o.loop.After(d, fn).Cancel
		},
		Frames:     func() image.Image { return o.frame },
		Blobs:      deps.Blobs,
		Sender:     deps.Transport,
		Transcript: &o.transcript,
		Logger:     opts.Logger,
	})
	return o
}

// Run drives the session loop and the transport event pump until ctx ends
func (o *Orchestrator) Run(ctx context.Context) error {
	o.ctx = ctx
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return o.loop.Run(gctx)
	})
	g.Go(func() error {
		events := o.deps.Transport.Events()
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				o.loop.Post(func() { o.handleEvent(ev) })
			}
		}
	})
	err := g.Wait()
	o.updates.Close()
	return err
}

// Subscribe streams transcript and lifecycle updates until ctx ends
func (o *Orchestrator) Subscribe(ctx context.Context) <-chan Update {
	ch, _ := o.updates.Subscribe(ctx)
	return ch
}

// Connect starts a session, or resumes one after a reconnect
func (o *Orchestrator) Connect() {
	o.loop.Do(o.connect)
}

// Disconnect saves the conversation once and tears the session down
func (o *Orchestrator) Disconnect() {
	o.loop.Do(o.disconnect)
}

// StartRecording begins streaming microphone audio. The session must be connected.
func (o *Orchestrator) StartRecording() error {
	var err error
	o.loop.Do(func() { err = o.startRecording() })
	return err
}

// StopRecording stops streaming audio
func (o *Orchestrator) StopRecording() {
	o.loop.Do(o.stopRecording)
}

// SendMessage commits buffered audio for manual turn taking
func (o *Orchestrator) SendMessage() error {
	var err error
	o.loop.Do(func() { err = o.deps.Transport.CommitAudioBuffer() })
	return err
}

// UpdateInstructions replaces the session prompt
func (o *Orchestrator) UpdateInstructions(text string) error {
	var err error
	o.loop.Do(func() { err = o.deps.Transport.UpdateSessionInstructions(text) })
	return err
}

// UpdateRecordLanguage sets the language tag stored with the record
func (o *Orchestrator) UpdateRecordLanguage(language string) {
	o.loop.Do(func() { o.opts.Language = language })
}

// UpdateFrame publishes the latest camera frame. It does not wait for the loop.
func (o *Orchestrator) UpdateFrame(img image.Image) {
	if !o.opts.EnableImageInput || img == nil {
		return
	}
	o.loop.Post(func() { o.frame = img })
}

// EnteredBackground notes that the app lost the foreground
func (o *Orchestrator) EnteredBackground() {
	o.loop.Do(o.enteredBackground)
}

// EnteringForeground notes that the app is returning to the foreground
func (o *Orchestrator) EnteringForeground() {
	o.loop.Do(o.enteringForeground)
}

// DismissError clears the surfaced error
func (o *Orchestrator) DismissError() {
	o.loop.Do(func() { o.errorMessage = "" })
}

// Status returns a snapshot of the session
func (o *Orchestrator) Status() Status {
	var s Status
	o.loop.Do(func() {
		window, _ := o.arbiter.State()
		s = Status{
			State:             o.state,
			Connected:         o.isConnected(),
			Recording:         o.state == StateRecording,
			Speaking:          o.speaking,
			ImagesEnabled:     o.imageSendingEnabled,
			PartialTranscript: o.partial,
			Messages:          o.transcript.Messages(),
			ErrorMessage:      o.errorMessage,
			Window:            window,
		}
	})
	return s
}

func (o *Orchestrator) isConnected() bool {
	return o.state == StateConnected || o.state == StateRecording
}

func (o *Orchestrator) setState(to State) {
	if o.state == to {
		return
	}
	from := o.state
	o.state = to
	o.logger.Debug("state changed", "from", from, "to", to)
	if o.opts.OnStateChange != nil {
		o.opts.OnStateChange(from, to)
	}
	o.updates.Publish(Update{Kind: UpdateState, State: to})
}

func (o *Orchestrator) connect() {
	if o.connecting {
		return
	}
	if !o.foreground {
		o.reconnectOnForeground = true
		o.logger.Info("connect deferred until foreground")
		return
	}
	if !o.sessionActive {
		o.saved = false
		o.resetConversation()
	}
	o.sessionActive = true
	o.suppressErrors = false
	o.connecting = true
	o.setState(StateConnecting)
	o.deps.Transport.Connect(o.ctx)
}

func (o *Orchestrator) disconnect() {
	o.saveOnce()

	o.suppressErrors = true
	o.stopRecording()
	o.setState(StateDisconnecting)
	o.deps.Transport.Disconnect()

	o.reconnectTimer.Cancel()
	o.unlockTimer.Cancel()
	o.imageSendingEnabled = false
	o.connecting = false
	o.sessionActive = false
	o.attemptingReconnect = false
	o.reconnectOnForeground = false
	o.restartRecording = false
	o.resetConversation()
	o.setState(StateIdle)
}

func (o *Orchestrator) saveOnce() {
	if o.saved {
		return
	}
	o.saved = true

	if o.transcript.Len() == 0 {
		o.logger.Info("no conversation content, skipping save")
		return
	}

	record := conversation.NewRecord(o.transcript.Messages(), o.opts.Model, o.opts.Language, o.opts.Category)
	if err := o.deps.Records.Save(context.WithoutCancel(o.ctx), record); err != nil {
		o.logger.Error("failed to save conversation", "record_id", record.ID, "error", err)
		return
	}
	o.logger.Info("conversation saved", "record_id", record.ID, "messages", record.MessageCount())
}

// resetConversation drops transient buffers and deletes unassociated attachments
func (o *Orchestrator) resetConversation() {
	o.arbiter.Reset()
	if o.transcript.Len() > 0 {
		o.updates.Publish(Update{Kind: UpdateCleared})
	}
	o.transcript.Reset()
	o.partial = ""
	o.errorMessage = ""
	o.speaking = false
}

func (o *Orchestrator) startRecording() error {
	if o.state == StateRecording {
		return nil
	}
	if o.state != StateConnected {
		o.logger.Warn("cannot record without a connection", "state", o.state)
		o.errorMessage = ErrNotConnected.Error()
		return ErrNotConnected
	}
	o.deps.Transport.StartRecording()
	o.setState(StateRecording)
	return nil
}

func (o *Orchestrator) stopRecording() {
	if o.state != StateRecording {
		return
	}
	o.deps.Transport.StopRecording()
	o.setState(StateConnected)
}

func (o *Orchestrator) enteredBackground() {
	o.foreground = false
	o.suppressErrors = true
	if o.isConnected() {
		o.reconnectOnForeground = true
		o.restartRecording = o.state == StateRecording || o.restartRecording
	}
}

func (o *Orchestrator) enteringForeground() {
	o.foreground = true
	o.suppressErrors = false
	if !o.reconnectOnForeground {
		return
	}
	o.reconnect()
}

func (o *Orchestrator) reconnect() {
	if o.attemptingReconnect {
		return
	}
	o.attemptingReconnect = true

	o.suppressErrors = true
	o.stopRecording()
	o.deps.Transport.Disconnect()
	o.connecting = false
	o.imageSendingEnabled = false
	o.unlockTimer.Cancel()
	o.setState(StateReconnectPending)

	o.reconnectOnForeground = !o.foreground
	if !o.foreground {
		o.attemptingReconnect = false
		return
	}

	o.logger.Info("reconnecting", "delay", o.opts.ReconnectDelay)
	o.reconnectTimer = o.loop.After(o.opts.ReconnectDelay, func() {
		o.suppressErrors = false
		o.connect()
		o.attemptingReconnect = false
	})
}

func (o *Orchestrator) handleEvent(ev realtime.Event) {
	if !o.sessionActive {
		o.logger.Debug("dropping event for inactive session", "event", ev.Type)
		return
	}

	switch ev.Type {
	case realtime.EventConnected:
		o.connecting = false
		o.reconnectOnForeground = false
		o.setState(StateConnected)
		if o.restartRecording {
			o.restartRecording = false
			_ = o.startRecording()
		}

	case realtime.EventFirstAudioSent:
		if !o.opts.EnableImageInput {
			return
		}
		o.unlockTimer.Cancel()
		o.unlockTimer = o.loop.After(o.opts.ImageUnlockDelay, func() {
			o.imageSendingEnabled = true
			o.logger.Debug("image sending enabled")
		})

	case realtime.EventSpeechStarted:
		o.speaking = true
		if o.opts.EnableImageInput && o.imageSendingEnabled && o.frame != nil {
			o.arbiter.SpeechStarted(o.deps.Settings.Current())
		}

	case realtime.EventSpeechStopped:
		o.speaking = false

	case realtime.EventTranscriptDelta:
		o.partial += ev.Text

	case realtime.EventUserTranscript:
		id := o.arbiter.UserTranscript(ev.Text, o.deps.Settings.Current())
		o.publishMessage(id)

	case realtime.EventTranscriptDone:
		text := ev.Text
		if text == "" {
			text = o.partial
		}
		if text == "" {
			o.logger.Debug("empty assistant reply, not recorded")
			return
		}
		msg := conversation.NewMessage(conversation.RoleAssistant, text)
		o.transcript.Append(msg)
		o.partial = ""
		o.publishMessage(msg.ID)

	case realtime.EventAudioDone:
		o.logger.Debug("assistant audio finished")

	case realtime.EventError:
		o.handleError(ev.Text)
	}
}

func (o *Orchestrator) publishMessage(id string) {
	msgs := o.transcript.Messages()
	for i := range msgs {
		if msgs[i].ID == id {
			o.updates.Publish(Update{Kind: UpdateMessage, Message: msgs[i]})
			return
		}
	}
}

func (o *Orchestrator) handleError(msg string) {
	o.connecting = false

	if !o.foreground {
		o.reconnectOnForeground = true
		o.restartRecording = o.state == StateRecording || o.restartRecording
		o.setState(StateReconnectPending)
		o.logger.Debug("transport error while backgrounded, deferring", "error", msg)
		return
	}

	if IsTransient(msg) {
		o.reconnectOnForeground = false
		o.restartRecording = o.state == StateRecording || o.restartRecording
		o.reconnect()
		return
	}

	if o.state == StateConnecting {
		o.setState(StateIdle)
	}
	if o.suppressErrors {
		o.logger.Debug("suppressed transport error", "error", msg)
		return
	}
	if o.errorMessage == msg {
		return
	}
	o.errorMessage = msg
	o.logger.Error("session error", "error", msg)
	if o.opts.OnError != nil {
		o.opts.OnError(msg)
	}
}
