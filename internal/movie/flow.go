// ABOUTME: Single-shot capture-and-analyze flow: connect, prime, capture one frame, stream a reply
// ABOUTME: Runs are superseded, never queued; state lives on a serialized loop

package movie

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/2389/live-companion/internal/conversation"
	"github.com/2389/live-companion/internal/keyframe"
	"github.com/2389/live-companion/internal/realtime"
	"github.com/2389/live-companion/internal/scheduler"
	"github.com/2389/live-companion/internal/settings"
)

// MaxImageBase64Length bounds the encoded frame sent for analysis
const MaxImageBase64Length = 200_000

var (
	ErrStreamNotReady = errors.New("camera stream not ready")
	ErrNetwork        = errors.New("network error")
	ErrNoFrame        = errors.New("no frame available")
	ErrEmptyResponse  = errors.New("empty response")
	ErrTransport      = errors.New("transport error")
)

// Phase is the flow's position in a run
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseWaitingStreamReady
	PhaseWaitingConnection
	PhaseSessionPrimed
	PhaseWaitingFrame
	PhaseAnalyzing
	PhaseResult
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseWaitingStreamReady:
		return "waiting_stream_ready"
	case PhaseWaitingConnection:
		return "waiting_connection"
	case PhaseSessionPrimed:
		return "session_primed"
	case PhaseWaitingFrame:
		return "waiting_frame"
	case PhaseAnalyzing:
		return "analyzing"
	case PhaseResult:
		return "result"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// Done reports whether the phase ends a run
func (p Phase) Done() bool {
	return p == PhaseResult || p == PhaseError
}

// Timings control the polling waits
type Timings struct {
	PollInterval    time.Duration
	StreamAttempts  int
	ConnectAttempts int
	FrameAttempts   int
	Settle          time.Duration
}

// DefaultTimings returns the production waits
func DefaultTimings() Timings {
	return Timings{
		PollInterval:    150 * time.Millisecond,
		StreamAttempts:  40,
		ConnectAttempts: 20,
		FrameAttempts:   20,
		Settle:          time.Second,
	}
}

// RecordSaver persists a finished run
type RecordSaver interface {
	Save(ctx context.Context, record conversation.MovieRecord) error
}

// QualitySource supplies the current image settings
type QualitySource interface {
	Current() settings.Quality
}

// Deps are the collaborators a Flow drives. StreamReady and Frames are called
// from the run goroutine.
type Deps struct {
	Transport   realtime.Transport
	StreamReady func() bool
	Frames      func() image.Image
	Blobs       keyframe.AttachmentStore
	Records     RecordSaver
	Settings    QualitySource
}

// Options tune a Flow
type Options struct {
	Instructions string
	Timings      Timings
	Clock        clock.Clock
	Logger       *slog.Logger

	// OnUpdate runs on the flow loop after every visible change and must not block
	OnUpdate func(Snapshot)
}

// Snapshot is a point-in-time view of the flow
type Snapshot struct {
	Phase     Phase
	Result    *Result
	Err       error
	Connected bool
	RecordID  string
	SessionID string
}

// Flow runs capture-and-analyze experiences one at a time
type Flow struct {
	deps   Deps
	opts   Options
	loop   *scheduler.Loop
	logger *slog.Logger
	ctx    context.Context

	// loop-owned state
	phase      Phase
	runID      int
	cancel     context.CancelFunc
	connected  bool
	connecting bool
	primed     bool
	transcript string
	result     *Result
	err        error
	frame      image.Image
	recordID   string
	sessionID  string
}

// New creates a Flow. Call Run before using it.
func New(deps Deps, opts Options) *Flow {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Instructions == "" {
		opts.Instructions = Prompt
	}
	if opts.Timings == (Timings{}) {
		opts.Timings = DefaultTimings()
	}
	if deps.StreamReady == nil {
		deps.StreamReady = func() bool { return true }
	}
	loop := scheduler.NewLoop(opts.Clock)
	return &Flow{
		deps:   deps,
		opts:   opts,
		loop:   loop,
		logger: opts.Logger.With("component", "movie"),
		ctx:    context.Background(),
	}
}

// Run drives the flow loop and the transport event pump until ctx ends
func (f *Flow) Run(ctx context.Context) error {
	f.ctx = ctx
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return f.loop.Run(gctx)
	})
	g.Go(func() error {
		events := f.deps.Transport.Events()
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				f.loop.Post(func() { f.handleEvent(ev) })
			}
		}
	})
	return g.Wait()
}

// Prepare connects ahead of the first run
func (f *Flow) Prepare() {
	f.loop.Do(func() {
		f.err = nil
		f.connectIfNeeded()
	})
}

// Start begins a new run, cancelling any run in flight
func (f *Flow) Start() {
	f.loop.Do(f.start)
}

// Retry is Start
func (f *Flow) Retry() {
	f.Start()
}

// Stop cancels the current run and disconnects
func (f *Flow) Stop() {
	f.loop.Do(func() {
		f.cancelRun()
		f.runID++
		f.resetConnection()
		f.frame = nil
		f.setPhase(PhaseIdle)
	})
}

// Snapshot returns the current state
func (f *Flow) Snapshot() Snapshot {
	var s Snapshot
	f.loop.Do(func() { s = f.snapshot() })
	return s
}

func (f *Flow) snapshot() Snapshot {
	s := Snapshot{
		Phase:     f.phase,
		Err:       f.err,
		Connected: f.connected,
		RecordID:  f.recordID,
		SessionID: f.sessionID,
	}
	if f.result != nil {
		r := *f.result
		s.Result = &r
	}
	return s
}

func (f *Flow) notify() {
	if f.opts.OnUpdate != nil {
		f.opts.OnUpdate(f.snapshot())
	}
}

func (f *Flow) setPhase(p Phase) {
	if f.phase == p {
		return
	}
	f.logger.Debug("phase changed", "from", f.phase, "to", p)
	f.phase = p
	f.notify()
}

func (f *Flow) cancelRun() {
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
}

func (f *Flow) start() {
	f.cancelRun()
	f.runID++
	id := f.runID

	f.transcript = ""
	f.result = nil
	f.err = nil
	f.frame = nil
	f.recordID = ""
	f.sessionID = ""
	f.phase = PhaseIdle
	f.setPhase(PhaseConnecting)
	f.connectIfNeeded()

	ctx, cancel := context.WithCancel(f.ctx)
	f.cancel = cancel
	f.logger.Info("run started", "run", id)
	go f.run(ctx, id)
}

func (f *Flow) connectIfNeeded() {
	if f.connected || f.connecting {
		return
	}
	f.connecting = true
	f.deps.Transport.Connect(f.ctx)
}

func (f *Flow) resetConnection() {
	f.deps.Transport.Disconnect()
	f.connected = false
	f.connecting = false
	f.primed = false
}

// onRun runs fn on the loop if run id is still current
func (f *Flow) onRun(id int, fn func()) bool {
	current := false
	f.loop.Do(func() {
		if f.runID != id {
			return
		}
		current = true
		fn()
	})
	return current
}

func (f *Flow) fail(id int, err error, reset bool) {
	f.onRun(id, func() {
		f.logger.Warn("run failed", "run", id, "error", err)
		f.err = err
		if reset {
			f.resetConnection()
		}
		f.cancelRun()
		f.setPhase(PhaseError)
	})
}

func (f *Flow) run(ctx context.Context, id int) {
	t := f.opts.Timings
	clk := f.loop.Clock()

	if !f.onRun(id, func() { f.setPhase(PhaseWaitingStreamReady) }) {
		return
	}
	ready, err := scheduler.Poll(ctx, clk, t.StreamAttempts, t.PollInterval, f.deps.StreamReady)
	if err != nil {
		return
	}
	if !ready {
		f.fail(id, ErrStreamNotReady, false)
		return
	}

	if !f.onRun(id, func() { f.setPhase(PhaseWaitingConnection) }) {
		return
	}
	connected, err := scheduler.Poll(ctx, clk, t.ConnectAttempts, t.PollInterval, func() bool {
		var ok bool
		f.loop.Do(func() { ok = f.connected })
		return ok
	})
	if err != nil {
		return
	}
	if !connected {
		f.fail(id, ErrNetwork, true)
		return
	}

	if !f.onRun(id, f.primeSession) {
		return
	}
	if err := scheduler.Sleep(ctx, clk, t.Settle); err != nil {
		return
	}

	if !f.onRun(id, func() { f.setPhase(PhaseWaitingFrame) }) {
		return
	}
	var frame image.Image
	found, err := scheduler.Poll(ctx, clk, t.FrameAttempts, t.PollInterval, func() bool {
		frame = f.deps.Frames()
		return frame != nil
	})
	if err != nil {
		return
	}
	if !found {
		f.fail(id, ErrNoFrame, false)
		return
	}

	f.onRun(id, func() { f.analyze(frame) })
}

func (f *Flow) primeSession() {
	f.setPhase(PhaseSessionPrimed)
	f.primed = false

	instructions, tag := SessionInstructions(f.opts.Instructions)
	f.sessionID = tag
	if err := f.deps.Transport.UpdateSessionInstructions(instructions); err != nil {
		f.logger.Warn("failed to update session instructions", "error", err)
	}

	// image content is only accepted after a committed audio buffer
	if err := f.deps.Transport.SendAudioAppend(SilentPrimer()); err != nil {
		f.logger.Warn("failed to send audio primer", "error", err)
		return
	}
	if err := f.deps.Transport.CommitAudioBuffer(); err != nil {
		f.logger.Warn("failed to commit audio primer", "error", err)
		return
	}
	f.primed = true
	f.logger.Debug("session primed", "session", tag)
}

func (f *Flow) analyze(frame image.Image) {
	f.frame = frame
	f.setPhase(PhaseAnalyzing)

	q := f.deps.Settings.Current()
	if err := f.deps.Transport.SendImageAppend(frame, q.MaxDimension, q.ImageQuality, MaxImageBase64Length); err != nil {
		f.logger.Warn("failed to send frame", "error", err)
	}
	if err := f.deps.Transport.SendUserMessage(UserPrompt, nil, q.MaxDimension, q.ImageQuality); err != nil {
		f.logger.Warn("failed to send prompt", "error", err)
	}
	if err := f.deps.Transport.RequestResponse(); err != nil {
		f.logger.Warn("failed to request response", "error", err)
	}
}

func (f *Flow) handleEvent(ev realtime.Event) {
	switch ev.Type {
	case realtime.EventConnected:
		f.connected = true
		f.connecting = false
		f.notify()

	case realtime.EventTranscriptDelta:
		if f.phase != PhaseAnalyzing {
			return
		}
		f.transcript += ev.Text
		r := Parse(f.transcript)
		f.result = &r
		f.notify()

	case realtime.EventTranscriptDone:
		if f.phase != PhaseAnalyzing {
			return
		}
		text := ev.Text
		if text == "" {
			text = f.transcript
		}
		f.transcript = text
		f.finish()

	case realtime.EventAudioDone:
		if f.phase == PhaseAnalyzing && f.transcript == "" {
			f.finish()
		}

	case realtime.EventError:
		f.logger.Error("transport error", "error", ev.Text)
		f.err = fmt.Errorf("%w: %s", ErrTransport, ev.Text)
		f.cancelRun()
		f.runID++
		f.resetConnection()
		if f.phase == PhaseError {
			f.notify()
			return
		}
		f.setPhase(PhaseError)
	}
}

func (f *Flow) finish() {
	f.cancelRun()
	if f.transcript == "" {
		f.err = ErrEmptyResponse
		f.setPhase(PhaseError)
		return
	}

	r := Parse(f.transcript)
	f.result = &r
	f.logger.Info("analysis complete", "headline", r.Headline)
	f.persist(r)
	f.setPhase(PhaseResult)
}

func (f *Flow) persist(r Result) {
	if f.deps.Records == nil {
		return
	}

	record := conversation.MovieRecord{
		ID:        uuid.New().String(),
		Timestamp: f.loop.Clock().Now(),
		Headline:  r.Headline,
		Narration: r.Narration,
		RawText:   r.RawText,
	}
	if f.frame != nil && f.deps.Blobs != nil {
		q := f.deps.Settings.Current()
		att, err := f.deps.Blobs.Save(f.frame, q.MaxDimension, q.ImageQuality)
		if err != nil {
			f.logger.Warn("captured frame not persisted", "error", err)
		} else {
			record.ImageAttachment = &att
		}
	}

	if err := f.deps.Records.Save(context.WithoutCancel(f.ctx), record); err != nil {
		f.logger.Error("failed to save movie record", "record_id", record.ID, "error", err)
		if record.ImageAttachment != nil {
			f.deps.Blobs.Delete(record.Attachments())
		}
		return
	}
	f.recordID = record.ID
}

// SilentPrimer is 120ms of 24kHz mono PCM16 silence, base64 encoded
func SilentPrimer() string {
	const sampleRate = 24_000
	const durationMs = 120
	samples := max(1, sampleRate*durationMs/1000)
	return base64.StdEncoding.EncodeToString(make([]byte, samples*2))
}
