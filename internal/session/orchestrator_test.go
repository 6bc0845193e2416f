// ABOUTME: Tests for the session orchestrator's connection, reconnection, and save semantics
// ABOUTME: Drives a fake transport and a mock clock through the serialized loop

package session

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/live-companion/internal/conversation"
	"github.com/2389/live-companion/internal/keyframe"
	"github.com/2389/live-companion/internal/realtime"
	"github.com/2389/live-companion/internal/settings"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type fixedQuality settings.Quality

func (q fixedQuality) Current() settings.Quality { return settings.Quality(q) }

type memRecords struct {
	mu      sync.Mutex
	records []conversation.Record
	err     error
}

func (m *memRecords) Save(ctx context.Context, r conversation.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, r)
	return nil
}

func (m *memRecords) all() []conversation.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]conversation.Record(nil), m.records...)
}

type memBlobs struct {
	mu      sync.Mutex
	n       int
	deleted []conversation.Attachment
}

func (b *memBlobs) Save(img image.Image, maxDimension int, quality float64) (conversation.Attachment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.n++
	id := string(rune('a' + b.n - 1))
	return conversation.Attachment{ID: id, FileName: id + "-preview.jpg"}, nil
}

func (b *memBlobs) Delete(atts []conversation.Attachment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, atts...)
}

type harness struct {
	o         *Orchestrator
	transport *realtime.FakeTransport
	clock     *clock.Mock
	records   *memRecords
	blobs     *memBlobs

	mu          sync.Mutex
	transitions []State
	errors      []string
}

func newHarness(t *testing.T, autoConnect bool, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		transport: realtime.NewFakeTransport(),
		clock:     clock.NewMock(),
		records:   &memRecords{},
		blobs:     &memBlobs{},
	}
	h.transport.AutoConnect = autoConnect

	opts := Options{
		Category: conversation.CategoryLiveAI,
		Language: "zh-CN",
		Clock:    h.clock,
		OnStateChange: func(from, to State) {
			h.mu.Lock()
			h.transitions = append(h.transitions, to)
			h.mu.Unlock()
		},
		OnError: func(msg string) {
			h.mu.Lock()
			h.errors = append(h.errors, msg)
			h.mu.Unlock()
		},
	}
	if mutate != nil {
		mutate(&opts)
	}

	h.o = New(Deps{
		Transport: h.transport,
		Records:   h.records,
		Blobs:     h.blobs,
		Settings:  fixedQuality(settings.Defaults()),
	}, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.o.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) count(state State) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, s := range h.transitions {
		if s == state {
			n++
		}
	}
	return n
}

func (h *harness) surfaced() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.errors...)
}

// drain emits a marker delta and waits until the loop has processed it,
// guaranteeing every earlier event was handled
func (h *harness) drain(t *testing.T, marker string) {
	t.Helper()
	h.transport.Emit(realtime.Event{Type: realtime.EventTranscriptDelta, Text: marker})
	require.Eventually(t, func() bool {
		s := h.o.Status()
		return len(s.PartialTranscript) >= len(marker) &&
			s.PartialTranscript[len(s.PartialTranscript)-len(marker):] == marker
	}, waitFor, tick)
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.o.Status().State == want }, waitFor, tick)
}

func TestConnect_ConcurrentCallsConnectOnce(t *testing.T) {
	h := newHarness(t, false, nil)

	h.o.Connect()
	h.o.Connect()

	assert.Equal(t, 1, h.transport.Count("Connect"))
	assert.Equal(t, 1, h.count(StateConnecting))
	assert.Equal(t, StateConnecting, h.o.Status().State)
}

func TestConnect_ThenRecord(t *testing.T) {
	h := newHarness(t, true, nil)

	h.o.Connect()
	h.waitState(t, StateConnected)

	require.NoError(t, h.o.StartRecording())
	assert.Equal(t, StateRecording, h.o.Status().State)
	assert.Equal(t, 1, h.transport.Count("StartRecording"))

	require.NoError(t, h.o.StartRecording())
	assert.Equal(t, 1, h.transport.Count("StartRecording"))

	h.o.StopRecording()
	assert.Equal(t, StateConnected, h.o.Status().State)
	assert.Equal(t, 1, h.transport.Count("StopRecording"))
}

func TestStartRecording_RequiresConnection(t *testing.T) {
	h := newHarness(t, false, nil)

	err := h.o.StartRecording()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, ErrNotConnected.Error(), h.o.Status().ErrorMessage)
	assert.Zero(t, h.transport.Count("StartRecording"))

	h.o.DismissError()
	assert.Empty(t, h.o.Status().ErrorMessage)
}

func TestTransientErrors_SingleReconnect(t *testing.T) {
	h := newHarness(t, true, nil)

	h.o.Connect()
	h.waitState(t, StateConnected)
	require.NoError(t, h.o.StartRecording())

	h.transport.Emit(realtime.Event{Type: realtime.EventError, Text: "read tcp: connection reset by peer"})
	h.transport.Emit(realtime.Event{Type: realtime.EventError, Text: "write: broken pipe"})
	h.drain(t, "x")

	assert.Equal(t, StateReconnectPending, h.o.Status().State)
	assert.Equal(t, 1, h.transport.Count("Disconnect"))
	assert.Equal(t, 1, h.transport.Count("Connect"))
	assert.Empty(t, h.surfaced())

	h.clock.Add(DefaultReconnectDelay)
	require.Eventually(t, func() bool { return h.transport.Count("Connect") == 2 }, waitFor, tick)

	// recording resumes once the new connection is up
	h.waitState(t, StateRecording)
	assert.Equal(t, 2, h.transport.Count("StartRecording"))
	assert.Empty(t, h.o.Status().ErrorMessage)
}

func TestNonTransientError_SurfacedOnce(t *testing.T) {
	h := newHarness(t, false, nil)

	h.o.Connect()
	h.transport.Emit(realtime.Event{Type: realtime.EventError, Text: "invalid api key"})
	h.transport.Emit(realtime.Event{Type: realtime.EventError, Text: "invalid api key"})
	h.drain(t, "x")

	assert.Equal(t, []string{"invalid api key"}, h.surfaced())
	status := h.o.Status()
	assert.Equal(t, "invalid api key", status.ErrorMessage)
	assert.Equal(t, StateIdle, status.State)

	// a failed attempt can be retried
	h.o.Connect()
	assert.Equal(t, 2, h.transport.Count("Connect"))
}

func TestDisconnect_SavesOnce(t *testing.T) {
	h := newHarness(t, true, nil)

	h.o.Connect()
	h.waitState(t, StateConnected)

	h.transport.Emit(realtime.Event{Type: realtime.EventUserTranscript, Text: "今天天气怎么样"})
	h.transport.Emit(realtime.Event{Type: realtime.EventTranscriptDelta, Text: "晴"})
	h.transport.Emit(realtime.Event{Type: realtime.EventTranscriptDelta, Text: "天"})
	h.transport.Emit(realtime.Event{Type: realtime.EventTranscriptDone})
	require.Eventually(t, func() bool { return len(h.o.Status().Messages) == 2 }, waitFor, tick)

	h.o.Disconnect()
	h.o.Disconnect()

	records := h.records.all()
	require.Len(t, records, 1)
	msgs := records[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, conversation.RoleUser, msgs[0].Role)
	assert.Equal(t, "今天天气怎么样", msgs[0].Content)
	assert.Equal(t, conversation.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "晴天", msgs[1].Content)
	assert.Equal(t, "zh-CN", records[0].Language)
	assert.Equal(t, conversation.CategoryLiveAI, records[0].Category)

	status := h.o.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.Empty(t, status.Messages)
	assert.Empty(t, status.PartialTranscript)
}

func nextUpdate(t *testing.T, ch <-chan Update, match func(Update) bool) Update {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case u, ok := <-ch:
			require.True(t, ok, "update channel closed")
			if match(u) {
				return u
			}
		case <-deadline:
			t.Fatal("timed out waiting for update")
		}
	}
}

func TestSubscribe_StreamsMessagesAndLifecycle(t *testing.T) {
	h := newHarness(t, true, nil)
	updates := h.o.Subscribe(t.Context())

	h.o.Connect()
	u := nextUpdate(t, updates, func(u Update) bool { return u.Kind == UpdateState })
	assert.Equal(t, StateConnecting, u.State)
	u = nextUpdate(t, updates, func(u Update) bool { return u.Kind == UpdateState })
	assert.Equal(t, StateConnected, u.State)

	isMessage := func(u Update) bool { return u.Kind == UpdateMessage }
	h.transport.Emit(realtime.Event{Type: realtime.EventUserTranscript, Text: "你好"})
	u = nextUpdate(t, updates, isMessage)
	assert.Equal(t, conversation.RoleUser, u.Message.Role)
	assert.Equal(t, "你好", u.Message.Content)
	userID := u.Message.ID

	h.transport.Emit(realtime.Event{Type: realtime.EventUserTranscript, Text: "在吗"})
	u = nextUpdate(t, updates, isMessage)
	assert.Equal(t, userID, u.Message.ID)
	assert.Equal(t, "你好 在吗", u.Message.Content)

	h.transport.Emit(realtime.Event{Type: realtime.EventTranscriptDone, Text: "在的"})
	u = nextUpdate(t, updates, isMessage)
	assert.Equal(t, conversation.RoleAssistant, u.Message.Role)
	assert.Equal(t, "在的", u.Message.Content)

	h.o.Disconnect()
	nextUpdate(t, updates, func(u Update) bool { return u.Kind == UpdateCleared })
	u = nextUpdate(t, updates, func(u Update) bool { return u.Kind == UpdateState && u.State == StateIdle })
	assert.Equal(t, StateIdle, u.State)
}

func TestDisconnect_WhileRecordingStopsTransport(t *testing.T) {
	h := newHarness(t, true, nil)

	h.o.Connect()
	h.waitState(t, StateConnected)
	require.NoError(t, h.o.StartRecording())

	h.o.Disconnect()

	assert.Equal(t, 1, h.transport.Count("StopRecording"))
	assert.Equal(t, 1, h.transport.Count("Disconnect"))
	assert.Equal(t, StateIdle, h.o.Status().State)

	var order []string
	for _, c := range h.transport.Calls() {
		if c.Method == "StopRecording" || c.Method == "Disconnect" {
			order = append(order, c.Method)
		}
	}
	assert.Equal(t, []string{"StopRecording", "Disconnect"}, order)
}

func TestDisconnect_EmptyConversationNotSaved(t *testing.T) {
	h := newHarness(t, true, nil)

	h.o.Connect()
	h.waitState(t, StateConnected)
	h.o.Disconnect()

	assert.Empty(t, h.records.all())
}

func TestDisconnect_SaveFailureStillTearsDown(t *testing.T) {
	h := newHarness(t, true, nil)
	h.records.err = errors.New("disk full")

	h.o.Connect()
	h.waitState(t, StateConnected)
	h.transport.Emit(realtime.Event{Type: realtime.EventUserTranscript, Text: "hi"})
	require.Eventually(t, func() bool { return len(h.o.Status().Messages) == 1 }, waitFor, tick)

	h.o.Disconnect()
	assert.Equal(t, StateIdle, h.o.Status().State)
	assert.Equal(t, 1, h.transport.Count("Disconnect"))
}

func TestDisconnect_LateErrorsDropped(t *testing.T) {
	h := newHarness(t, true, nil)

	h.o.Connect()
	h.waitState(t, StateConnected)
	h.o.Disconnect()

	h.transport.Emit(realtime.Event{Type: realtime.EventError, Text: "socket closed"})
	h.transport.Emit(realtime.Event{Type: realtime.EventConnected})
	require.Eventually(t, func() bool { return len(h.transport.Events()) == 0 }, waitFor, tick)

	assert.Never(t, func() bool {
		return len(h.surfaced()) > 0 || h.o.Status().State != StateIdle
	}, 50*time.Millisecond, tick)
}

func TestBackground_DefersConnect(t *testing.T) {
	h := newHarness(t, true, nil)

	h.o.EnteredBackground()
	h.o.Connect()
	assert.Zero(t, h.transport.Count("Connect"))
	assert.Equal(t, StateIdle, h.o.Status().State)

	h.o.EnteringForeground()
	assert.Equal(t, StateReconnectPending, h.o.Status().State)

	h.clock.Add(DefaultReconnectDelay)
	require.Eventually(t, func() bool { return h.transport.Count("Connect") == 1 }, waitFor, tick)
	h.waitState(t, StateConnected)
}

func TestBackground_ErrorsSuppressedThenRecover(t *testing.T) {
	h := newHarness(t, true, nil)

	h.o.Connect()
	h.waitState(t, StateConnected)
	require.NoError(t, h.o.StartRecording())

	h.o.EnteredBackground()
	h.transport.Emit(realtime.Event{Type: realtime.EventError, Text: "Software caused connection abort"})
	h.transport.Emit(realtime.Event{Type: realtime.EventError, Text: "something else broke"})
	h.drain(t, "x")

	assert.Equal(t, StateReconnectPending, h.o.Status().State)
	assert.Empty(t, h.surfaced())
	assert.Empty(t, h.o.Status().ErrorMessage)

	h.o.EnteringForeground()
	h.clock.Add(DefaultReconnectDelay)
	h.waitState(t, StateRecording)
	assert.Equal(t, 2, h.transport.Count("Connect"))
}

func TestBackground_WithoutSessionDoesNothing(t *testing.T) {
	h := newHarness(t, true, nil)

	h.o.EnteredBackground()
	h.o.EnteringForeground()

	assert.Zero(t, h.transport.Count("Connect"))
	assert.Zero(t, h.transport.Count("Disconnect"))
	assert.Equal(t, StateIdle, h.o.Status().State)
}

func TestKeyframes_AttachToUserMessage(t *testing.T) {
	h := newHarness(t, true, func(o *Options) { o.EnableImageInput = true })

	h.o.Connect()
	h.waitState(t, StateConnected)
	h.o.UpdateFrame(solid(64, 48))

	h.transport.Emit(realtime.Event{Type: realtime.EventFirstAudioSent})
	h.drain(t, "x")
	assert.False(t, h.o.Status().ImagesEnabled)

	h.clock.Add(DefaultImageUnlockDelay)
	require.Eventually(t, func() bool { return h.o.Status().ImagesEnabled }, waitFor, tick)

	h.transport.Emit(realtime.Event{Type: realtime.EventSpeechStarted})
	require.Eventually(t, func() bool { return h.o.Status().Window == keyframe.WindowOpen }, waitFor, tick)

	h.clock.Add(0)
	require.Eventually(t, func() bool { return h.transport.Count("SendImageAppend") == 1 }, waitFor, tick)

	h.transport.Emit(realtime.Event{Type: realtime.EventUserTranscript, Text: "这是什么"})
	require.Eventually(t, func() bool { return len(h.o.Status().Messages) == 1 }, waitFor, tick)

	status := h.o.Status()
	assert.True(t, status.Speaking)
	assert.Equal(t, keyframe.WindowAssociated, status.Window)
	require.Len(t, status.Messages[0].ImageAttachments, 1)
	assert.Equal(t, "a-preview.jpg", status.Messages[0].ImageAttachments[0].FileName)
}

func TestKeyframes_SkippedBeforeUnlock(t *testing.T) {
	h := newHarness(t, true, func(o *Options) { o.EnableImageInput = true })

	h.o.Connect()
	h.waitState(t, StateConnected)
	h.o.UpdateFrame(solid(64, 48))

	h.transport.Emit(realtime.Event{Type: realtime.EventSpeechStarted})
	h.drain(t, "x")

	assert.Equal(t, keyframe.WindowNone, h.o.Status().Window)
	assert.True(t, h.o.Status().Speaking)
}

func TestUpdateInstructionsAndCommit(t *testing.T) {
	h := newHarness(t, true, nil)

	require.NoError(t, h.o.UpdateInstructions("be brief"))
	require.NoError(t, h.o.SendMessage())

	call, ok := h.transport.Last("UpdateSessionInstructions")
	require.True(t, ok)
	assert.Equal(t, "be brief", call.Text)
	assert.Equal(t, 1, h.transport.Count("CommitAudioBuffer"))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"Software caused connection abort", true},
		{"The network connection was lost.", true},
		{"read tcp 10.0.0.1:5000: connection reset by peer", true},
		{"write: broken pipe", true},
		{"websocket: close 1006 (abnormal closure): unexpected EOF", true},
		{"软件导致连接终止", true},
		{"网络连接已断开", true},
		{"invalid api key", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.msg))
		})
	}
}

func solid(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	return img
}
