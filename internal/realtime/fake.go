// ABOUTME: Scriptable in-memory Transport for testing the session and single-shot flows
// ABOUTME: Records every call and lets tests inject events

package realtime

import (
	"context"
	"image"
	"sync"
)

// Call records one transport invocation
type Call struct {
	Method string
	Text   string
	Image  image.Image
	Limit  int
}

// FakeTransport is a Transport that never touches the network
type FakeTransport struct {
	mu    sync.Mutex
	calls []Call

	// AutoConnect emits EventConnected from Connect
	AutoConnect bool

	events chan Event
}

// NewFakeTransport creates a FakeTransport
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{events: make(chan Event, 256)}
}

// Emit injects an event as if the service had sent it
func (f *FakeTransport) Emit(ev Event) {
	f.events <- ev
}

// Events returns the event stream
func (f *FakeTransport) Events() <-chan Event {
	return f.events
}

// Calls returns a copy of the recorded calls
func (f *FakeTransport) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Count returns how many times method was called
func (f *FakeTransport) Count(method string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Last returns the most recent call to method
func (f *FakeTransport) Last(method string) (Call, bool) {
	calls := f.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Method == method {
			return calls[i], true
		}
	}
	return Call{}, false
}

func (f *FakeTransport) record(c Call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *FakeTransport) Connect(ctx context.Context) {
	f.record(Call{Method: "Connect"})
	if f.AutoConnect {
		f.Emit(Event{Type: EventConnected})
	}
}

func (f *FakeTransport) Disconnect()     { f.record(Call{Method: "Disconnect"}) }
func (f *FakeTransport) StartRecording() { f.record(Call{Method: "StartRecording"}) }
func (f *FakeTransport) StopRecording()  { f.record(Call{Method: "StopRecording"}) }

func (f *FakeTransport) SendAudioAppend(base64Audio string) error {
	f.record(Call{Method: "SendAudioAppend", Text: base64Audio})
	return nil
}

func (f *FakeTransport) CommitAudioBuffer() error {
	f.record(Call{Method: "CommitAudioBuffer"})
	return nil
}

func (f *FakeTransport) SendImageAppend(img image.Image, maxDimension int, quality float64, maxBase64Length int) error {
	f.record(Call{Method: "SendImageAppend", Image: img, Limit: maxBase64Length})
	return nil
}

func (f *FakeTransport) SendUserMessage(text string, img image.Image, maxDimension int, quality float64) error {
	f.record(Call{Method: "SendUserMessage", Text: text, Image: img})
	return nil
}

func (f *FakeTransport) RequestResponse() error {
	f.record(Call{Method: "RequestResponse"})
	return nil
}

func (f *FakeTransport) UpdateSessionInstructions(text string) error {
	f.record(Call{Method: "UpdateSessionInstructions", Text: text})
	return nil
}

var (
	_ Transport = (*FakeTransport)(nil)
	_ Transport = (*Client)(nil)
)
