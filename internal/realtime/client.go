// ABOUTME: Websocket client for OpenAI-compatible realtime endpoints (e.g. qwen-omni realtime)
// ABOUTME: Translates server events into Events and client calls into protocol messages

package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/live-companion/internal/dedupe"
	"github.com/2389/live-companion/internal/imaging"
)

// ErrNotConnected is returned by send calls without an open socket
var ErrNotConnected = errors.New("realtime: not connected")

// DefaultInstructions configure the model for the live assistant experience
const DefaultInstructions = "你是一个实时视觉助手。用户通过智能眼镜与你对话，你能看到用户看到的画面。请用简洁、口语化的中文回答。"

// Config holds the endpoint and session parameters
type Config struct {
	URL          string
	APIKey       string
	Model        string
	Voice        string
	Instructions string
}

// AudioSource yields raw PCM16 mono chunks while recording. Read returning
// io.EOF ends the stream.
type AudioSource interface {
	Read(p []byte) (int, error)
}

// Client implements Transport over a websocket
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	audio  AudioSource
	logger *slog.Logger

	events chan Event
	closed chan struct{}
	seen   *dedupe.Cache
	once   sync.Once

	mu             sync.Mutex
	conn           *websocket.Conn
	generation     int
	instructions   string
	recording      bool
	stopAudio      context.CancelFunc
	firstAudioSent bool
	sessionReady   bool

	writeMu sync.Mutex
}

// NewClient creates a transport. audio may be nil when the caller feeds audio
// through SendAudioAppend.
func NewClient(cfg Config, audio AudioSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Instructions == "" {
		cfg.Instructions = DefaultInstructions
	}
	return &Client{
		cfg:          cfg,
		dialer:       &websocket.Dialer{HandshakeTimeout: 15 * time.Second, Proxy: http.ProxyFromEnvironment},
		audio:        audio,
		logger:       logger.With("component", "realtime"),
		events:       make(chan Event, 256),
		closed:       make(chan struct{}),
		seen:         dedupe.New(time.Minute, 256, nil),
		instructions: cfg.Instructions,
	}
}

// Events returns the ordered event stream
func (c *Client) Events() <-chan Event {
	return c.events
}

// Close disconnects and stops event delivery
func (c *Client) Close() {
	c.Disconnect()
	c.once.Do(func() { close(c.closed) })
}

// Connect dials in the background
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	go c.dial(ctx, gen)
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parsing realtime url: %w", err)
	}
	if c.cfg.Model != "" {
		q := u.Query()
		q.Set("model", c.cfg.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) dial(ctx context.Context, gen int) {
	endpoint, err := c.endpoint()
	if err != nil {
		c.emit(Event{Type: EventError, Text: err.Error()})
		return
	}

	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	conn, _, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if c.current(gen) {
			c.emit(Event{Type: EventError, Text: err.Error()})
		}
		return
	}

	c.mu.Lock()
	if gen != c.generation {
		// superseded by a Disconnect or another Connect while dialing
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.firstAudioSent = false
	c.sessionReady = false
	c.mu.Unlock()

	c.logger.Info("realtime socket open", "url", endpoint)
	if err := c.sendSessionUpdate(); err != nil {
		c.emit(Event{Type: EventError, Text: err.Error()})
	}
	go c.readLoop(conn, gen)
}

// Disconnect closes the socket. Errors from the closing socket are not reported.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.generation++
	conn := c.conn
	c.conn = nil
	c.recording = false
	if c.stopAudio != nil {
		c.stopAudio()
		c.stopAudio = nil
	}
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		conn.Close()
		c.logger.Info("realtime socket closed")
	}
}

// StartRecording begins streaming from the audio source, if any
func (c *Client) StartRecording() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recording {
		return
	}
	c.recording = true
	if c.audio == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.stopAudio = cancel
	go c.pumpAudio(ctx)
}

// StopRecording stops the audio pump
func (c *Client) StopRecording() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recording = false
	if c.stopAudio != nil {
		c.stopAudio()
		c.stopAudio = nil
	}
}

func (c *Client) pumpAudio(ctx context.Context) {
	// 100ms of 16kHz PCM16
	buf := make([]byte, 3200)
	for ctx.Err() == nil {
		n, err := c.audio.Read(buf)
		if n > 0 {
			if sendErr := c.SendAudioAppend(base64.StdEncoding.EncodeToString(buf[:n])); sendErr != nil {
				c.logger.Debug("audio append failed", "error", sendErr)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Warn("audio source failed", "error", err)
			}
			return
		}
	}
}

// SendAudioAppend appends base64 PCM to the input buffer
func (c *Client) SendAudioAppend(base64Audio string) error {
	if err := c.send(map[string]any{"type": "input_audio_buffer.append", "audio": base64Audio}); err != nil {
		return err
	}

	c.mu.Lock()
	first := !c.firstAudioSent
	c.firstAudioSent = true
	c.mu.Unlock()
	if first {
		c.emit(Event{Type: EventFirstAudioSent})
	}
	return nil
}

// CommitAudioBuffer commits appended audio
func (c *Client) CommitAudioBuffer() error {
	return c.send(map[string]any{"type": "input_audio_buffer.commit"})
}

// SendImageAppend sends a JPEG frame as image context
func (c *Client) SendImageAppend(img image.Image, maxDimension int, quality float64, maxBase64Length int) error {
	data, err := imaging.EncodeBase64JPEG(img, maxDimension, quality, maxBase64Length)
	if err != nil {
		return err
	}
	return c.send(map[string]any{"type": "input_image_buffer.append", "image": data})
}

// SendUserMessage creates a user conversation item with text and an optional image
func (c *Client) SendUserMessage(text string, img image.Image, maxDimension int, quality float64) error {
	content := []map[string]any{{"type": "input_text", "text": text}}
	if img != nil {
		data, err := imaging.EncodeBase64JPEG(img, maxDimension, quality, 0)
		if err != nil {
			return err
		}
		content = append(content, map[string]any{"type": "input_image", "image": data})
	}
	return c.send(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{"type": "message", "role": "user", "content": content},
	})
}

// RequestResponse asks the model to respond
func (c *Client) RequestResponse() error {
	return c.send(map[string]any{"type": "response.create"})
}

// UpdateSessionInstructions replaces the session prompt
func (c *Client) UpdateSessionInstructions(text string) error {
	c.mu.Lock()
	c.instructions = text
	c.mu.Unlock()
	return c.sendSessionUpdate()
}

func (c *Client) sendSessionUpdate() error {
	c.mu.Lock()
	instructions := c.instructions
	c.mu.Unlock()

	voice := c.cfg.Voice
	if voice == "" {
		voice = "Cherry"
	}
	return c.send(map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":          []string{"text", "audio"},
			"voice":               voice,
			"instructions":        instructions,
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm24",
			"input_audio_transcription": map[string]any{
				"model": "gummy-realtime-v1",
			},
			"turn_detection": map[string]any{
				"type":                "server_vad",
				"threshold":           0.5,
				"silence_duration_ms": 800,
			},
		},
	})
}

func (c *Client) send(msg map[string]any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %v: %w", msg["type"], err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("sending %v: %w", msg["type"], err)
	}
	return nil
}

// serverEvent is the subset of server event fields the client understands
type serverEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Text       string `json:"text"`
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Error      *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (c *Client) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.current(gen) {
				c.emit(Event{Type: EventError, Text: err.Error()})
			}
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warn("undecodable server event", "error", err)
			continue
		}
		if out, ok := c.translate(ev); ok && c.current(gen) {
			c.emit(out)
		}
	}
}

func (c *Client) translate(ev serverEvent) (Event, bool) {
	switch ev.Type {
	case "session.created", "session.updated":
		c.mu.Lock()
		first := !c.sessionReady
		c.sessionReady = true
		c.mu.Unlock()
		return Event{Type: EventConnected}, first
	case "input_audio_buffer.speech_started":
		return Event{Type: EventSpeechStarted}, true
	case "input_audio_buffer.speech_stopped":
		return Event{Type: EventSpeechStopped}, true
	case "response.audio_transcript.delta", "response.text.delta":
		return Event{Type: EventTranscriptDelta, Text: ev.Delta}, true
	case "response.audio_transcript.done":
		return Event{Type: EventTranscriptDone, Text: ev.Transcript}, c.firstSeen("done", ev)
	case "response.text.done":
		return Event{Type: EventTranscriptDone, Text: ev.Text}, c.firstSeen("done", ev)
	case "conversation.item.input_audio_transcription.completed":
		return Event{Type: EventUserTranscript, Text: ev.Transcript}, c.firstSeen("user", ev)
	case "response.audio.done":
		return Event{Type: EventAudioDone}, true
	case "error":
		msg := "unknown realtime error"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		return Event{Type: EventError, Text: msg}, true
	default:
		return Event{}, false
	}
}

// firstSeen reports whether this is the first completion for the event's item.
// Events without identities are always delivered.
func (c *Client) firstSeen(kind string, ev serverEvent) bool {
	if ev.ItemID == "" {
		return true
	}
	return !c.seen.CheckAndMark(kind + ":" + ev.ResponseID + ":" + ev.ItemID)
}

func (c *Client) current(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.generation
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}
