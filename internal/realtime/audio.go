// ABOUTME: Real-time pacing for recorded audio sources
// ABOUTME: Lets a PCM file or pipe stand in for a live microphone

package realtime

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// PCM16 mono at the input sample rate the service expects
const (
	InputSampleRate     = 16_000
	InputBytesPerSecond = InputSampleRate * 2
	audioChunkBytes     = InputBytesPerSecond / 10
)

// PacedSource releases audio no faster than bytesPerSecond
type PacedSource struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

// NewPacedSource wraps r. Reads return context errors once ctx is done.
func NewPacedSource(ctx context.Context, r io.Reader, bytesPerSecond int) *PacedSource {
	if bytesPerSecond <= 0 {
		bytesPerSecond = InputBytesPerSecond
	}
	burst := min(audioChunkBytes, bytesPerSecond)
	return &PacedSource{
		ctx:     ctx,
		r:       r,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
	}
}

func (p *PacedSource) Read(b []byte) (int, error) {
	if burst := p.limiter.Burst(); len(b) > burst {
		b = b[:burst]
	}
	n, err := p.r.Read(b)
	if n > 0 {
		if werr := p.limiter.WaitN(p.ctx, n); werr != nil {
			return 0, werr
		}
	}
	return n, err
}
