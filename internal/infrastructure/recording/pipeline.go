package recording

import (
	"context"
	"sync"
	"time"

	"vitalink/internal/core/domain"

	"go.uber.org/zap"
)

// Pipeline buffers timestamped chunks of the composed local stream and
// assembles a single downloadable artifact at stop time. It records the local
// capture, not any remote participant, so it survives join/leave churn; track
// substitutions re-attach the source without losing buffered chunks.
type Pipeline struct {
	mimeType string
	maxBytes int64

	mu         sync.Mutex
	active     bool
	startedAt  time.Time
	chunks     []domain.MediaChunk
	totalBytes int64

	stop chan struct{}
	swap chan (<-chan domain.MediaChunk)

	logger *zap.SugaredLogger
}

func NewPipeline(mimeType string, maxBytes int64, logger *zap.SugaredLogger) *Pipeline {
	return &Pipeline{
		mimeType: mimeType,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

func (p *Pipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Start begins buffering from the given chunk source. Only one recording may
// be active at a time.
func (p *Pipeline) Start(ctx context.Context, source <-chan domain.MediaChunk) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active {
		return domain.ErrRecordingActive
	}

	p.active = true
	p.startedAt = time.Now()
	p.chunks = nil
	p.totalBytes = 0
	p.stop = make(chan struct{})
	p.swap = make(chan (<-chan domain.MediaChunk), 1)

	go p.consume(source, p.stop, p.swap)

	p.logger.Infow("recording started", "mime_type", p.mimeType)
	return nil
}

// Reattach swaps the chunk source mid-recording, keeping everything buffered
// so far. No-op when no recording is active.
func (p *Pipeline) Reattach(source <-chan domain.MediaChunk) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return
	}
	select {
	case p.swap <- source:
	default:
		// A pending swap is superseded; drain and replace.
		select {
		case <-p.swap:
		default:
		}
		p.swap <- source
	}
}

// Stop finalizes the recording and returns the assembled artifact.
func (p *Pipeline) Stop() (*domain.RecordingArtifact, error) {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return nil, domain.ErrRecordingNotActive
	}
	p.active = false
	close(p.stop)
	chunks := p.chunks
	p.chunks = nil
	startedAt := p.startedAt
	total := p.totalBytes
	p.mu.Unlock()

	data := make([]byte, 0, total)
	for _, chunk := range chunks {
		data = append(data, chunk.Data...)
	}

	artifact := &domain.RecordingArtifact{
		Data:      data,
		MimeType:  p.mimeType,
		StartedAt: startedAt,
		StoppedAt: time.Now(),
	}
	p.logger.Infow("recording stopped",
		"bytes", len(artifact.Data), "duration", artifact.Duration())
	return artifact, nil
}

func (p *Pipeline) consume(source <-chan domain.MediaChunk, stop <-chan struct{}, swap <-chan (<-chan domain.MediaChunk)) {
	for {
		select {
		case <-stop:
			return
		case next := <-swap:
			source = next
		case chunk, ok := <-source:
			if !ok {
				// Source went away (track substitution in flight); park
				// until a new one is attached.
				source = nil
				continue
			}
			p.append(chunk)
		}
	}
}

func (p *Pipeline) append(chunk domain.MediaChunk) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return
	}
	if p.maxBytes > 0 && p.totalBytes+int64(len(chunk.Data)) > p.maxBytes {
		p.logger.Warnw("recording byte cap reached, dropping chunk", "cap", p.maxBytes)
		return
	}
	p.chunks = append(p.chunks, chunk)
	p.totalBytes += int64(len(chunk.Data))
}
