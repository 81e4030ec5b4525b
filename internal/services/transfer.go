package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Riboost-Studio/print-queue-agent/internal/link"
	"github.com/Riboost-Studio/print-queue-agent/internal/model"
)

const (
	DefaultChunkSize  = 100
	DefaultWriteDelay = 50 * time.Millisecond
)

// FeedTrailer is ESC d 4: feed four lines after every job.
var FeedTrailer = []byte{0x1B, 0x64, 0x04}

// LinkWriter is the part of the link manager the transfer needs.
type LinkWriter interface {
	IsReady() bool
	Write(p []byte) error
}

// Transfer streams one payload to the device as bounded writes followed by
// the feed trailer. A transfer either completes or fails as a whole.
type Transfer struct {
	link       LinkWriter
	chunkSize  int
	writeDelay time.Duration
	log        *zap.Logger
}

func NewTransfer(link LinkWriter, cfg model.TransferConfig, log *zap.Logger) *Transfer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.WriteDelay < 0 {
		cfg.WriteDelay = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Transfer{
		link:       link,
		chunkSize:  cfg.ChunkSize,
		writeDelay: cfg.WriteDelay,
		log:        log,
	}
}

// Chunk splits payload into consecutive slices of at most size bytes.
func Chunk(payload []byte, size int) [][]byte {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([][]byte, 0, (len(payload)+size-1)/size)
	for offset := 0; offset < len(payload); offset += size {
		end := min(offset+size, len(payload))
		chunks = append(chunks, payload[offset:end])
	}
	return chunks
}

// Send writes every chunk of payload, paced by the write delay, then the
// trailer. Readiness is checked on each write by the link itself; the first
// failure aborts the transfer and the trailer is not sent.
func (t *Transfer) Send(ctx context.Context, payload []byte) error {
	if !t.link.IsReady() {
		return link.ErrNotReady
	}

	writes := append(Chunk(payload, t.chunkSize), FeedTrailer)
	for i, chunk := range writes {
		if i > 0 {
			if err := t.pause(ctx); err != nil {
				return fmt.Errorf("transfer aborted after %d/%d writes: %w", i, len(writes), err)
			}
		}
		if err := t.link.Write(chunk); err != nil {
			return fmt.Errorf("transfer aborted at write %d/%d: %w", i+1, len(writes), err)
		}
	}

	t.log.Debug("print sent", zap.Int("bytes", len(payload)), zap.Int("writes", len(writes)))
	return nil
}

func (t *Transfer) pause(ctx context.Context) error {
	if t.writeDelay == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(t.writeDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
