package sinks

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/JakeFAU/cromap-crawler/internal/progress"
)

// DotSink prints one dot per settled batch and a summary line when the crawl
// finishes.
type DotSink struct {
	mu  sync.Mutex
	w   io.Writer
	out int
}

// NewDotSink writes the indicator to w.
func NewDotSink(w io.Writer) *DotSink {
	if w == nil {
		w = io.Discard
	}
	return &DotSink{w: w}
}

// Consume renders the batch.
func (s *DotSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageBatchDone:
			if _, err := io.WriteString(s.w, "."); err != nil {
				return fmt.Errorf("write progress dot: %w", err)
			}
			s.out++
		case progress.StageCrawlDone:
			if s.out > 0 {
				if _, err := io.WriteString(s.w, "\n"); err != nil {
					return fmt.Errorf("write progress newline: %w", err)
				}
				s.out = 0
			}
			if _, err := fmt.Fprintf(s.w, "crawl done: %d records admitted in %s\n", evt.Admitted, evt.Dur.Round(time.Millisecond)); err != nil {
				return fmt.Errorf("write progress summary: %w", err)
			}
		}
	}
	return nil
}

// Close terminates a dangling dot line.
func (s *DotSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == 0 {
		return nil
	}
	s.out = 0
	if _, err := io.WriteString(s.w, "\n"); err != nil {
		return fmt.Errorf("write progress newline: %w", err)
	}
	return nil
}
