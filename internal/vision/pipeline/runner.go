package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/junction-data/crossing.report/internal/vision/detect"
)

// Run replays a detection source through the session until the source is
// exhausted or ctx is cancelled. Cancellation is checked between frames, so
// every frame either fully applies or never starts. Returns the number of
// frames consumed.
func Run(ctx context.Context, s *Session, src detect.Source) (int, error) {
	frames := 0
	for {
		select {
		case <-ctx.Done():
			diagf("session %s: cancelled after %d frames", s.ID(), frames)
			return frames, ctx.Err()
		default:
		}

		frame, ok, err := src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			return frames, fmt.Errorf("read frame: %w", err)
		}
		if !ok {
			return frames, nil
		}

		if err := s.ProcessFrame(frame); err != nil {
			return frames, err
		}
		frames++
	}
}
