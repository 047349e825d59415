package detect

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/junction-data/crossing.report/internal/monitoring"
)

var logf = monitoring.Prefixed("[replay]")

// replayRecord is one line of a detection log: a frame index and the raw
// detections the model produced for that frame. A record with "dropped":true
// marks a frame the decoder failed on.
type replayRecord struct {
	Frame      int         `json:"frame"`
	Dropped    bool        `json:"dropped,omitempty"`
	Detections []Detection `json:"detections"`
}

// ReplaySource reads a JSONL detection log and yields one Frame per line.
// Frame indexes must be strictly ascending; a gap in indexes is surfaced as
// dropped frames so the session ages tracks across the gap.
type ReplaySource struct {
	scanner   *bufio.Scanner
	closer    io.Closer
	lastFrame int
	next      *Frame // parsed record waiting behind the gap
	line      int
}

// NewReplaySource opens a JSONL detection log file.
func NewReplaySource(path string) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open detection log: %w", err)
	}
	return NewReplaySourceFromReader(f, f), nil
}

// NewReplaySourceFromReader builds a ReplaySource over an arbitrary reader.
// closer may be nil.
func NewReplaySourceFromReader(r io.Reader, closer io.Closer) *ReplaySource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &ReplaySource{scanner: sc, closer: closer, lastFrame: -1}
}

// Next returns the next frame in the log. Index gaps are filled with
// Dropped frames, one per missing index, so downstream miss-counting stays
// aligned with the original video's frame numbering.
func (s *ReplaySource) Next() (Frame, bool, error) {
	// Emit queued gap-fill frames first.
	if s.next != nil {
		if s.lastFrame+1 < s.next.Index {
			s.lastFrame++
			return Frame{Index: s.lastFrame, Dropped: true}, true, nil
		}
		frame := *s.next
		s.next = nil
		s.lastFrame = frame.Index
		return frame, true, nil
	}

	for s.scanner.Scan() {
		s.line++
		raw := s.scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec replayRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return Frame{}, false, fmt.Errorf("detection log line %d: %w", s.line, err)
		}
		if rec.Frame <= s.lastFrame {
			return Frame{}, false, fmt.Errorf("detection log line %d: frame %d out of order (last %d)", s.line, rec.Frame, s.lastFrame)
		}

		// Fill in detector class names when the log omits them.
		for i := range rec.Detections {
			if rec.Detections[i].Label == "" {
				rec.Detections[i].Label = ClassName(rec.Detections[i].ClassID)
			}
		}

		frame := Frame{Index: rec.Frame, Detections: rec.Detections, Dropped: rec.Dropped}
		if s.lastFrame+1 < frame.Index {
			// Queue the parsed frame and emit dropped fillers first.
			logf("filling gap: frames %d-%d missing from log", s.lastFrame+1, frame.Index-1)
			s.next = &frame
			s.lastFrame++
			return Frame{Index: s.lastFrame, Dropped: true}, true, nil
		}
		s.lastFrame = frame.Index
		return frame, true, nil
	}

	if err := s.scanner.Err(); err != nil {
		return Frame{}, false, fmt.Errorf("read detection log: %w", err)
	}
	return Frame{}, false, nil
}

// Close releases the underlying file, if any.
func (s *ReplaySource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// SliceSource yields a fixed in-memory sequence of frames. Used by tests and
// synthetic scenarios.
type SliceSource struct {
	Frames []Frame
	pos    int
}

// Next returns the next frame from the slice.
func (s *SliceSource) Next() (Frame, bool, error) {
	if s.pos >= len(s.Frames) {
		return Frame{}, false, nil
	}
	f := s.Frames[s.pos]
	s.pos++
	return f, true, nil
}
