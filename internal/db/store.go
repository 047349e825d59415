package db

import (
	"fmt"

	"github.com/junction-data/crossing.report/internal/vision/pipeline"
	"github.com/junction-data/crossing.report/internal/vision/tracks"
	"github.com/junction-data/crossing.report/internal/vision/zones"
)

// StartSession inserts the session row at run start.
func (db *DB) StartSession(sessionID string) error {
	_, err := db.Exec(`INSERT INTO sessions (id) VALUES (?)`, sessionID)
	if err != nil {
		return fmt.Errorf("start session %s: %w", sessionID, err)
	}
	return nil
}

// FinishSession stamps the end of a run and stores the summary counters,
// including the final per-zone (and per-class, when enabled) counts.
func (db *DB) FinishSession(summary pipeline.Summary) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("finish session %s: %w", summary.SessionID, err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		UPDATE sessions SET
			finished_at = CURRENT_TIMESTAMP,
			frames_processed = ?,
			frames_dropped = ?,
			tracks_created = ?,
			tracks_lost = ?,
			tracks_counted = ?
		WHERE id = ?`,
		summary.FramesProcessed, summary.FramesDropped,
		summary.TracksCreated, summary.TracksLost, summary.TracksCounted,
		summary.SessionID)
	if err != nil {
		return fmt.Errorf("update session %s: %w", summary.SessionID, err)
	}

	for zone, count := range summary.Counts.ByZone {
		if _, err := tx.Exec(`
			INSERT INTO zone_counts (session_id, zone, class, count) VALUES (?, ?, '', ?)
			ON CONFLICT (session_id, zone, class) DO UPDATE SET count = excluded.count`,
			summary.SessionID, zone, count); err != nil {
			return fmt.Errorf("store zone count %s/%s: %w", summary.SessionID, zone, err)
		}
	}
	for zone, perClass := range summary.Counts.ByClass {
		for class, count := range perClass {
			if _, err := tx.Exec(`
				INSERT INTO zone_counts (session_id, zone, class, count) VALUES (?, ?, ?, ?)
				ON CONFLICT (session_id, zone, class) DO UPDATE SET count = excluded.count`,
				summary.SessionID, zone, class, count); err != nil {
				return fmt.Errorf("store class count %s/%s/%s: %w", summary.SessionID, zone, class, err)
			}
		}
	}

	return tx.Commit()
}

// ZoneCounts returns the stored per-zone totals (class rollup rows only)
// for a finished session.
func (db *DB) ZoneCounts(sessionID string) (map[string]int64, error) {
	rows, err := db.Query(
		`SELECT zone, count FROM zone_counts WHERE session_id = ? AND class = ''`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query zone counts %s: %w", sessionID, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var zone string
		var count int64
		if err := rows.Scan(&zone, &count); err != nil {
			return nil, fmt.Errorf("scan zone count: %w", err)
		}
		counts[zone] = count
	}
	return counts, rows.Err()
}

// CrossingRow is one stored crossing event.
type CrossingRow struct {
	TrackID  int64
	Zone     string
	FromZone string
	FrameIdx int
	Label    string
	Counted  bool
}

// Crossings returns a session's crossing events in frame order.
func (db *DB) Crossings(sessionID string) ([]CrossingRow, error) {
	rows, err := db.Query(`
		SELECT track_id, zone, from_zone, frame_idx, label, counted
		FROM crossing_events WHERE session_id = ? ORDER BY frame_idx, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query crossings %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []CrossingRow
	for rows.Next() {
		var r CrossingRow
		if err := rows.Scan(&r.TrackID, &r.Zone, &r.FromZone, &r.FrameIdx, &r.Label, &r.Counted); err != nil {
			return nil, fmt.Errorf("scan crossing: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TrackRow is one stored track record.
type TrackRow struct {
	TrackID       int64
	Label         string
	FirstFrame    int
	LastSeenFrame int
	Observations  int
	AvgSpeedPx    float64
	PeakSpeedPx   float64
	Counted       bool
}

// Tracks returns a session's track records ordered by track ID.
func (db *DB) Tracks(sessionID string) ([]TrackRow, error) {
	rows, err := db.Query(`
		SELECT track_id, label, first_frame, last_seen_frame, observations,
		       avg_speed_px, peak_speed_px, counted
		FROM tracks WHERE session_id = ? ORDER BY track_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query tracks %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []TrackRow
	for rows.Next() {
		var r TrackRow
		if err := rows.Scan(&r.TrackID, &r.Label, &r.FirstFrame, &r.LastSeenFrame,
			&r.Observations, &r.AvgSpeedPx, &r.PeakSpeedPx, &r.Counted); err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SessionSink adapts the database to the pipeline's persistence interface.
type SessionSink struct {
	db *DB
}

// NewSessionSink returns a sink writing to db.
func NewSessionSink(db *DB) *SessionSink {
	return &SessionSink{db: db}
}

// RecordCrossing stores one crossing event.
func (s *SessionSink) RecordCrossing(sessionID string, ev zones.CrossingEvent, label string, counted bool) error {
	_, err := s.db.Exec(`
		INSERT INTO crossing_events (session_id, track_id, zone, from_zone, frame_idx, label, counted)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, ev.TrackID, ev.Zone, ev.FromZone, ev.FrameIdx, label, counted)
	if err != nil {
		return fmt.Errorf("insert crossing: %w", err)
	}
	return nil
}

// RecordTrackEnd stores the final record of a track. Idempotent on
// (session, track) so a finalize after a purge cannot duplicate rows.
func (s *SessionSink) RecordTrackEnd(sessionID string, t *tracks.Track) error {
	_, err := s.db.Exec(`
		INSERT INTO tracks (session_id, track_id, label, first_frame, last_seen_frame,
		                    observations, avg_speed_px, peak_speed_px, counted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, track_id) DO UPDATE SET
			label = excluded.label,
			last_seen_frame = excluded.last_seen_frame,
			observations = excluded.observations,
			avg_speed_px = excluded.avg_speed_px,
			peak_speed_px = excluded.peak_speed_px,
			counted = excluded.counted`,
		sessionID, t.ID, t.MajorityLabel(), t.FirstFrame, t.LastSeenFrame,
		t.ObservationCount, t.AvgSpeedPx, t.PeakSpeedPx, t.Counted)
	if err != nil {
		return fmt.Errorf("insert track %d: %w", t.ID, err)
	}
	return nil
}
