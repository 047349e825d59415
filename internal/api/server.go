// Package api serves the live session state over HTTP: current counters and
// active tracks, read from consistent session snapshots. It is a read-only
// observation surface; nothing here mutates the pipeline.
package api

import (
	"net/http"

	"github.com/junction-data/crossing.report/internal/httputil"
	"github.com/junction-data/crossing.report/internal/vision/pipeline"
)

type Server struct {
	session *pipeline.Session
}

func NewServer(session *pipeline.Session) *Server {
	return &Server{session: session}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthHandler)
	mux.HandleFunc("/api/counts", s.countsHandler)
	mux.HandleFunc("/api/tracks", s.tracksHandler)
	mux.HandleFunc("/", s.homeHandler)
	return mux
}

func (s *Server) homeHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Write([]byte("crossing.report counting server\n"))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]any{
		"status":  "ok",
		"session": s.session.ID(),
	})
}

// countsResponse is the live counter payload.
type countsResponse struct {
	SessionID string           `json:"session_id"`
	FrameIdx  int              `json:"frame_idx"`
	ByZone    map[string]int64 `json:"by_zone"`
	Total     int64            `json:"total"`
	FPS       float64          `json:"fps"`
}

func (s *Server) countsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap := s.session.Snapshot()
	httputil.WriteJSONOK(w, countsResponse{
		SessionID: snap.SessionID,
		FrameIdx:  snap.FrameIdx,
		ByZone:    snap.Counts.ByZone,
		Total:     snap.Counts.Total,
		FPS:       snap.FPS,
	})
}

// trackView is the wire shape of one live track.
type trackView struct {
	ID      int64   `json:"id"`
	State   string  `json:"state"`
	Label   string  `json:"label"`
	Zone    string  `json:"zone,omitempty"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	SpeedPx float64 `json:"speed_px"`
	Counted bool    `json:"counted"`
}

func (s *Server) tracksHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap := s.session.Snapshot()
	views := make([]trackView, 0, len(snap.Tracks))
	for _, track := range snap.Tracks {
		views = append(views, trackView{
			ID:      track.ID,
			State:   string(track.State),
			Label:   track.MajorityLabel(),
			Zone:    track.Zone,
			X:       track.X,
			Y:       track.Y,
			SpeedPx: track.Speed(),
			Counted: track.Counted,
		})
	}
	httputil.WriteJSONOK(w, map[string]any{
		"session_id": snap.SessionID,
		"frame_idx":  snap.FrameIdx,
		"tracks":     views,
	})
}
