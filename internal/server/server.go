// Package server exposes practice sessions over a small JSON API so a
// browser page can drive playback and draw the measure highlight.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	scoresync "github.com/cbegin/scoresync-go"
	"github.com/cbegin/scoresync-go/internal/errs"
)

const maxScoreBytes = 32 << 20

type entry struct {
	session *scoresync.Session
	cancel  context.CancelFunc
	done    chan struct{}
}

type Server struct {
	log        logrus.FieldLogger
	newSession func() *scoresync.Session
	origins    []string

	mu       sync.Mutex
	sessions map[string]*entry
}

// New builds a server whose sessions come from factory. origins lists the
// allowed CORS origins; empty allows any.
func New(factory func() *scoresync.Session, log logrus.FieldLogger, origins ...string) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		log:        log.WithField("component", "server"),
		newSession: factory,
		origins:    origins,
		sessions:   map[string]*entry{},
	}
}

func (s *Server) Handler() http.Handler {
	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/sessions", s.handleCreate).Methods("POST")
	router.HandleFunc("/sessions/{id}", s.handleDelete).Methods("DELETE")
	sub := router.PathPrefix("/sessions/{id}").Subrouter()
	sub.HandleFunc("/score", s.handleLoad).Methods("POST")
	sub.HandleFunc("/state", s.with(func(w http.ResponseWriter, r *http.Request, ss *scoresync.Session) {
		writeJSON(w, http.StatusOK, ss.State())
	})).Methods("GET")
	sub.HandleFunc("/view", s.with(func(w http.ResponseWriter, r *http.Request, ss *scoresync.Session) {
		writeJSON(w, http.StatusOK, ss.View())
	})).Methods("GET")
	sub.HandleFunc("/measures", s.with(func(w http.ResponseWriter, r *http.Request, ss *scoresync.Session) {
		writeJSON(w, http.StatusOK, ss.MeasureBounds())
	})).Methods("GET")
	sub.HandleFunc("/play", s.action(func(ss *scoresync.Session) { ss.Play() })).Methods("POST")
	sub.HandleFunc("/pause", s.action(func(ss *scoresync.Session) { ss.Pause() })).Methods("POST")
	sub.HandleFunc("/stop", s.action(func(ss *scoresync.Session) { ss.Stop() })).Methods("POST")
	sub.HandleFunc("/seek", s.with(s.handleSeek)).Methods("POST")
	sub.HandleFunc("/tempo", s.with(s.handleTempo)).Methods("POST")
	sub.HandleFunc("/metronome", s.with(s.handleMetronome)).Methods("POST")
	sub.HandleFunc("/instrument", s.with(s.handleInstrument)).Methods("POST")
	sub.HandleFunc("/viewport", s.with(s.handleViewport)).Methods("POST")

	opts := cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}
	if len(s.origins) > 0 {
		opts.AllowedOrigins = s.origins
	}
	return cors.New(opts).Handler(router)
}

type apiError struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, apiError{Error: errs.Message(err), Kind: string(errs.KindOf(err))})
}

func (s *Server) lookup(r *http.Request) (*scoresync.Session, bool) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

func (s *Server) with(fn func(http.ResponseWriter, *http.Request, *scoresync.Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ss, ok := s.lookup(r)
		if !ok {
			writeJSON(w, http.StatusNotFound, apiError{Error: "unknown session"})
			return
		}
		fn(w, r, ss)
	}
}

func (s *Server) action(fn func(*scoresync.Session)) http.HandlerFunc {
	return s.with(func(w http.ResponseWriter, r *http.Request, ss *scoresync.Session) {
		fn(ss)
		writeJSON(w, http.StatusOK, ss.State())
	})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	id := uuid.New().String()
	ss := s.newSession()
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{session: ss, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(e.done)
		_ = ss.Run(ctx)
	}()
	s.mu.Lock()
	s.sessions[id] = e
	s.mu.Unlock()
	s.log.WithField("session", id).Info("session created")
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	e, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, apiError{Error: "unknown session"})
		return
	}
	s.stop(e)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) stop(e *entry) {
	e.cancel()
	<-e.done
	if err := e.session.Close(); err != nil {
		s.log.WithError(err).Warn("closing session")
	}
}

type loadRequest struct {
	URL         string `json:"url"`
	MIDIURL     string `json:"midiUrl"`
	ScoreFileID *int   `json:"scoreFileId"`
	MIDIFileID  *int   `json:"midiFileId"`
}

// handleLoad accepts either a JSON reference to the score or the MusicXML
// (or .mxl) bytes themselves.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.lookup(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, apiError{Error: "unknown session"})
		return
	}
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req loadRequest
		if err := decode(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
			return
		}
		switch {
		case req.ScoreFileID != nil:
			err = ss.LoadPiece(r.Context(), *req.ScoreFileID, req.MIDIFileID)
		case req.URL != "":
			var opts []scoresync.LoadOption
			if req.MIDIURL != "" {
				opts = append(opts, scoresync.WithMIDIURL(req.MIDIURL))
			}
			err = ss.LoadScore(r.Context(), req.URL, opts...)
		default:
			writeJSON(w, http.StatusBadRequest, apiError{Error: "url or scoreFileId required"})
			return
		}
	} else {
		data, rerr := io.ReadAll(io.LimitReader(r.Body, maxScoreBytes))
		if rerr != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Error: rerr.Error()})
			return
		}
		err = ss.LoadScoreData(r.Context(), data)
	}
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, ss.View())
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request, ss *scoresync.Session) {
	var req struct {
		Seconds *float64 `json:"seconds"`
	}
	if err := decode(r, &req); err != nil || req.Seconds == nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "seconds required"})
		return
	}
	ss.Seek(*req.Seconds)
	writeJSON(w, http.StatusOK, ss.State())
}

func (s *Server) handleTempo(w http.ResponseWriter, r *http.Request, ss *scoresync.Session) {
	var req struct {
		BPM float64 `json:"bpm"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	ss.SetTempo(req.BPM)
	writeJSON(w, http.StatusOK, ss.State())
}

func (s *Server) handleMetronome(w http.ResponseWriter, r *http.Request, ss *scoresync.Session) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	ss.ToggleMetronome(req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": ss.Metronome()})
}

func (s *Server) handleInstrument(w http.ResponseWriter, r *http.Request, ss *scoresync.Session) {
	var req struct {
		Program *int `json:"program"`
	}
	if err := decode(r, &req); err != nil || req.Program == nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "program required"})
		return
	}
	if *req.Program < 0 || *req.Program > 127 {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "program must be 0-127"})
		return
	}
	ss.SetInstrument(*req.Program)
	writeJSON(w, http.StatusAccepted, ss.View())
}

func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request, ss *scoresync.Session) {
	var req struct {
		Width     float64 `json:"width"`
		Height    float64 `json:"height"`
		Collapsed *bool   `json:"collapsed"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	if req.Width > 0 || req.Height > 0 {
		ss.Resize(req.Width, req.Height)
	}
	if req.Collapsed != nil {
		ss.SetCollapsed(*req.Collapsed)
	}
	writeJSON(w, http.StatusOK, ss.View())
}

// Close ends every session.
func (s *Server) Close() error {
	s.mu.Lock()
	all := s.sessions
	s.sessions = map[string]*entry{}
	s.mu.Unlock()
	for _, e := range all {
		s.stop(e)
	}
	return nil
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	s.log.WithField("addr", addr).Info("listening")
	err := srv.ListenAndServe()
	_ = s.Close()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
