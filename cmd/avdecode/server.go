package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/thesyncim/av"
	"github.com/thesyncim/av/internal/config"
)

// server exposes decode sessions over HTTP. Each session owns a Pipeline
// and a goroutine that consumes its frames.
type server struct {
	cfg    *config.Config
	log    zerolog.Logger
	root   context.Context
	router *mux.Router

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	id      string
	locator string
	created time.Time
	p       *av.Pipeline
	done    chan struct{}
	stop    chan struct{}
	seeked  chan struct{} // wakes a consumer parked at end of stream

	frames  atomic.Uint64
	lastPTS atomic.Int64 // µs of the last delivered frame

	mu  sync.Mutex
	err error
}

type createRequest struct {
	Locator string `json:"locator"`
	Format  string `json:"format,omitempty"`
	Streams []int  `json:"streams,omitempty"`
}

type seekRequest struct {
	PositionMs int64 `json:"position_ms"`
}

type streamInfo struct {
	Index     int    `json:"index"`
	Type      string `json:"type"`
	Codec     string `json:"codec"`
	TimeBase  string `json:"time_base"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Rate      int    `json:"sample_rate,omitempty"`
	Channels  int    `json:"channels,omitempty"`
	Extradata int    `json:"extradata_bytes,omitempty"`

	AttachedPic  bool   `json:"attached_pic,omitempty"`
	Decoder      string `json:"decoder,omitempty"`
	LibavDecoder bool   `json:"libav_decoder,omitempty"` // no decoder here, but libavcodec has one
}

type sessionInfo struct {
	ID         string            `json:"id"`
	Locator    string            `json:"locator"`
	Format     string            `json:"format"`
	State      string            `json:"state"`
	Created    time.Time         `json:"created"`
	DurationMs int64             `json:"duration_ms,omitempty"`
	Seekable   bool              `json:"seekable"`
	Frames     uint64            `json:"frames"`
	PositionMs int64             `json:"position_ms"`
	Streams    []streamInfo      `json:"streams"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Stats      av.PipelineStats  `json:"stats"`
	Error      string            `json:"error,omitempty"`
}

func newServer(root context.Context, cfg *config.Config, log zerolog.Logger) *server {
	s := &server{
		cfg:      cfg,
		log:      log,
		root:     root,
		sessions: make(map[string]*session),
	}
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/formats", s.handleFormats).Methods(http.MethodGet)
	r.HandleFunc("/decoders", s.handleDecoders).Methods(http.MethodGet)
	r.HandleFunc("/sessions", s.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/sessions", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", s.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{id}/seek", s.handleSeek).Methods(http.MethodPost)
	s.router = r
	return s
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleFormats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, av.Formats())
}

func (s *server) handleDecoders(w http.ResponseWriter, _ *http.Request) {
	if err := av.Init(); err != nil {
		s.log.Warn().Err(err).Msg("native libraries")
	}
	writeJSON(w, http.StatusOK, describeRuntime())
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Locator == "" {
		writeError(w, http.StatusBadRequest, errors.New("locator is required"))
		return
	}

	s.mu.Lock()
	full := s.cfg.Server.MaxSessions > 0 && len(s.sessions) >= s.cfg.Server.MaxSessions
	s.mu.Unlock()
	if full {
		writeError(w, http.StatusServiceUnavailable, errors.New("too many sessions"))
		return
	}

	id := uuid.NewString()
	log := s.log.With().Str("session", id).Logger()
	pcfg, err := s.cfg.Pipeline(&log)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if req.Format != "" {
		pcfg.Open.Format = req.Format
	}
	if len(req.Streams) > 0 {
		pcfg.Streams = req.Streams
	}

	p, err := av.NewPipeline(s.root, req.Locator, pcfg)
	if err != nil {
		log.Warn().Err(err).Str("locator", req.Locator).Msg("open failed")
		writeError(w, statusFor(err), err)
		return
	}

	sess := &session{
		id:      id,
		locator: req.Locator,
		created: time.Now(),
		p:       p,
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
		seeked:  make(chan struct{}, 1),
	}
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	go sess.consume(s.root, log)
	log.Info().Str("locator", req.Locator).Str("format", p.Session().Format()).Msg("session started")
	writeJSON(w, http.StatusCreated, sess.info())
}

func (s *server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	list := make([]sessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, sess.info())
	}
	s.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].Created.Before(list[j].Created) })
	writeJSON(w, http.StatusOK, list)
}

func (s *server) lookup(w http.ResponseWriter, r *http.Request) *session {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	sess := s.sessions[id]
	s.mu.Unlock()
	if sess == nil {
		writeError(w, http.StatusNotFound, errors.New("session not found"))
	}
	return sess
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	if sess := s.lookup(w, r); sess != nil {
		writeJSON(w, http.StatusOK, sess.info())
	}
}

func (s *server) handleSeek(w http.ResponseWriter, r *http.Request) {
	sess := s.lookup(w, r)
	if sess == nil {
		return
	}
	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := sess.p.Seek(time.Duration(req.PositionMs) * time.Millisecond); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	select {
	case sess.seeked <- struct{}{}:
	default:
	}
	writeJSON(w, http.StatusOK, sess.info())
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sess := s.remove(mux.Vars(r)["id"])
	if sess == nil {
		writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	if err := sess.close(); err != nil {
		s.log.Warn().Err(err).Str("session", sess.id).Msg("close failed")
	}
	w.WriteHeader(http.StatusNoContent)
}

// remove takes a session out of the table. Only the caller that removed it
// gets it back, so each session is closed once.
func (s *server) remove(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[id]
	if sess != nil {
		delete(s.sessions, id)
	}
	return sess
}

// closeAll stops every session. Used on shutdown.
func (s *server) closeAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.close(); err != nil {
			s.log.Warn().Err(err).Str("session", sess.id).Msg("close failed")
		}
	}
}

// consume pulls frames until the pipeline fails or is closed. Frames are
// counted and discarded. At end of stream it waits for a seek.
func (sess *session) consume(ctx context.Context, log zerolog.Logger) {
	defer close(sess.done)
	for {
		f, err := sess.p.Next(ctx)
		switch {
		case err == nil:
			sess.frames.Add(1)
			if f.PTS != av.NoPTS {
				sess.lastPTS.Store(av.Rescale(f.PTS, f.TimeBase, av.TimeBaseMicroseconds))
			}
			continue
		case errors.Is(err, av.ErrEndOfStream):
			log.Info().Uint64("frames", sess.frames.Load()).Msg("end of stream")
			select {
			case <-sess.seeked:
				continue
			case <-sess.stop:
			case <-ctx.Done():
			}
		case errors.Is(err, av.ErrClosed) || ctx.Err() != nil:
		default:
			sess.mu.Lock()
			sess.err = err
			sess.mu.Unlock()
			log.Error().Err(err).Str("category", av.CategoryOf(err).String()).Msg("session failed")
		}
		return
	}
}

func (sess *session) close() error {
	close(sess.stop)
	err := sess.p.Close()
	<-sess.done
	return err
}

func (sess *session) info() sessionInfo {
	in := sess.p.Session()
	info := sessionInfo{
		ID:         sess.id,
		Locator:    sess.locator,
		Format:     in.Format(),
		State:      sess.p.State().String(),
		Created:    sess.created,
		Seekable:   in.Seekable(),
		Frames:     sess.frames.Load(),
		PositionMs: sess.lastPTS.Load() / 1000,
		Metadata:   in.Metadata(),
		Stats:      sess.p.Stats(),
	}
	if d, ok := in.Duration(); ok {
		info.DurationMs = d.Milliseconds()
	}
	for _, st := range sess.p.Streams() {
		info.Streams = append(info.Streams, describeStream(st))
	}
	sess.mu.Lock()
	if sess.err != nil {
		info.Error = sess.err.Error()
	}
	sess.mu.Unlock()
	return info
}

func describeStream(st av.Stream) streamInfo {
	info := streamInfo{
		Index:     st.Index,
		Type:      st.Type.String(),
		Codec:     st.Codec.String(),
		TimeBase:  st.TimeBase.String(),
		Width:     st.Params.Width,
		Height:    st.Params.Height,
		Rate:      st.Params.SampleRate,
		Channels:  st.Params.Layout.Channels(),
		Extradata: len(st.Params.Extradata),

		AttachedPic: st.Disposition.Has(av.DispositionAttachedPic),
	}
	info.Decoder, info.LibavDecoder = decoderFor(st)
	return info
}

// statusFor maps a library error to an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, av.ErrNotSeekable) || errors.Is(err, av.ErrUnsupportedConversion) {
		return http.StatusConflict
	}
	switch av.CodeOf(err) {
	case av.CodeNotFound, av.CodeStreamNotFound:
		return http.StatusNotFound
	case av.CodeInvalidData, av.CodeDecoderNotFound, av.CodeIsDirectory:
		return http.StatusUnprocessableEntity
	case av.CodeOutOfMemory:
		return http.StatusInsufficientStorage
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
