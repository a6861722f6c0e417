// Package server exposes the voice session over HTTP: diagnostics, control
// endpoints and a websocket event stream.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/logger"
	"github.com/hammamikhairi/voxengine/internal/session"
	"github.com/hammamikhairi/voxengine/internal/speech"
)

// Controller is the part of the session the server drives.
type Controller interface {
	Diagnose() session.Diagnostics
	History() []domain.CommandRecord
	Settings() domain.Settings
	SetLanguage(ctx context.Context, code string) error
	StartListening(ctx context.Context, language string, partialResults bool) error
	StopListening() error
	CancelListening() error
	Speak(text string, opts speech.Options) (uint64, error)
	StopSpeaking()
	ClearError()
	Subscribe(fn func(domain.Event)) (unsubscribe func())
}

// TranscriptSink accepts typed utterances. The text recognition engine
// implements it.
type TranscriptSink interface {
	Submit(line string) bool
}

// Option configures the Server.
type Option func(*Server)

// WithRateLimit throttles mutating requests per client IP.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) { s.limiter = newRateLimiter(rate.Limit(perSecond), burst) }
}

// WithTranscriptSink enables POST /transcript.
func WithTranscriptSink(sink TranscriptSink) Option {
	return func(s *Server) { s.sink = sink }
}

// Server serves the diagnostics and control API.
type Server struct {
	echo    *echo.Echo
	ctl     Controller
	hub     *Hub
	sink    TranscriptSink
	limiter *rateLimiter
	log     *logger.Logger
	unsub   func()
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// New builds the server and subscribes its hub to the session's events.
func New(ctl Controller, log *logger.Logger, opts ...Option) *Server {
	s := &Server{
		echo: echo.New(),
		ctl:  ctl,
		hub:  NewHub(log),
		log:  log,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug("server: %s %s -> %d (%s)", v.Method, v.URI, v.Status, v.Latency.Round(time.Microsecond))
			return nil
		},
	}))
	s.routes()
	s.unsub = ctl.Subscribe(s.hub.Publish)
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/diagnose", s.diagnose)
	e.GET("/history", s.history)
	e.GET("/settings", s.settings)
	e.GET("/events", s.hub.HandleWebSocket)

	var mw []echo.MiddlewareFunc
	if s.limiter != nil {
		mw = append(mw, s.limiter.middleware)
	}
	e.PUT("/settings/language", s.setLanguage, mw...)
	e.POST("/listen", s.listen, mw...)
	e.POST("/listen/stop", s.stopListening, mw...)
	e.POST("/listen/cancel", s.cancelListening, mw...)
	e.POST("/speak", s.speak, mw...)
	e.POST("/speech/stop", s.stopSpeaking, mw...)
	e.POST("/error/clear", s.clearError, mw...)
	e.POST("/transcript", s.transcript, mw...)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Hub returns the event hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.log.Info("server: listening on %s", addr)
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, closes websocket clients and detaches
// from the session.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.unsub != nil {
		s.unsub()
	}
	s.hub.Close()
	return s.echo.Shutdown(ctx)
}

// ── Handlers ─────────────────────────────────────────────────────

func (s *Server) diagnose(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ctl.Diagnose())
}

func (s *Server) history(c echo.Context) error {
	recs := s.ctl.History()
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_limit", Message: "limit must be a non-negative integer"})
		}
		if n < len(recs) {
			recs = recs[len(recs)-n:]
		}
	}
	if recs == nil {
		recs = []domain.CommandRecord{}
	}
	return c.JSON(http.StatusOK, recs)
}

func (s *Server) settings(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ctl.Settings())
}

type languageRequest struct {
	Language string `json:"language"`
}

func (s *Server) setLanguage(c echo.Context) error {
	var req languageRequest
	if err := c.Bind(&req); err != nil || req.Language == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "language is required"})
	}
	if err := s.ctl.SetLanguage(c.Request().Context(), req.Language); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, s.ctl.Settings())
}

type listenRequest struct {
	Language       string `json:"language"`
	PartialResults *bool  `json:"partialResults"`
}

func (s *Server) listen(c echo.Context) error {
	var req listenRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
		}
	}
	partial := s.ctl.Settings().PartialResults
	if req.PartialResults != nil {
		partial = *req.PartialResults
	}
	// The recognition session outlives this request.
	ctx := context.WithoutCancel(c.Request().Context())
	if err := s.ctl.StartListening(ctx, req.Language, partial); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) stopListening(c echo.Context) error {
	if err := s.ctl.StopListening(); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) cancelListening(c echo.Context) error {
	if err := s.ctl.CancelListening(); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type speakRequest struct {
	Text      string  `json:"text"`
	Rate      float64 `json:"rate"`
	Pitch     float64 `json:"pitch"`
	Volume    float64 `json:"volume"`
	Language  string  `json:"language"`
	SkipQueue bool    `json:"skipQueue"`
}

func (s *Server) speak(c echo.Context) error {
	var req speakRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
	}
	id, err := s.ctl.Speak(req.Text, speech.Options{
		Rate:      req.Rate,
		Pitch:     req.Pitch,
		Volume:    req.Volume,
		Language:  req.Language,
		SkipQueue: req.SkipQueue,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]uint64{"id": id})
}

func (s *Server) stopSpeaking(c echo.Context) error {
	s.ctl.StopSpeaking()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) clearError(c echo.Context) error {
	s.ctl.ClearError()
	return c.NoContent(http.StatusNoContent)
}

type transcriptRequest struct {
	Text string `json:"text"`
}

func (s *Server) transcript(c echo.Context) error {
	if s.sink == nil {
		return c.JSON(http.StatusNotFound, errorBody{Error: "not_available", Message: "typed input is not enabled"})
	}
	var req transcriptRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
	}
	if !s.sink.Submit(req.Text) {
		return c.JSON(http.StatusServiceUnavailable, errorBody{Error: "busy", Message: "input buffer full"})
	}
	return c.NoContent(http.StatusAccepted)
}

// fail maps session errors to HTTP statuses.
func (s *Server) fail(c echo.Context, err error) error {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, domain.ErrInvalidSettings):
		status, code = http.StatusBadRequest, "invalid_settings"
	case errors.Is(err, domain.ErrVoiceDisabled):
		status, code = http.StatusConflict, "voice_disabled"
	case errors.Is(err, domain.ErrBusy), errors.Is(err, domain.ErrAlreadyActive):
		status, code = http.StatusConflict, "busy"
	case errors.Is(err, domain.ErrSessionError):
		status, code = http.StatusConflict, "session_error"
	case errors.Is(err, domain.ErrRecognitionUnavailable):
		status, code = http.StatusServiceUnavailable, "recognition_unavailable"
	case errors.Is(err, domain.ErrSessionDestroyed), errors.Is(err, domain.ErrNotInitialized):
		status, code = http.StatusServiceUnavailable, "session_unavailable"
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("server: %s %s: %v", c.Request().Method, c.Path(), err)
	}
	return c.JSON(status, errorBody{Error: code, Message: domain.ErrorMessage(err)})
}
