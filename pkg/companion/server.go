package companion

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/chanaliuxing/dirtyapply/pkg/security"
	"github.com/chanaliuxing/dirtyapply/pkg/types"
)

const serviceVersion = "1.0.0"

// Driver performs the physical automation: pointer, keyboard, screen. The
// playwright adapter implements it for browser-window automation; tests use
// fakes.
type Driver interface {
	ScreenSize() (width, height int, err error)
	MoveAndClick(x, y float64, button string, clicks int) error
	TypeText(text string, interval time.Duration) error
	Focus(x, y float64) error
	Scroll(deltaX, deltaY int) error
	UploadFile(path string) error
	CaptureScreen() ([]byte, error)
}

// TextRecognizer locates text in a PNG screenshot.
type TextRecognizer interface {
	FindText(png []byte, pattern string, region *Region) (Match, error)
}

// Match is one recognized occurrence of the requested text.
type Match struct {
	Found      bool
	Confidence float64
	CenterX    float64
	CenterY    float64
}

// Server exposes the automation driver over loopback HTTP. The pointer,
// keyboard, and screen are an exclusive resource: mu is held for the full
// duration of every automation request.
type Server struct {
	token      string
	driver     Driver
	recognizer TextRecognizer
	logger     types.Logger
	mu         sync.Mutex
}

func NewServer(token string, driver Driver, recognizer TextRecognizer, logger types.Logger) (*Server, error) {
	if len(token) < MinTokenLength {
		return nil, fmt.Errorf("companion token must be at least %d characters, got %d", MinTokenLength, len(token))
	}
	if driver == nil {
		return nil, fmt.Errorf("companion server requires a driver")
	}
	return &Server{token: token, driver: driver, recognizer: recognizer, logger: logger}, nil
}

// Router builds the HTTP routes. /health is unauthenticated liveness; every
// automation endpoint requires the token.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	auth := r.NewRoute().Subrouter()
	auth.Use(s.authMiddleware)
	auth.HandleFunc("/click", s.handleClick).Methods(http.MethodPost)
	auth.HandleFunc("/focus", s.handleFocus).Methods(http.MethodPost)
	auth.HandleFunc("/type", s.handleType).Methods(http.MethodPost)
	auth.HandleFunc("/scroll", s.handleScroll).Methods(http.MethodPost)
	auth.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	auth.HandleFunc("/screenshot", s.handleScreenshot).Methods(http.MethodPost)
	auth.HandleFunc("/optical_click", s.handleOpticalClick).Methods(http.MethodPost)
	return r
}

// ListenAndServe refuses to bind anything but a loopback address.
func (s *Server) ListenAndServe(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("parsing listen address %q: %w", addr, err)
	}
	if !isLoopbackHost(host) {
		return fmt.Errorf("companion must listen on loopback, refusing %q", addr)
	}
	s.logger.Info().Str("addr", addr).Msg("Companion service listening")
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(AuthHeader)
		if got != s.token {
			s.logger.Warn().
				Str("remote", r.RemoteAddr).
				Str("token", security.MaskToken(got)).
				Msg("Rejected companion request with bad token")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: serviceVersion})
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	var req ClickRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Button == "" {
		req.Button = "left"
	}
	if req.Clicks <= 0 {
		req.Clicks = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	x, y, err := s.clamp(req.X, req.Y)
	if err == nil {
		err = s.driver.MoveAndClick(x, y, req.Button, req.Clicks)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Click failed")
		writeJSON(w, http.StatusOK, ActionResponse{Message: err.Error(), DurationMs: time.Since(start).Milliseconds()})
		return
	}
	s.logger.Info().Int("x", int(x)).Int("y", int(y)).Str("button", req.Button).Msg("Clicked")
	writeJSON(w, http.StatusOK, ActionResponse{
		Success:     true,
		DurationMs:  time.Since(start).Milliseconds(),
		Coordinates: &[2]float64{x, y},
	})
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	var req FocusRequest
	if !decodeBody(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	x, y, err := s.clamp(req.X, req.Y)
	if err == nil {
		err = s.driver.Focus(x, y)
	}
	if err != nil {
		writeJSON(w, http.StatusOK, ActionResponse{Message: err.Error(), DurationMs: time.Since(start).Milliseconds()})
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{
		Success:     true,
		DurationMs:  time.Since(start).Milliseconds(),
		Coordinates: &[2]float64{x, y},
	})
}

func (s *Server) handleType(w http.ResponseWriter, r *http.Request) {
	var req TypeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.IntervalMs <= 0 {
		req.IntervalMs = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	err := s.driver.TypeText(req.Text, time.Duration(req.IntervalMs)*time.Millisecond)
	if err != nil {
		writeJSON(w, http.StatusOK, ActionResponse{Message: err.Error(), DurationMs: time.Since(start).Milliseconds()})
		return
	}
	// Text content stays out of the log; only its length is recorded.
	s.logger.Info().Int("chars", len(req.Text)).Msg("Typed text")
	writeJSON(w, http.StatusOK, ActionResponse{Success: true, DurationMs: time.Since(start).Milliseconds()})
}

func (s *Server) handleScroll(w http.ResponseWriter, r *http.Request) {
	var req ScrollRequest
	if !decodeBody(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	if err := s.driver.Scroll(req.DeltaX, req.DeltaY); err != nil {
		writeJSON(w, http.StatusOK, ActionResponse{Message: err.Error(), DurationMs: time.Since(start).Milliseconds()})
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{Success: true, DurationMs: time.Since(start).Milliseconds()})
}

// handleUpload completes an open native file dialog. The path is validated
// before any keystroke so a typo cannot dismiss the dialog half-filled.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.FilePath == "" {
		http.Error(w, "file_path is required", http.StatusBadRequest)
		return
	}
	if _, err := os.Stat(req.FilePath); err != nil {
		http.Error(w, fmt.Sprintf("file not found: %s", req.FilePath), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	if err := s.driver.UploadFile(req.FilePath); err != nil {
		s.logger.Error().Err(err).Msg("Upload failed")
		writeJSON(w, http.StatusOK, ActionResponse{Message: err.Error(), DurationMs: time.Since(start).Milliseconds()})
		return
	}
	s.logger.Info().Str("path", req.FilePath).Msg("File uploaded")
	writeJSON(w, http.StatusOK, ActionResponse{Success: true, DurationMs: time.Since(start).Milliseconds()})
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	png, err := s.driver.CaptureScreen()
	if err != nil {
		s.logger.Error().Err(err).Msg("Screenshot failed")
		writeJSON(w, http.StatusOK, ScreenshotResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ScreenshotResponse{Success: true, PNG: png})
}

func (s *Server) handleOpticalClick(w http.ResponseWriter, r *http.Request) {
	var req OpticalClickRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if s.recognizer == nil {
		http.Error(w, "text recognition is not configured", http.StatusNotImplemented)
		return
	}
	if req.TextPattern == "" {
		http.Error(w, "text_pattern is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	png, err := s.driver.CaptureScreen()
	if err != nil {
		writeJSON(w, http.StatusOK, ActionResponse{Message: err.Error(), DurationMs: time.Since(start).Milliseconds()})
		return
	}
	match, err := s.recognizer.FindText(png, req.TextPattern, req.Region)
	if err != nil {
		writeJSON(w, http.StatusOK, ActionResponse{Message: err.Error(), DurationMs: time.Since(start).Milliseconds()})
		return
	}
	if !match.Found {
		writeJSON(w, http.StatusOK, ActionResponse{
			Message:    fmt.Sprintf("text %q not found on screen", req.TextPattern),
			DurationMs: time.Since(start).Milliseconds(),
		})
		return
	}
	if req.ConfidenceThreshold > 0 && match.Confidence < req.ConfidenceThreshold {
		s.logger.Warn().
			Str("pattern", req.TextPattern).
			Float64("confidence", match.Confidence).
			Float64("threshold", req.ConfidenceThreshold).
			Msg("Optical match below confidence threshold, not clicking")
		writeJSON(w, http.StatusOK, ActionResponse{
			Message:    "match below confidence threshold",
			Confidence: match.Confidence,
			DurationMs: time.Since(start).Milliseconds(),
		})
		return
	}

	x, y, err := s.clamp(match.CenterX, match.CenterY)
	if err == nil {
		err = s.driver.MoveAndClick(x, y, "left", 1)
	}
	if err != nil {
		writeJSON(w, http.StatusOK, ActionResponse{Message: err.Error(), Confidence: match.Confidence, DurationMs: time.Since(start).Milliseconds()})
		return
	}
	s.logger.Info().
		Str("pattern", req.TextPattern).
		Float64("confidence", match.Confidence).
		Msg("Optical click")
	writeJSON(w, http.StatusOK, ActionResponse{
		Success:     true,
		Confidence:  match.Confidence,
		DurationMs:  time.Since(start).Milliseconds(),
		Coordinates: &[2]float64{x, y},
	})
}

// clamp keeps coordinates inside the physical screen bounds.
func (s *Server) clamp(x, y float64) (float64, float64, error) {
	w, h, err := s.driver.ScreenSize()
	if err != nil {
		return 0, 0, fmt.Errorf("reading screen size: %w", err)
	}
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x > float64(w-1) {
		x = float64(w - 1)
	}
	if y > float64(h-1) {
		y = float64(h - 1)
	}
	return x, y, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
