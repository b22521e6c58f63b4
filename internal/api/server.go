package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jimfengnpu/everywhere/internal/backend"
	"github.com/jimfengnpu/everywhere/internal/capture"
	"github.com/jimfengnpu/everywhere/internal/element"
	"github.com/jimfengnpu/everywhere/internal/hotkey"
	"github.com/jimfengnpu/everywhere/internal/logger"
	"github.com/jimfengnpu/everywhere/internal/picker"
)

// ShortcutCapture is a running hotkey capture.
type ShortcutCapture interface {
	Updates() <-chan hotkey.Shortcut
	Wait(ctx context.Context) (hotkey.Shortcut, error)
	Close()
}

// Backend is what the API serves. Pick and Screenshot block until the
// user confirms or cancels.
type Backend interface {
	ResolveAt(p element.Point, g element.Granularity) (element.Element, error)
	ResolveAtPointer(g element.Granularity) (element.Element, error)
	CurrentlyFocused() element.Element
	Pick(ctx context.Context, g element.Granularity) (*picker.Selection, error)
	Screenshot(ctx context.Context, g *element.Granularity) (*backend.Screenshot, error)
	Capture(ctx context.Context, target element.Element, rect element.Rect) (*capture.PixelBuffer, error)
	StartHotkeyCapture() (ShortcutCapture, error)
}

type facade struct {
	*backend.Backend
}

// FromBackend adapts b to the blocking Backend interface.
func FromBackend(b *backend.Backend) Backend {
	return facade{b}
}

func (f facade) Pick(ctx context.Context, g element.Granularity) (*picker.Selection, error) {
	fut, err := f.StartPick(ctx, g)
	if err != nil {
		return nil, err
	}
	return fut.Result()
}

func (f facade) Screenshot(ctx context.Context, g *element.Granularity) (*backend.Screenshot, error) {
	fut, err := f.StartScreenshot(ctx, g)
	if err != nil {
		return nil, err
	}
	return fut.Result()
}

func (f facade) StartHotkeyCapture() (ShortcutCapture, error) {
	cs, err := f.Backend.StartHotkeyCapture()
	if err != nil {
		return nil, err
	}
	return cs, nil
}

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	backend  Backend
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// NewServer creates a new API server
func NewServer(b Backend) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		backend: b,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Element queries
	api.HandleFunc("/element", s.handleElementAt).Methods("GET")
	api.HandleFunc("/element/pointer", s.handleElementAtPointer).Methods("GET")
	api.HandleFunc("/focus", s.handleFocus).Methods("GET")

	// Interactive selection
	api.HandleFunc("/pick", s.handlePick).Methods("POST")
	api.HandleFunc("/screenshot", s.handleScreenshot).Methods("POST")
	api.HandleFunc("/capture", s.handleCapture).Methods("POST")

	// Shortcuts
	api.HandleFunc("/hotkeys/capture", s.handleHotkeyCapture)

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the routed handler with CORS headers.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start starts the HTTP server and blocks until it stops. Shutdown makes
// it return nil.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.WithComponent("api").Info().
		Str("addr", "http://"+addr).
		Msg("Starting API server")
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops a server started with Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// SelectionResponse describes a confirmed pick.
type SelectionResponse struct {
	Mode    string        `json:"mode"`
	Rect    element.Rect  `json:"rect"`
	Element *element.Info `json:"element,omitempty"`
}

// NewSelectionResponse converts sel for JSON output.
func NewSelectionResponse(sel *picker.Selection) SelectionResponse {
	resp := SelectionResponse{Mode: sel.Mode.String(), Rect: sel.Rect}
	if sel.Element != nil {
		info := element.Describe(sel.Element, false)
		resp.Element = &info
	}
	return resp
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps backend errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, backend.ErrPickerBusy), errors.Is(err, backend.ErrHotkeyInUse):
		return http.StatusConflict
	case errors.Is(err, backend.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, capture.ErrEmptyRegion), errors.Is(err, capture.ErrInvalidTarget):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func granularityParam(r *http.Request, def element.Granularity) (element.Granularity, error) {
	v := r.URL.Query().Get("granularity")
	if v == "" {
		return def, nil
	}
	return element.ParseGranularity(v)
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, fmt.Errorf("missing query parameter %q", name)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("query parameter %q: %w", name, err)
	}
	return n, nil
}

func pointParam(r *http.Request) (element.Point, error) {
	x, err := intParam(r, "x")
	if err != nil {
		return element.Point{}, err
	}
	y, err := intParam(r, "y")
	if err != nil {
		return element.Point{}, err
	}
	return element.Point{X: x, Y: y}, nil
}

func (s *Server) writeElement(w http.ResponseWriter, r *http.Request, e element.Element) {
	if e == nil {
		writeError(w, http.StatusNotFound, errors.New("no element found"))
		return
	}
	writeJSON(w, http.StatusOK, element.Describe(e, r.URL.Query().Get("children") == "true"))
}

func (s *Server) handleElementAt(w http.ResponseWriter, r *http.Request) {
	p, err := pointParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	g, err := granularityParam(r, element.GranularityElement)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	e, err := s.backend.ResolveAt(p, g)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.writeElement(w, r, e)
}

func (s *Server) handleElementAtPointer(w http.ResponseWriter, r *http.Request) {
	g, err := granularityParam(r, element.GranularityElement)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	e, err := s.backend.ResolveAtPointer(g)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.writeElement(w, r, e)
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	s.writeElement(w, r, s.backend.CurrentlyFocused())
}

func (s *Server) handlePick(w http.ResponseWriter, r *http.Request) {
	g, err := granularityParam(r, element.GranularityWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sel, err := s.backend.Pick(r.Context(), g)
	if errors.Is(err, picker.ErrCanceled) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, NewSelectionResponse(sel))
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	var mode *element.Granularity
	if r.URL.Query().Get("granularity") != "" {
		g, err := granularityParam(r, element.GranularityFree)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		mode = &g
	}
	shot, err := s.backend.Screenshot(r.Context(), mode)
	if errors.Is(err, picker.ErrCanceled) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	rect := shot.Selection.Rect
	w.Header().Set("X-Selection-Rect", fmt.Sprintf("%d,%d,%d,%d", rect.X, rect.Y, rect.Width, rect.Height))
	writePNG(w, shot.Image)
}

// handleCapture reads a root region given by x, y, width and height, or the
// element at x, y when granularity is set instead of a size.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	p, err := pointParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var target element.Element
	var rect element.Rect
	if r.URL.Query().Has("granularity") {
		g, err := granularityParam(r, element.GranularityWindow)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if target, err = s.backend.ResolveAt(p, g); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		if target == nil {
			writeError(w, http.StatusNotFound, errors.New("no element found"))
			return
		}
		rect = target.BoundingRectangle()
	} else {
		width, err := intParam(r, "width")
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		height, err := intParam(r, "height")
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		rect = element.Rect{X: p.X, Y: p.Y, Width: width, Height: height}
	}

	buf, err := s.backend.Capture(r.Context(), target, rect)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writePNG(w, buf)
}

func writePNG(w http.ResponseWriter, buf *capture.PixelBuffer) {
	w.Header().Set("Content-Type", "image/png")
	if err := buf.EncodePNG(w); err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("Failed to encode PNG")
	}
}

// HotkeyMessage is one frame of the hotkey capture stream.
type HotkeyMessage struct {
	Type     string `json:"type"`
	Shortcut string `json:"shortcut,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleHotkeyCapture streams the combination as the user types it and
// finishes with a "result" or "error" frame. Closing the socket aborts the
// capture.
func (s *Server) handleHotkeyCapture(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	cs, err := s.backend.StartHotkeyCapture()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	defer cs.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cs.Close()
				return
			}
		}
	}()

	for sc := range cs.Updates() {
		if err := conn.WriteJSON(HotkeyMessage{Type: "update", Shortcut: sc.String()}); err != nil {
			log.Debug().Err(err).Msg("WebSocket write failed")
			return
		}
	}

	final := HotkeyMessage{Type: "result"}
	sc, err := cs.Wait(context.Background())
	if err != nil {
		final = HotkeyMessage{Type: "error", Error: err.Error()}
	} else {
		final.Shortcut = sc.String()
	}
	if err := conn.WriteJSON(final); err != nil {
		log.Debug().Err(err).Msg("WebSocket write failed")
		return
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

// Version is reported by /api/health.
var Version = "0.1.0"
