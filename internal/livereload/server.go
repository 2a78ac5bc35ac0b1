// Package livereload implements the development server: it serves the
// build output, or proxies an application backend, injects a small client
// script into every HTML page and pushes reload, stylesheet swap and error
// overlay messages to connected browsers over a websocket.
package livereload

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/assetforge/internal/config"
	taskerrors "github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/logging"
)

const (
	routePrefix = "/__assetforge/"
	wsPath      = routePrefix + "ws"
	clientPath  = routePrefix + "client.js"
	statusPath  = routePrefix + "status"
	healthPath  = routePrefix + "health"
)

//go:embed client.js
var clientScript []byte

// Server is the live reloading development server.
type Server struct {
	config    *config.Config
	hub       *Hub
	collector *taskerrors.Collector
	logger    logging.Logger
	proxy     *httputil.ReverseProxy
	files     http.Handler
	open      func(url string) error

	httpServer   *http.Server
	listener     net.Listener
	cancel       context.CancelFunc
	startedAt    time.Time
	mutex        sync.RWMutex
	shutdownOnce sync.Once
}

// StatusResponse is returned by the status endpoint.
type StatusResponse struct {
	Clients int           `json:"clients"`
	Proxy   string        `json:"proxy,omitempty"`
	Root    string        `json:"root,omitempty"`
	Uptime  string        `json:"uptime"`
	Errors  []StatusError `json:"errors"`
}

// StatusError describes one outstanding transformation error.
type StatusError struct {
	Task    string `json:"task"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

// New creates a server for cfg. collector may be nil.
func New(cfg *config.Config, hub *Hub, collector *taskerrors.Collector, logger logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if hub == nil {
		hub = NewHub(logger)
	}
	s := &Server{
		config:    cfg,
		hub:       hub,
		collector: collector,
		logger:    logger.WithComponent("server"),
		files:     http.FileServer(http.Dir(cfg.Paths.Dist)),
		open:      openBrowser,
	}

	if cfg.Server.Proxy != "" {
		target, err := config.ProxyURL(cfg.Server.Proxy)
		if err != nil {
			return nil, err
		}
		s.proxy = s.newProxy(target)
	}
	return s, nil
}

// Hub returns the websocket hub of the server.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler with every route installed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(wsPath, s.hub)
	mux.HandleFunc(clientPath, s.handleClient)
	mux.HandleFunc(statusPath, s.handleStatus)
	mux.HandleFunc(healthPath, s.handleHealth)
	if s.proxy != nil {
		mux.Handle("/", s.proxy)
	} else {
		mux.HandleFunc("/", s.handleStatic)
	}
	return mux
}

// Start binds the listener and serves in the background. It returns once
// the address is bound, so callers may rely on the server accepting
// connections afterwards.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.mutex.Lock()
	s.listener = listener
	s.cancel = cancel
	s.startedAt = time.Now()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer := s.httpServer
	s.mutex.Unlock()

	go s.hub.Run(runCtx)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(runCtx, err, "Development server stopped")
		}
	}()

	address := s.URL()
	s.logger.Info(ctx, "Development server started", "url", address, "proxy", s.config.Server.Proxy)

	if s.config.Server.Open {
		go func() {
			if err := s.open(address); err != nil {
				s.logger.Warn(runCtx, err, "Failed to open browser", "url", address)
			}
		}()
	}
	return nil
}

// URL returns the address browsers should use. It reflects the bound port
// when the configured port is 0.
func (s *Server) URL() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.listener == nil {
		return s.config.ServerURL()
	}
	_, port, err := net.SplitHostPort(s.listener.Addr().String())
	if err != nil {
		return s.config.ServerURL()
	}
	return "http://" + net.JoinHostPort(s.config.Server.Host, port)
}

// Shutdown stops accepting connections and disconnects browsers.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.mutex.RLock()
		httpServer, cancel := s.httpServer, s.cancel
		s.mutex.RUnlock()
		if cancel != nil {
			cancel()
		}
		if httpServer != nil {
			err = httpServer.Shutdown(ctx)
		}
	})
	return err
}

func (s *Server) newProxy(target *url.URL) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(target)
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		r.Host = target.Host
		// Injection needs an uncompressed body.
		r.Header.Set("Accept-Encoding", "identity")
	}
	proxy.ModifyResponse = s.injectResponse
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.logger.Warn(r.Context(), err, "Proxy request failed", "path", r.URL.Path, "backend", target.String())
		http.Error(w, "backend unavailable: "+target.String(), http.StatusBadGateway)
	}
	return proxy
}

// injectResponse adds the client script to proxied HTML pages.
func (s *Server) injectResponse(resp *http.Response) error {
	if !isHTML(resp.Header.Get("Content-Type")) || resp.Header.Get("Content-Encoding") != "" {
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("reading backend response: %w", err)
	}

	out, err := injectScript(body, clientPath)
	if err != nil {
		s.logger.Debug(resp.Request.Context(), "Serving page without live reload", "error", err.Error())
		out = body
	}
	resp.Body = io.NopCloser(bytes.NewReader(out))
	resp.ContentLength = int64(len(out))
	resp.Header.Set("Content-Length", strconv.Itoa(len(out)))
	return nil
}

// handleStatic serves the dist tree, injecting the client into HTML pages.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + r.URL.Path)
	full := filepath.Join(s.config.Paths.Dist, filepath.FromSlash(name))

	info, err := os.Stat(full)
	if err == nil && info.IsDir() {
		full = filepath.Join(full, "index.html")
		info, err = os.Stat(full)
	}
	if err != nil || info.IsDir() || !strings.HasSuffix(full, ".html") {
		s.files.ServeHTTP(w, r)
		return
	}

	data, err := os.ReadFile(full)
	if err != nil {
		http.Error(w, "failed to read page", http.StatusInternalServerError)
		return
	}
	out, err := injectScript(data, clientPath)
	if err != nil {
		out = data
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(out)
}

func (s *Server) handleClient(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(clientScript)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mutex.RLock()
	startedAt := s.startedAt
	s.mutex.RUnlock()

	status := StatusResponse{
		Clients: s.hub.ClientCount(),
		Proxy:   s.config.Server.Proxy,
		Errors:  []StatusError{},
	}
	if s.proxy == nil {
		status.Root = s.config.Paths.Dist
	}
	if !startedAt.IsZero() {
		status.Uptime = time.Since(startedAt).Round(time.Second).String()
	}
	if s.collector != nil {
		for _, e := range s.collector.Errors() {
			status.Errors = append(status.Errors, StatusError{
				Task:    e.Task,
				File:    e.File,
				Line:    e.Line,
				Column:  e.Column,
				Message: e.Message,
			})
		}
	}
	writeJSON(w, status)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/html"
}
