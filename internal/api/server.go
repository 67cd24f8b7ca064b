package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/benaskins/streamctl/internal/daemon"
	"github.com/benaskins/streamctl/internal/logbuf"
	"github.com/benaskins/streamctl/internal/oauth"
	"github.com/benaskins/streamctl/internal/platform"
	"github.com/benaskins/streamctl/internal/supervisor"
)

const defaultLogLines = 100

// Server serves the streamctl REST API over a Unix socket.
type Server struct {
	daemon   *daemon.Daemon
	listener net.Listener
	server   *http.Server
	logger   *slog.Logger
	ctx      context.Context
}

// NewServer creates an API server backed by the given daemon. ctx is the
// daemon lifetime; it bounds dependency installs started through the API
// and event streams.
func NewServer(d *daemon.Daemon, ctx context.Context) *Server {
	s := &Server{
		daemon: d,
		logger: slog.With("component", "api"),
		ctx:    ctx,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.health)
	mux.HandleFunc("GET /v1/process", s.processInfo)
	mux.HandleFunc("POST /v1/process/start", s.startProcess)
	mux.HandleFunc("POST /v1/process/stop", s.stopProcess)
	mux.HandleFunc("GET /v1/process/logs", s.processLogs)
	mux.HandleFunc("POST /v1/oauth/{platform}/begin", s.beginAuth)
	mux.HandleFunc("GET /v1/oauth/{platform}/status", s.authStatus)
	mux.HandleFunc("POST /v1/oauth/{platform}/token", s.importToken)
	mux.HandleFunc("DELETE /v1/oauth/{platform}", s.revoke)
	mux.HandleFunc("GET /v1/credentials/{platform}", s.credentials)
	mux.HandleFunc("GET /v1/streams/{platform}/live", s.liveStream)
	mux.HandleFunc("GET /v1/interpreters", s.interpreters)
	mux.HandleFunc("POST /v1/interpreters/test", s.testInterpreter)
	mux.HandleFunc("GET /v1/prompt", s.prompt)
	mux.HandleFunc("PUT /v1/prompt", s.savePrompt)
	mux.HandleFunc("POST /v1/reload", s.reload)
	mux.HandleFunc("GET /v1/events", s.events)

	s.server = &http.Server{Handler: mux}
	return s
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// ListenUnix starts the server on a Unix socket.
func (s *Server) ListenUnix(path string) error {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("API listening", "socket", path)
	return s.server.Serve(ln)
}

// ListenTCP starts the server on a TCP address.
func (s *Server) ListenTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("API listening", "addr", addr)
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) processInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.ProcessInfo())
}

func (s *Server) startProcess(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var launch *supervisor.LaunchConfig
	if len(strings.TrimSpace(string(body))) > 0 {
		launch = &supervisor.LaunchConfig{}
		if err := json.Unmarshal(body, launch); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	started, err := s.daemon.StartProcess(s.ctx, launch)
	if err != nil {
		writeError(w, startStatus(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "started", "launch": started})
}

// startStatus maps start failures to status codes. Spawn and install
// failures are server errors.
func startStatus(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrAlreadyRunning), errors.Is(err, supervisor.ErrStartCancelled):
		return http.StatusConflict
	case errors.Is(err, daemon.ErrNoLaunchConfig):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) stopProcess(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": string(s.daemon.StopProcess())})
}

func (s *Server) processLogs(w http.ResponseWriter, r *http.Request) {
	n := defaultLogLines
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("n must be an integer"))
			return
		}
		n = parsed
	}

	var streams []logbuf.Stream
	if v := r.URL.Query().Get("stream"); v != "" {
		for _, name := range strings.Split(v, ",") {
			streams = append(streams, logbuf.Stream(strings.TrimSpace(name)))
		}
	}

	lines := s.daemon.Logs(n, streams...)
	if lines == nil {
		lines = []logbuf.Line{}
	}
	writeJSON(w, http.StatusOK, lines)
}

// authResult is the JSON form of an oauth.Outcome.
type authResult struct {
	Platform string `json:"platform"`
	Status   string `json:"status"`
	Username string `json:"username,omitempty"`
	Error    string `json:"error,omitempty"`
}

func outcomeResult(name string, outcome oauth.Outcome) (int, authResult) {
	res := authResult{Platform: name}
	switch o := outcome.(type) {
	case oauth.Resolved:
		res.Status = oauth.StatusConnected
		res.Username = o.Identity.Username
		return http.StatusOK, res
	case oauth.Abandoned:
		res.Status = oauth.StatusAbandoned
		return http.StatusOK, res
	case oauth.Errored:
		res.Status = oauth.StatusError
		res.Error = o.Reason.Error()
		return errorStatus(o.Reason), res
	default:
		res.Status = oauth.StatusError
		return http.StatusInternalServerError, res
	}
}

func (s *Server) beginAuth(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("platform")
	session, err := s.daemon.BeginAuth(r.Context(), name)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		writeJSON(w, http.StatusOK, map[string]any{"session": session.ID, "url": session.URL})
		return
	}

	outcome, err := s.daemon.AwaitAuth(r.Context(), name, session.ID)
	if err != nil {
		writeError(w, http.StatusRequestTimeout, err)
		return
	}
	status, res := outcomeResult(name, outcome)
	writeJSON(w, status, res)
}

func (s *Server) authStatus(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("platform")
	conn, pending, err := s.daemon.AuthStatus(name)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	resp := map[string]any{
		"platform": conn.Platform,
		"status":   conn.Status,
		"username": conn.Username,
	}
	if pending != nil {
		resp["pending"] = pending
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) importToken(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("platform")
	var req struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	status, res := outcomeResult(name, s.daemon.ImportToken(r.Context(), name, req.AccessToken))
	writeJSON(w, status, res)
}

func (s *Server) revoke(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("platform")
	if err := s.daemon.Revoke(name); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"platform": name, "status": oauth.StatusDisconnected})
}

func (s *Server) credentials(w http.ResponseWriter, r *http.Request) {
	cred, err := s.daemon.Credentials(r.PathValue("platform"))
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

func (s *Server) liveStream(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		writeError(w, http.StatusBadRequest, errors.New("channel is required"))
		return
	}
	stream, err := s.daemon.LiveStream(r.Context(), r.PathValue("platform"), channel)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stream)
}

func (s *Server) interpreters(w http.ResponseWriter, r *http.Request) {
	found := s.daemon.Interpreters(r.Context())
	if found == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) testInterpreter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Command == "" {
		req.Command = s.daemon.Config().Interpreter
	}
	version, err := s.daemon.TestInterpreter(r.Context(), req.Command)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"command": req.Command, "version": version})
}

type promptBody struct {
	Prompt string `json:"prompt"`
	Path   string `json:"path,omitempty"`
}

func (s *Server) prompt(w http.ResponseWriter, r *http.Request) {
	text, err := s.daemon.Prompt()
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, promptBody{Prompt: text, Path: s.daemon.PromptPath()})
}

func (s *Server) savePrompt(w http.ResponseWriter, r *http.Request) {
	var req promptBody
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.daemon.SavePrompt(req.Prompt); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved", "path": s.daemon.PromptPath()})
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	var apiErr *platform.APIError
	var idErr *oauth.IdentityError
	switch {
	case errors.Is(err, oauth.ErrUnknownPlatform),
		errors.Is(err, oauth.ErrNotConnected),
		errors.Is(err, platform.ErrNotLive),
		errors.Is(err, daemon.ErrNoPrompt):
		return http.StatusNotFound
	case errors.Is(err, oauth.ErrNoToken):
		return http.StatusBadRequest
	case errors.Is(err, oauth.ErrSuperseded):
		return http.StatusConflict
	case errors.As(err, &idErr), errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
