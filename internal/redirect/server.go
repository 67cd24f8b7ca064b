// Package redirect serves the local OAuth redirect endpoint.
//
// Providers deliver implicit-grant tokens in the URL fragment, which browsers
// never send to the server. A bare callback request is therefore answered
// with a landing page that moves the fragment into the query string and
// reloads; the reloaded request carries the parameters and is resolved.
package redirect

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/benaskins/streamctl/internal/oauth"
)

// Resolver completes an authorization from redirect parameters.
type Resolver interface {
	Platforms() []string
	Resolve(ctx context.Context, platform string, params url.Values) oauth.Outcome
}

// Server is the redirect listener.
type Server struct {
	resolver Resolver
	server   *http.Server
	addr     net.Addr
	logger   *slog.Logger
}

// NewServer creates a redirect listener that hands callbacks to resolver.
func NewServer(resolver Resolver) *Server {
	s := &Server{
		resolver: resolver,
		logger:   slog.With("component", "redirect"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /oauth/{platform}/callback", s.callback)

	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Listen binds addr and serves in the background until Shutdown. Binding
// errors, such as the port being taken, are returned immediately.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("redirect listener: %w", err)
	}
	s.addr = ln.Addr()
	s.logger.Info("redirect listener started", "addr", s.addr.String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("redirect listener stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once Listen has succeeded.
func (s *Server) Addr() net.Addr { return s.addr }

// Shutdown stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) callback(w http.ResponseWriter, r *http.Request) {
	platform := r.PathValue("platform")
	if !slices.Contains(s.resolver.Platforms(), platform) {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	if !q.Has("access_token") && !q.Has("error") && !q.Has("state") {
		s.render(w, http.StatusOK, landingPage, nil)
		return
	}

	outcome := s.resolver.Resolve(r.Context(), platform, q)
	switch o := outcome.(type) {
	case oauth.Resolved:
		s.logger.Info("redirect resolved", "platform", platform, "username", o.Identity.Username)
		s.render(w, http.StatusOK, donePage, donePageData{Platform: platform, Username: o.Identity.Username})
	case oauth.Errored:
		s.logger.Warn("redirect failed", "platform", platform, "error", o.Reason)
		s.render(w, http.StatusBadRequest, donePage, donePageData{Platform: platform, Error: o.Reason.Error()})
	default:
		s.render(w, http.StatusOK, donePage, donePageData{Platform: platform})
	}
}

type donePageData struct {
	Platform string
	Username string
	Error    string
}

func (s *Server) render(w http.ResponseWriter, status int, t *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := t.Execute(w, data); err != nil {
		s.logger.Error("rendering page", "page", t.Name(), "error", err)
	}
}

var landingPage = template.Must(template.New("landing").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>streamctl</title></head>
<body>
<p id="msg">Completing sign-in&hellip;</p>
<script>
if (window.location.hash.length > 1) {
  window.location.replace(window.location.pathname + "?" + window.location.hash.substring(1));
} else {
  document.getElementById("msg").textContent = "No authorization result was received.";
}
</script>
</body>
</html>
`))

var donePage = template.Must(template.New("done").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>streamctl</title></head>
<body>
{{if .Error}}<p>Could not connect {{.Platform}}: {{.Error}}</p>
{{else if .Username}}<p>Connected {{.Platform}} as {{.Username}}. You can close this window.</p>
{{else}}<p>Done. You can close this window.</p>
{{end}}<script>window.close();</script>
</body>
</html>
`))
