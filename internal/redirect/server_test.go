package redirect

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/benaskins/streamctl/internal/oauth"
	"github.com/benaskins/streamctl/internal/platform"
)

type fakeResolver struct {
	mu    sync.Mutex
	calls []url.Values
	fail  error
}

func (f *fakeResolver) Platforms() []string { return []string{platform.YouTube, platform.Twitch} }

func (f *fakeResolver) Resolve(ctx context.Context, name string, params url.Values) oauth.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, params)
	f.mu.Unlock()
	if f.fail != nil {
		return oauth.Errored{Reason: f.fail}
	}
	return oauth.Resolved{Token: params.Get("access_token"), Identity: platform.Identity{Username: "<b>streamer</b>"}}
}

func (f *fakeResolver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestLandingPageForBareCallback(t *testing.T) {
	res := &fakeResolver{}
	srv := httptest.NewServer(NewServer(res).Handler())
	defer srv.Close()

	code, body := get(t, srv, "/oauth/youtube/callback")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if !strings.Contains(body, "location.hash") {
		t.Error("landing page should forward the fragment")
	}
	if res.count() != 0 {
		t.Error("bare callback must not resolve")
	}
}

func TestCallbackResolves(t *testing.T) {
	res := &fakeResolver{}
	srv := httptest.NewServer(NewServer(res).Handler())
	defer srv.Close()

	code, body := get(t, srv, "/oauth/twitch/callback?access_token=ABC123&state=s1&token_type=bearer")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if !strings.Contains(body, "window.close()") {
		t.Error("result page should close itself")
	}
	if strings.Contains(body, "<b>streamer</b>") {
		t.Error("username must be HTML-escaped")
	}
	if res.count() != 1 || res.calls[0].Get("access_token") != "ABC123" {
		t.Errorf("unexpected resolver calls %v", res.calls)
	}
}

func TestRepeatedCallbacksEachResolve(t *testing.T) {
	res := &fakeResolver{}
	srv := httptest.NewServer(NewServer(res).Handler())
	defer srv.Close()

	for range 3 {
		get(t, srv, "/oauth/youtube/callback?access_token=X")
	}
	if res.count() != 3 {
		t.Errorf("expected 3 resolutions, got %d", res.count())
	}
}

func TestCallbackError(t *testing.T) {
	res := &fakeResolver{fail: errors.New("access_denied")}
	srv := httptest.NewServer(NewServer(res).Handler())
	defer srv.Close()

	code, body := get(t, srv, "/oauth/youtube/callback?error=access_denied&state=s1")
	if code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
	if !strings.Contains(body, "access_denied") {
		t.Error("error page should show the reason")
	}
}

func TestUnknownPlatform(t *testing.T) {
	res := &fakeResolver{}
	srv := httptest.NewServer(NewServer(res).Handler())
	defer srv.Close()

	if code, _ := get(t, srv, "/oauth/kick/callback?access_token=X"); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
	if res.count() != 0 {
		t.Error("unknown platform must not resolve")
	}
}

func TestCallbackWithBroker(t *testing.T) {
	// End to end through a real broker: the listener is the capture path
	// when the surface is the system browser.
	b, store := newBroker(t)
	srv := httptest.NewServer(NewServer(b).Handler())
	defer srv.Close()

	info, err := b.Begin(context.Background(), platform.YouTube)
	if err != nil {
		t.Fatal(err)
	}
	code, _ := get(t, srv, "/oauth/youtube/callback?access_token=ABC123&state="+url.QueryEscape(info.ID))
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	conn, err := b.Status(platform.YouTube)
	if err != nil {
		t.Fatal(err)
	}
	if !conn.Connected() || conn.AccessToken != "ABC123" || conn.Username != "channel" {
		t.Errorf("unexpected status %+v", conn)
	}
	if name, _ := store.Get("youtube_username"); name != "channel" {
		t.Errorf("username = %q", name)
	}
}

func TestListen(t *testing.T) {
	res := &fakeResolver{}
	s := NewServer(res)
	if err := s.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer s.Shutdown(context.Background())

	resp, err := http.Get("http://" + s.Addr().String() + "/oauth/youtube/callback?access_token=T")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if res.count() != 1 {
		t.Errorf("expected one resolution, got %d", res.count())
	}

	// A second listener on the same port fails at bind time.
	if err := NewServer(res).Listen(s.Addr().String()); err == nil {
		t.Error("expected bind error for a taken port")
	}
}

func TestRenderLogsTemplateErrors(t *testing.T) {
	s := NewServer(&fakeResolver{})
	var logs bytes.Buffer
	s.logger = slog.New(slog.NewTextHandler(&logs, nil))

	broken := template.Must(template.New("broken").Parse(`{{.Missing}}`))
	rec := httptest.NewRecorder()
	s.render(rec, http.StatusOK, broken, donePageData{Platform: platform.YouTube})

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(logs.String(), "rendering page") || !strings.Contains(logs.String(), "page=broken") {
		t.Errorf("expected template error in log, got %q", logs.String())
	}
}
