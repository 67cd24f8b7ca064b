package oauth

import (
	"os/exec"
	"runtime"
)

// Surface is the interactive view hosting a provider's login page.
//
// Navigations delivers every URL the surface navigates to; Closed is closed
// when the user dismisses the surface. Either may be nil when the surface
// cannot observe that event.
type Surface interface {
	Navigations() <-chan string
	Closed() <-chan struct{}
	Close() error
}

// SurfaceOpener opens a surface at the authorization URL.
type SurfaceOpener func(authURL string) (Surface, error)

// browserCommand is replaced in tests.
var browserCommand = func(target string) *exec.Cmd {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", target)
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", target)
	default:
		return exec.Command("xdg-open", target)
	}
}

// OpenBrowser opens the authorization URL in the system browser. The browser
// exposes no navigation or close hooks, so the redirect listener is the only
// capture path and the session stays open until resolved or superseded.
func OpenBrowser(authURL string) (Surface, error) {
	cmd := browserCommand(authURL)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go cmd.Wait()
	return browserSurface{}, nil
}

type browserSurface struct{}

func (browserSurface) Navigations() <-chan string { return nil }
func (browserSurface) Closed() <-chan struct{}    { return nil }
func (browserSurface) Close() error               { return nil }
