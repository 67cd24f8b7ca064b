package redirect

import (
	"context"
	"testing"

	"github.com/benaskins/streamctl/internal/config"
	"github.com/benaskins/streamctl/internal/keychain"
	"github.com/benaskins/streamctl/internal/oauth"
	"github.com/benaskins/streamctl/internal/platform"
	"github.com/benaskins/streamctl/internal/relay"
)

type staticIdentity string

func (s staticIdentity) Identity(context.Context, string) (platform.Identity, error) {
	return platform.Identity{ID: "1", Username: string(s)}, nil
}

type inertSurface struct{}

func (inertSurface) Navigations() <-chan string { return nil }
func (inertSurface) Closed() <-chan struct{}    { return nil }
func (inertSurface) Close() error               { return nil }

func newBroker(t *testing.T) (*oauth.Broker, keychain.Store) {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	store := keychain.NewMemoryStore()
	b := oauth.NewBroker(store, relay.New(), func(string) (oauth.Surface, error) {
		return inertSurface{}, nil
	})
	b.Register(oauth.NewProvider(platform.YouTube, cfg.YouTube), staticIdentity("channel"))
	return b, store
}
