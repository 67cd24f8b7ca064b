// Package oauth brokers implicit-grant logins for the streaming platforms.
//
// Each platform has at most one session in flight. Begin supersedes any open
// session for the platform and opens a surface at the authorization URL. The
// provider's redirect is captured either by watching the surface's
// navigations or by the local redirect listener; both end up in Resolve,
// which stores the token, looks up the account identity, stores the username
// and publishes the result on the relay.
//
// Tokens are never refreshed and never checked for expiry. A stored token is
// trusted until a platform API call rejects it.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/benaskins/streamctl/internal/keychain"
	"github.com/benaskins/streamctl/internal/platform"
	"github.com/benaskins/streamctl/internal/relay"
)

// Status values published in Update and reported by Status.
const (
	StatusConnected    = "connected"
	StatusNotConnected = "not-connected"
	StatusAuthorizing  = "authorizing"
	StatusError        = "error"
	StatusAbandoned    = "abandoned"
	StatusDisconnected = "disconnected"
)

// SessionState is the lifecycle state of an authorization session.
type SessionState string

const (
	SessionAuthorizing SessionState = "authorizing"
	SessionError       SessionState = "error" // still open, the user may retry
	SessionResolved    SessionState = "resolved"
	SessionAbandoned   SessionState = "abandoned"
	SessionSuperseded  SessionState = "superseded"
)

// Update is published on relay.TopicOAuthUpdate.
type Update struct {
	Platform string `json:"platform"`
	Status   string `json:"status"`
	Username string `json:"username,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Credential is the stored result of a successful authorization.
type Credential struct {
	AccessToken string `json:"access_token"`
	Timestamp   int64  `json:"timestamp"` // capture time, unix milliseconds
}

// Connection is the answer to Status.
type Connection struct {
	Platform    string `json:"platform"`
	Status      string `json:"status"` // StatusConnected or StatusNotConnected
	Username    string `json:"username,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}

// Connected reports whether a credential is stored.
func (c Connection) Connected() bool { return c.Status == StatusConnected }

// IdentityFetcher resolves the account behind a token.
type IdentityFetcher interface {
	Identity(ctx context.Context, token string) (platform.Identity, error)
}

// SessionInfo describes an authorization session.
type SessionInfo struct {
	ID        string       `json:"id"`
	Platform  string       `json:"platform"`
	URL       string       `json:"url"`
	StartedAt time.Time    `json:"started_at"`
	State     SessionState `json:"state"`
}

type session struct {
	id        string
	platform  string
	url       string
	startedAt time.Time
	state     SessionState
	surface   Surface
	done      chan struct{}
	outcome   Outcome // set when done closes
}

func (s *session) info() SessionInfo {
	return SessionInfo{ID: s.id, Platform: s.platform, URL: s.url, StartedAt: s.startedAt, State: s.state}
}

// finish moves s to a terminal state. Callers hold the broker lock.
func (s *session) finish(state SessionState, outcome Outcome) {
	s.state = state
	s.outcome = outcome
	close(s.done)
}

type backend struct {
	provider Provider
	identity IdentityFetcher
}

// Broker runs authorization sessions and owns the stored credentials.
type Broker struct {
	store  keychain.Store
	relay  *relay.Relay
	open   SurfaceOpener
	logger *slog.Logger

	mu         sync.Mutex
	backends   map[string]backend
	sessions   map[string]*session  // in flight, by platform
	superseded map[string]time.Time // ids of sessions replaced by Begin
	now        func() time.Time
}

// supersededTTL is how long a superseded session id keeps blocking redirects.
const supersededTTL = time.Hour

// NewBroker creates a broker. A nil opener selects the system browser.
func NewBroker(store keychain.Store, r *relay.Relay, open SurfaceOpener) *Broker {
	if open == nil {
		open = OpenBrowser
	}
	return &Broker{
		store:      store,
		relay:      r,
		open:       open,
		logger:     slog.With("component", "oauth"),
		backends:   make(map[string]backend),
		sessions:   make(map[string]*session),
		superseded: make(map[string]time.Time),
		now:        time.Now,
	}
}

// Register installs or replaces the provider for p.Platform. Sessions
// already in flight keep the URL they were opened with.
func (b *Broker) Register(p Provider, identity IdentityFetcher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.backends[p.Platform] = backend{provider: p, identity: identity}
}

// Platforms lists the registered platforms.
func (b *Broker) Platforms() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var names []string
	for _, name := range platform.Names {
		if _, ok := b.backends[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

func credentialsKey(p string) string { return p + "_credentials" }
func usernameKey(p string) string    { return p + "_username" }

// Begin starts a new authorization session for name, superseding and
// closing any session already open for it.
func (b *Broker) Begin(ctx context.Context, name string) (SessionInfo, error) {
	b.mu.Lock()
	be, ok := b.backends[name]
	if !ok {
		b.mu.Unlock()
		return SessionInfo{}, fmt.Errorf("%w: %q", ErrUnknownPlatform, name)
	}

	old := b.sessions[name]
	var oldSurface Surface
	if old != nil {
		oldSurface = old.surface
		old.finish(SessionSuperseded, Errored{Reason: ErrSuperseded})
		b.superseded[old.id] = b.now()
	}
	b.pruneSuperseded()

	id := uuid.NewString()
	s := &session{
		id:        id,
		platform:  name,
		url:       be.provider.AuthorizationURL(id),
		startedAt: time.Now(),
		state:     SessionAuthorizing,
		done:      make(chan struct{}),
	}
	b.sessions[name] = s
	b.mu.Unlock()

	if old != nil {
		b.logger.Info("session superseded", "platform", name, "session", old.id)
		b.closeSurface(oldSurface)
	}

	surface, err := b.open(s.url)
	if err != nil {
		b.mu.Lock()
		err = fmt.Errorf("opening authorization surface: %w", err)
		if b.sessions[name] == s {
			delete(b.sessions, name)
			s.finish(SessionAbandoned, Errored{Reason: err})
		}
		b.mu.Unlock()
		b.logger.Error("begin failed", "platform", name, "error", err)
		b.publish(Update{Platform: name, Status: StatusError, Error: err.Error()})
		return SessionInfo{}, err
	}

	b.mu.Lock()
	if b.sessions[name] != s {
		// Superseded or resolved while the surface was opening.
		info := s.info()
		b.mu.Unlock()
		b.closeSurface(surface)
		return info, nil
	}
	s.surface = surface
	info := s.info()
	b.mu.Unlock()

	b.logger.Info("authorization started", "platform", name, "session", id)
	b.publish(Update{Platform: name, Status: StatusAuthorizing})
	go b.watch(s, be.provider, surface)
	return info, nil
}

// pruneSuperseded forgets superseded ids older than supersededTTL. A redirect
// naming a forgotten id is treated like one naming no session. Callers hold
// the broker lock.
func (b *Broker) pruneSuperseded() {
	cutoff := b.now().Add(-supersededTTL)
	for id, at := range b.superseded {
		if at.Before(cutoff) {
			delete(b.superseded, id)
		}
	}
}

// watch inspects the surface's navigations until the session ends.
func (b *Broker) watch(s *session, p Provider, surface Surface) {
	navs := surface.Navigations()
	closed := surface.Closed()
	for {
		select {
		case nav, ok := <-navs:
			if !ok {
				navs = nil
				continue
			}
			if params, ok := p.Match(nav); ok {
				b.resolve(context.Background(), s.platform, s, params)
			}
		case <-closed:
			b.abandon(s)
			return
		case <-s.done:
			return
		}
	}
}

// abandon ends a session whose surface the user closed before a token
// was captured.
func (b *Broker) abandon(s *session) {
	b.mu.Lock()
	if b.sessions[s.platform] != s {
		b.mu.Unlock()
		return
	}
	delete(b.sessions, s.platform)
	s.finish(SessionAbandoned, Abandoned{})
	b.mu.Unlock()

	b.logger.Info("authorization abandoned", "platform", s.platform, "session", s.id)
	b.publish(Update{Platform: s.platform, Status: StatusAbandoned})
}

// Pending returns the session in flight for name, if any.
func (b *Broker) Pending(name string) (SessionInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[name]
	if !ok {
		return SessionInfo{}, false
	}
	return s.info(), true
}

// Await blocks until the in-flight session id ends and returns how it
// ended. A session that ends without a redirect yields Abandoned; one
// replaced by a later Begin yields Errored with ErrSuperseded. A failed
// redirect leaves the session open, so Await keeps waiting.
func (b *Broker) Await(ctx context.Context, name, id string) (Outcome, error) {
	b.mu.Lock()
	s := b.sessions[name]
	b.mu.Unlock()
	if s == nil || s.id != id {
		return nil, fmt.Errorf("no session %s in flight for %s", id, name)
	}

	select {
	case <-s.done:
		b.mu.Lock()
		defer b.mu.Unlock()
		return s.outcome, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve handles a captured redirect for name. params holds the redirect's
// query and fragment parameters. A redirect whose state names a superseded
// session is ignored. Otherwise the redirect is resolved against the session
// it names, or against no session at all when it names none in flight;
// either way the stored credential is replaced.
func (b *Broker) Resolve(ctx context.Context, name string, params url.Values) Outcome {
	b.mu.Lock()
	if _, ok := b.backends[name]; !ok {
		b.mu.Unlock()
		return Errored{Reason: fmt.Errorf("%w: %q", ErrUnknownPlatform, name)}
	}
	state := params.Get("state")
	if _, ok := b.superseded[state]; ok && state != "" {
		b.mu.Unlock()
		b.logger.Info("ignoring redirect for superseded session", "platform", name, "session", state)
		return Errored{Reason: ErrSuperseded}
	}
	s := b.sessions[name]
	if s != nil && state != "" && s.id != state {
		s = nil
	}
	b.mu.Unlock()

	return b.resolve(ctx, name, s, params)
}

// resolve is the single store, identify and notify sequence shared by both
// capture paths. s may be nil.
func (b *Broker) resolve(ctx context.Context, name string, s *session, params url.Values) Outcome {
	b.mu.Lock()
	be := b.backends[name]
	b.mu.Unlock()

	token := params.Get("access_token")
	if token == "" {
		var err error = ErrNoToken
		if code := params.Get("error"); code != "" {
			err = &RedirectError{Code: code, Description: params.Get("error_description")}
		}
		return b.fail(name, s, err)
	}

	cred := Credential{AccessToken: token, Timestamp: time.Now().UnixMilli()}
	if err := keychain.SetJSON(b.store, credentialsKey(name), cred); err != nil {
		return b.fail(name, s, fmt.Errorf("storing credential: %w", err))
	}

	if be.identity == nil {
		return b.fail(name, s, &IdentityError{Platform: name, Err: errors.New("no identity client")})
	}
	identity, err := be.identity.Identity(ctx, token)
	if err != nil {
		return b.fail(name, s, &IdentityError{Platform: name, Err: err})
	}
	if err := b.store.Set(usernameKey(name), identity.Username); err != nil {
		return b.fail(name, s, fmt.Errorf("storing username: %w", err))
	}

	outcome := Resolved{Token: token, Identity: identity}
	var surface Surface
	b.mu.Lock()
	if s != nil && b.sessions[name] == s {
		delete(b.sessions, name)
		surface = s.surface
		s.finish(SessionResolved, outcome)
	}
	b.mu.Unlock()
	b.closeSurface(surface)

	b.logger.Info("authorization resolved", "platform", name, "username", identity.Username)
	b.publish(Update{Platform: name, Status: StatusConnected, Username: identity.Username})
	return outcome
}

// fail marks s as errored, leaving it open for a retry, and reports err.
func (b *Broker) fail(name string, s *session, err error) Outcome {
	b.mu.Lock()
	if s != nil && b.sessions[name] == s {
		s.state = SessionError
	}
	b.mu.Unlock()

	b.logger.Warn("authorization failed", "platform", name, "error", err)
	b.publish(Update{Platform: name, Status: StatusError, Error: err.Error()})
	return Errored{Reason: err}
}

// Status reads the stored credential for name. It does not contact the
// provider.
func (b *Broker) Status(name string) (Connection, error) {
	conn := Connection{Platform: name, Status: StatusNotConnected}

	var cred Credential
	ok, err := keychain.GetJSON(b.store, credentialsKey(name), &cred)
	if err != nil {
		return conn, err
	}
	if !ok || cred.AccessToken == "" {
		return conn, nil
	}

	username, err := b.store.Get(usernameKey(name))
	if err != nil && !errors.Is(err, keychain.ErrNotFound) {
		return conn, err
	}

	conn.Status = StatusConnected
	conn.Username = username
	conn.AccessToken = cred.AccessToken
	return conn, nil
}

// Credentials returns the stored credential for name, or ErrNotConnected.
func (b *Broker) Credentials(name string) (Credential, error) {
	var cred Credential
	ok, err := keychain.GetJSON(b.store, credentialsKey(name), &cred)
	if err != nil {
		return Credential{}, err
	}
	if !ok {
		return Credential{}, ErrNotConnected
	}
	return cred, nil
}

// Revoke deletes the stored credential and username for name. The token is
// not revoked with the provider.
func (b *Broker) Revoke(name string) error {
	for _, key := range []string{credentialsKey(name), usernameKey(name)} {
		if err := b.store.Delete(key); err != nil && !errors.Is(err, keychain.ErrNotFound) {
			return fmt.Errorf("deleting %s: %w", key, err)
		}
	}
	b.logger.Info("credential removed", "platform", name)
	b.publish(Update{Platform: name, Status: StatusDisconnected})
	return nil
}

// Close closes every open surface. Sessions end as abandoned.
func (b *Broker) Close() {
	b.mu.Lock()
	var surfaces []Surface
	for name, s := range b.sessions {
		if s.surface != nil {
			surfaces = append(surfaces, s.surface)
		}
		s.finish(SessionAbandoned, Abandoned{})
		delete(b.sessions, name)
	}
	b.mu.Unlock()

	for _, surface := range surfaces {
		b.closeSurface(surface)
	}
}

func (b *Broker) closeSurface(surface Surface) {
	if surface == nil {
		return
	}
	if err := surface.Close(); err != nil {
		b.logger.Warn("closing authorization surface", "error", err)
	}
}

func (b *Broker) publish(u Update) {
	b.relay.Publish(relay.TopicOAuthUpdate, u)
}
