// Package daemon hosts the streamer control components: the process
// supervisor, the OAuth broker with its redirect listener, the console
// buffer and the event relay. The API server and the CLI talk to a Daemon.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/benaskins/streamctl/internal/config"
	"github.com/benaskins/streamctl/internal/driver"
	"github.com/benaskins/streamctl/internal/keychain"
	"github.com/benaskins/streamctl/internal/logbuf"
	"github.com/benaskins/streamctl/internal/oauth"
	"github.com/benaskins/streamctl/internal/platform"
	"github.com/benaskins/streamctl/internal/redirect"
	"github.com/benaskins/streamctl/internal/relay"
	"github.com/benaskins/streamctl/internal/supervisor"
)

// ErrNoLaunchConfig is returned by StartProcess when no launch config was
// given and none has been saved.
var ErrNoLaunchConfig = errors.New("no launch config given and none saved")

// Daemon is the long-lived host process.
type Daemon struct {
	configPath string
	stateDir   string
	store      keychain.Store
	opener     oauth.SurfaceOpener
	term       driver.Terminator
	httpClient *http.Client

	relay      *relay.Relay
	console    *logbuf.Ring
	supervisor *supervisor.Supervisor
	broker     *oauth.Broker
	redirect   *redirect.Server
	state      *stateFile

	mu        sync.RWMutex
	cfg       *config.Config
	platforms map[string]platform.Client

	unsubscribe []func()
	logger      *slog.Logger
}

// Option configures the daemon.
type Option func(*Daemon)

// WithStore sets the credential store. Without it credentials live in memory.
func WithStore(s keychain.Store) Option {
	return func(d *Daemon) {
		d.store = s
	}
}

// WithStateDir sets the directory for the daemon state file.
func WithStateDir(dir string) Option {
	return func(d *Daemon) {
		d.stateDir = dir
	}
}

// WithSurfaceOpener replaces the system browser as the authorization surface.
func WithSurfaceOpener(open oauth.SurfaceOpener) Option {
	return func(d *Daemon) {
		d.opener = open
	}
}

// WithTerminator overrides the platform process termination strategy.
func WithTerminator(t driver.Terminator) Option {
	return func(d *Daemon) {
		d.term = t
	}
}

// WithHTTPClient sets the client used for platform API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Daemon) {
		d.httpClient = c
	}
}

// NewDaemon creates a daemon for cfg. configPath is watched for changes by
// StartWatcher and re-read by Reload; it may be empty.
func NewDaemon(cfg *config.Config, configPath string, opts ...Option) *Daemon {
	d := &Daemon{
		configPath: configPath,
		cfg:        cfg,
		relay:      relay.New(),
		logger:     slog.With("component", "daemon"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.store == nil {
		d.store = keychain.NewMemoryStore()
	}
	if d.stateDir == "" && configPath != "" {
		d.stateDir = filepath.Dir(configPath)
	}
	d.state = newStateFile(d.stateDir)

	d.console = logbuf.New(cfg.ConsoleLines)
	d.supervisor = supervisor.New(d.relay, settingsFrom(cfg), d.term)
	d.broker = oauth.NewBroker(d.store, d.relay, d.opener)
	d.redirect = redirect.NewServer(d.broker)
	d.applyProviders(cfg)

	d.unsubscribe = append(d.unsubscribe,
		d.relay.Subscribe(relay.TopicProcessOutput, d.recordOutput),
		d.relay.Subscribe(relay.TopicProcessError, d.recordError),
		d.relay.Subscribe(relay.TopicProcessExit, d.recordExit),
	)
	return d
}

// Start binds the redirect listener.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.RLock()
	addr := d.cfg.RedirectAddr
	d.mu.RUnlock()

	if err := d.redirect.Listen(addr); err != nil {
		return err
	}
	d.logger.Info("daemon started", "redirect_addr", addr)
	return nil
}

// Stop terminates the backend, closes open authorization surfaces and the
// redirect listener.
func (d *Daemon) Stop(timeout time.Duration) {
	if d.supervisor.Stop() == supervisor.Stopped {
		d.logger.Info("backend stopped on shutdown")
	}
	d.broker.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := d.redirect.Shutdown(ctx); err != nil {
		d.logger.Warn("redirect listener shutdown", "error", err)
	}

	for _, unsub := range d.unsubscribe {
		unsub()
	}
	d.unsubscribe = nil
}

// Relay returns the event relay consumers subscribe to.
func (d *Daemon) Relay() *relay.Relay { return d.relay }

// RedirectAddr returns the redirect listener's bound address, or "" before Start.
func (d *Daemon) RedirectAddr() string {
	if addr := d.redirect.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Config returns a copy of the active configuration.
func (d *Daemon) Config() config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return *d.cfg
}

// StartProcess launches the backend. A nil launch reuses the last saved one.
// The launch config is saved once the process is running.
func (d *Daemon) StartProcess(ctx context.Context, launch *supervisor.LaunchConfig) (supervisor.LaunchConfig, error) {
	if launch == nil {
		st, err := d.state.load()
		if err != nil {
			return supervisor.LaunchConfig{}, err
		}
		if st.LastLaunch == nil {
			return supervisor.LaunchConfig{}, ErrNoLaunchConfig
		}
		launch = st.LastLaunch
	}
	cfg := *launch

	if err := d.supervisor.Start(ctx, cfg); err != nil {
		return cfg, err
	}
	d.console.Append(logbuf.StreamSystem, fmt.Sprintf("started backend: %s\n", cfg))

	if err := d.state.update(func(s *State) {
		s.LastLaunch = &cfg
		if s.Launches == nil {
			s.Launches = make(map[string]supervisor.LaunchConfig)
		}
		s.Launches[cfg.Platform] = cfg
	}); err != nil {
		d.logger.Warn("failed to save launch config", "error", err)
	}
	return cfg, nil
}

// StopProcess stops the backend.
func (d *Daemon) StopProcess() supervisor.StopResult {
	result := d.supervisor.Stop()
	if result == supervisor.Stopped {
		d.console.Append(logbuf.StreamSystem, "stop requested\n")
	}
	return result
}

// ProcessInfo reports the backend handle.
func (d *Daemon) ProcessInfo() supervisor.HandleInfo {
	return d.supervisor.Info()
}

// SavedState returns the persisted daemon state.
func (d *Daemon) SavedState() (State, error) {
	return d.state.load()
}

// Logs returns the last n console lines, optionally filtered by stream.
func (d *Daemon) Logs(n int, streams ...logbuf.Stream) []logbuf.Line {
	return d.console.Last(n, streams...)
}

func (d *Daemon) recordOutput(ev relay.Event) {
	if out, ok := ev.Payload.(supervisor.OutputEvent); ok {
		d.console.Append(logbuf.StreamOutput, out.Text)
	}
}

func (d *Daemon) recordError(ev relay.Event) {
	e, ok := ev.Payload.(supervisor.ErrorEvent)
	if !ok {
		return
	}
	if e.Source == supervisor.SourceStderr || e.Source == supervisor.SourceInstall {
		d.console.Append(logbuf.StreamError, e.Text)
		return
	}
	d.console.Append(logbuf.StreamError, e.Text+"\n")
}

func (d *Daemon) recordExit(ev relay.Event) {
	exit, ok := ev.Payload.(supervisor.ExitEvent)
	if !ok {
		return
	}
	d.console.Flush()
	msg := fmt.Sprintf("backend exited (pid %d, code %d)\n", exit.PID, exit.Code)
	if exit.Signal != "" {
		msg = fmt.Sprintf("backend exited (pid %d, signal %s)\n", exit.PID, exit.Signal)
	}
	d.console.Append(logbuf.StreamSystem, msg)

	if err := d.state.update(func(s *State) { s.LastExit = &exit }); err != nil {
		d.logger.Warn("failed to save exit", "error", err)
	}
}

// BeginAuth starts an authorization session for name.
func (d *Daemon) BeginAuth(ctx context.Context, name string) (oauth.SessionInfo, error) {
	return d.broker.Begin(ctx, name)
}

// AwaitAuth blocks until the session id for name ends.
func (d *Daemon) AwaitAuth(ctx context.Context, name, id string) (oauth.Outcome, error) {
	return d.broker.Await(ctx, name, id)
}

// AuthStatus reports the stored connection for name and the session in
// flight, if any.
func (d *Daemon) AuthStatus(name string) (oauth.Connection, *oauth.SessionInfo, error) {
	if !d.knownPlatform(name) {
		return oauth.Connection{}, nil, fmt.Errorf("%w: %q", oauth.ErrUnknownPlatform, name)
	}
	conn, err := d.broker.Status(name)
	if err != nil {
		return conn, nil, err
	}
	if pending, ok := d.broker.Pending(name); ok {
		return conn, &pending, nil
	}
	return conn, nil, nil
}

// ImportToken stores a manually obtained token for name through the same
// resolution path as a captured redirect.
func (d *Daemon) ImportToken(ctx context.Context, name, token string) oauth.Outcome {
	return d.broker.Resolve(ctx, name, url.Values{"access_token": {token}})
}

// Credentials returns the stored credential for name.
func (d *Daemon) Credentials(name string) (oauth.Credential, error) {
	if !d.knownPlatform(name) {
		return oauth.Credential{}, fmt.Errorf("%w: %q", oauth.ErrUnknownPlatform, name)
	}
	return d.broker.Credentials(name)
}

// Revoke forgets the stored credential for name.
func (d *Daemon) Revoke(name string) error {
	if !d.knownPlatform(name) {
		return fmt.Errorf("%w: %q", oauth.ErrUnknownPlatform, name)
	}
	return d.broker.Revoke(name)
}

// LiveStream looks up the live broadcast on channel. The stored credential
// is used when there is one; Twitch requires it.
func (d *Daemon) LiveStream(ctx context.Context, name, channel string) (platform.Stream, error) {
	d.mu.RLock()
	client, ok := d.platforms[name]
	d.mu.RUnlock()
	if !ok {
		return platform.Stream{}, fmt.Errorf("%w: %q", oauth.ErrUnknownPlatform, name)
	}

	var token string
	cred, err := d.broker.Credentials(name)
	switch {
	case err == nil:
		token = cred.AccessToken
	case errors.Is(err, oauth.ErrNotConnected):
		if name == platform.Twitch {
			return platform.Stream{}, fmt.Errorf("twitch: %w, run streamctl connect twitch first", err)
		}
	default:
		return platform.Stream{}, err
	}
	return client.LiveStream(ctx, channel, token)
}

// Interpreters lists usable Python interpreters on this machine.
func (d *Daemon) Interpreters(ctx context.Context) []driver.Interpreter {
	return driver.DetectInterpreters(ctx)
}

// TestInterpreter reports the Python version command runs.
func (d *Daemon) TestInterpreter(ctx context.Context, command string) (string, error) {
	return driver.TestInterpreter(ctx, command)
}

// Reload re-reads the config file and applies interpreter, backend and
// provider settings. The running process and open sessions are unaffected;
// listener addresses need a daemon restart.
func (d *Daemon) Reload() error {
	if d.configPath == "" {
		return nil
	}
	cfg, err := config.Load(d.configPath)
	if err != nil {
		return err
	}

	d.mu.Lock()
	old := d.cfg
	d.cfg = cfg
	d.mu.Unlock()

	if old.RedirectAddr != cfg.RedirectAddr || old.APIAddr != cfg.APIAddr {
		d.logger.Warn("listener address changes take effect after restart",
			"redirect_addr", cfg.RedirectAddr, "api_addr", cfg.APIAddr)
	}
	d.supervisor.SetSettings(settingsFrom(cfg))
	d.applyProviders(cfg)
	d.logger.Info("config reloaded", "interpreter", cfg.Interpreter)
	return nil
}

func (d *Daemon) applyProviders(cfg *config.Config) {
	yt := &platform.YouTubeClient{BaseURL: cfg.YouTube.APIBase, APIKey: cfg.YouTube.APIKey, HTTP: d.httpClient}
	tw := &platform.TwitchClient{BaseURL: cfg.Twitch.APIBase, ClientID: cfg.Twitch.ClientID, HTTP: d.httpClient}

	d.mu.Lock()
	d.platforms = map[string]platform.Client{platform.YouTube: yt, platform.Twitch: tw}
	d.mu.Unlock()

	d.broker.Register(oauth.NewProvider(platform.YouTube, cfg.YouTube), yt)
	d.broker.Register(oauth.NewProvider(platform.Twitch, cfg.Twitch), tw)

	for name, p := range map[string]config.Provider{platform.YouTube: cfg.YouTube, platform.Twitch: cfg.Twitch} {
		if p.ClientID == "" {
			d.logger.Warn("no OAuth client id configured", "platform", name)
		}
	}
}

func (d *Daemon) knownPlatform(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.platforms[name]
	return ok
}

func settingsFrom(cfg *config.Config) supervisor.Settings {
	return supervisor.Settings{
		Interpreter:  cfg.Interpreter,
		Script:       cfg.Script,
		Root:         cfg.Root,
		InstallDeps:  cfg.InstallDeps,
		Requirements: cfg.Requirements,
	}
}
