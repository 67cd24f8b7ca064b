package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

const (
	DefaultScript       = "run.py"
	DefaultRequirements = "requirements.txt"
	DefaultPrompt       = "instructions/prompt.txt"
	DefaultConsoleLines = 1000
	DefaultRedirectAddr = "localhost:3000"
)

// Config holds persistent daemon configuration loaded from ~/.streamctl/config.yaml.
type Config struct {
	// Interpreter is the command used to run the streamer backend, split on
	// whitespace (shell quoting honoured), e.g. "python3" or "py -3.11".
	Interpreter  string `yaml:"interpreter"`
	Script       string `yaml:"script"`
	Root         string `yaml:"root"`
	InstallDeps  bool   `yaml:"install_deps"`
	Requirements string `yaml:"requirements"`
	Prompt       string `yaml:"prompt"` // persona prompt read by the backend, relative to Root
	ConsoleLines int    `yaml:"console_lines"`
	APIAddr      string `yaml:"api_addr"`
	RedirectAddr string `yaml:"redirect_addr"`

	YouTube Provider `yaml:"youtube"`
	Twitch  Provider `yaml:"twitch"`
}

// Provider is the static OAuth and API configuration for one platform.
type Provider struct {
	ClientID    string   `yaml:"client_id"`
	RedirectURI string   `yaml:"redirect_uri"`
	Scopes      []string `yaml:"scopes"`
	AuthURL     string   `yaml:"auth_url"`
	APIBase     string   `yaml:"api_base"`
	// APIKey is only used by YouTube live-stream search.
	APIKey string `yaml:"api_key,omitempty"`
}

// DefaultPath returns the default config file path: ~/.streamctl/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".streamctl", "config.yaml")
}

// DefaultInterpreter returns the interpreter used when none is configured.
// Windows installs usually only expose the py launcher.
func DefaultInterpreter() string {
	if runtime.GOOS == "windows" {
		return "py -3.11"
	}
	return "python3"
}

// Load reads a YAML config file from path. If the file does not exist,
// it returns the defaults and no error. An empty or all-comment file
// also returns the defaults with no error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		data = nil
	}

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Interpreter == "" {
		c.Interpreter = DefaultInterpreter()
	}
	if c.Script == "" {
		c.Script = DefaultScript
	}
	if c.Requirements == "" {
		c.Requirements = DefaultRequirements
	}
	if c.Prompt == "" {
		c.Prompt = DefaultPrompt
	}
	if c.ConsoleLines <= 0 {
		c.ConsoleLines = DefaultConsoleLines
	}
	if c.RedirectAddr == "" {
		c.RedirectAddr = DefaultRedirectAddr
	}

	c.YouTube.fill(Provider{
		RedirectURI: "http://" + c.RedirectAddr + "/oauth/youtube/callback",
		Scopes:      []string{"https://www.googleapis.com/auth/youtube.readonly"},
		AuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
		APIBase:     "https://www.googleapis.com/youtube/v3",
	})
	c.Twitch.fill(Provider{
		RedirectURI: "http://" + c.RedirectAddr + "/oauth/twitch/callback",
		Scopes:      []string{"chat:read", "chat:edit", "user:read:email"},
		AuthURL:     "https://id.twitch.tv/oauth2/authorize",
		APIBase:     "https://api.twitch.tv/helix",
	})
}

func (p *Provider) fill(def Provider) {
	if p.RedirectURI == "" {
		p.RedirectURI = def.RedirectURI
	}
	if len(p.Scopes) == 0 {
		p.Scopes = def.Scopes
	}
	if p.AuthURL == "" {
		p.AuthURL = def.AuthURL
	}
	if p.APIBase == "" {
		p.APIBase = def.APIBase
	}
}
