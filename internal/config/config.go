package config

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hotrun-dev/hotrun/internal/errors"
	"github.com/hotrun-dev/hotrun/internal/watch"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "hotrun.json"

	// DefaultPort is the default server port.
	DefaultPort = 9000

	// DefaultHost is the default server host.
	DefaultHost = "127.0.0.1"

	// DefaultFrontendPort is the port hotrun run serves the frontend on.
	DefaultFrontendPort = 5173

	// DefaultEntry is the default entry module, relative to the project root.
	DefaultEntry = "src/backend/app.go"

	// DefaultIndex is the default frontend document.
	DefaultIndex = "src/frontend/index.html"

	// DefaultDebounce is the default watcher debounce.
	DefaultDebounce = "100ms"

	// DefaultCloseTimeout is how long a server gets to close during a swap.
	DefaultCloseTimeout = "5s"
)

// Config represents hotrun.json.
type Config struct {
	// Entry is the entry module path.
	Entry string `json:"entry,omitempty"`

	// Server contains listen configuration.
	Server ServerConfig `json:"server,omitempty"`

	// Frontend contains asset serving configuration.
	Frontend FrontendConfig `json:"frontend,omitempty"`

	// Dev contains watch and reload configuration.
	Dev DevConfig `json:"dev,omitempty"`

	// root is the project root the config belongs to.
	root string
}

// ServerConfig contains the address the application server listens on.
type ServerConfig struct {
	Port int    `json:"port,omitempty"`
	Host string `json:"host,omitempty"`
}

// FrontendConfig contains frontend asset configuration.
type FrontendConfig struct {
	// Root is the directory assets are served from (default: project root).
	Root string `json:"root,omitempty"`

	// Index is the document served for unmatched non-API routes.
	Index string `json:"index,omitempty"`

	// Remote is an optional bucket consulted when a local asset is missing.
	Remote *RemoteConfig `json:"remote,omitempty"`

	// Port is the port of the standalone frontend server started by
	// hotrun run. It listens on server.host.
	Port int `json:"port,omitempty"`
}

// RemoteConfig points at an S3-compatible bucket.
type RemoteConfig struct {
	Bucket   string `json:"bucket"`
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// DevConfig contains development orchestration settings.
type DevConfig struct {
	// Watch contains paths to watch for changes.
	Watch []string `json:"watch,omitempty"`

	// Ignore contains patterns to ignore during watch.
	Ignore []string `json:"ignore,omitempty"`

	// FullReload contains globs whose changes trigger a full reload.
	FullReload []string `json:"fullReload,omitempty"`

	// Poll forces the polling watcher.
	Poll bool `json:"poll,omitempty"`

	// Debounce coalesces file events (e.g., "100ms").
	Debounce string `json:"debounce,omitempty"`

	// CloseTimeout bounds a server close during a swap (e.g., "5s").
	CloseTimeout string `json:"closeTimeout,omitempty"`

	// HotReload enables the browser reload socket.
	HotReload *bool `json:"hotReload,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	hot := true
	return &Config{
		Entry: DefaultEntry,
		Server: ServerConfig{
			Port: DefaultPort,
			Host: DefaultHost,
		},
		Frontend: FrontendConfig{
			Index: DefaultIndex,
			Port:  DefaultFrontendPort,
		},
		Dev: DevConfig{
			Watch:        []string{"src"},
			Ignore:       append([]string(nil), watch.DefaultIgnore...),
			Debounce:     DefaultDebounce,
			CloseTimeout: DefaultCloseTimeout,
			HotReload:    &hot,
		},
	}
}

// Load reads hotrun.json from dir. A missing file yields the defaults.
func Load(dir string) (*Config, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.New("H400").Wrap(err)
	}
	cfg, err := LoadFile(filepath.Join(abs, ConfigFileName))
	if err != nil {
		if os.IsNotExist(err) {
			cfg = New()
			cfg.SetRoot(abs)
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads configuration from the specified file path. The project
// root is the file's directory.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, errors.New("H400").Wrap(err).WithModule(path)
	}

	cfg := New()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New("H400").
			WithModule(path).
			WithDetail("Failed to parse hotrun.json: " + err.Error()).
			WithSuggestion("Check that hotrun.json is valid JSON")
	}

	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, errors.New("H400").Wrap(err)
	}
	cfg.SetRoot(abs)
	cfg.applyDefaults()

	return cfg, nil
}

// applyDefaults fills in default values for fields the file left empty.
func (c *Config) applyDefaults() {
	if c.Entry == "" {
		c.Entry = DefaultEntry
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Frontend.Index == "" {
		c.Frontend.Index = DefaultIndex
	}
	if c.Frontend.Port == 0 {
		c.Frontend.Port = DefaultFrontendPort
	}
	if c.Dev.Watch == nil {
		c.Dev.Watch = []string{"src"}
	}
	if c.Dev.Ignore == nil {
		c.Dev.Ignore = append([]string(nil), watch.DefaultIgnore...)
	}
	if c.Dev.Debounce == "" {
		c.Dev.Debounce = DefaultDebounce
	}
	if c.Dev.CloseTimeout == "" {
		c.Dev.CloseTimeout = DefaultCloseTimeout
	}
	if c.Dev.HotReload == nil {
		hot := true
		c.Dev.HotReload = &hot
	}
}

// ApplyEnv overrides the listen address from PORT and HOST. getenv is
// usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("H401").
				WithDetail("PORT=" + v + " is not a number")
		}
		c.Server.Port = port
	}
	if v := getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.New("H401").
			WithDetail("Port must be between 0 and 65535, got " + strconv.Itoa(c.Server.Port))
	}
	if c.Frontend.Port < 0 || c.Frontend.Port > 65535 {
		return errors.New("H401").
			WithDetail("frontend.port must be between 0 and 65535, got " + strconv.Itoa(c.Frontend.Port))
	}
	for name, v := range map[string]string{
		"dev.debounce":     c.Dev.Debounce,
		"dev.closeTimeout": c.Dev.CloseTimeout,
	} {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return errors.New("H402").
				WithDetail(name + " = " + strconv.Quote(v))
		}
	}
	if r := c.Frontend.Remote; r != nil && r.Bucket == "" {
		return errors.New("H400").
			WithDetail("frontend.remote.bucket is required")
	}
	return nil
}

// Root returns the project root.
func (c *Config) Root() string {
	return c.root
}

// SetRoot changes the project root paths are resolved against.
func (c *Config) SetRoot(dir string) {
	c.root = dir
}

// Address returns the listen address.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// FrontendAddress returns the listen address of the frontend server.
func (c *Config) FrontendAddress() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Frontend.Port))
}

// URL returns the server URL for an address.
func URL(addr string) string {
	return "http://" + addr
}

// EntryPath returns the absolute path to the entry module.
func (c *Config) EntryPath() string {
	return c.abs(c.Entry)
}

// FrontendRoot returns the absolute asset root.
func (c *Config) FrontendRoot() string {
	if c.Frontend.Root == "" {
		return c.root
	}
	return c.abs(c.Frontend.Root)
}

// IndexPath returns the absolute path to the frontend document.
func (c *Config) IndexPath() string {
	return c.abs(c.Frontend.Index)
}

// WatchPaths returns the absolute watch roots.
func (c *Config) WatchPaths() []string {
	paths := make([]string, 0, len(c.Dev.Watch))
	for _, p := range c.Dev.Watch {
		paths = append(paths, c.abs(p))
	}
	return paths
}

// DebounceDuration returns the parsed dev.debounce.
func (c *Config) DebounceDuration() time.Duration {
	d, _ := time.ParseDuration(c.Dev.Debounce)
	return d
}

// CloseTimeoutDuration returns the parsed dev.closeTimeout.
func (c *Config) CloseTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Dev.CloseTimeout)
	return d
}

// HotReloadEnabled reports whether the browser reload socket is served.
func (c *Config) HotReloadEnabled() bool {
	return c.Dev.HotReload == nil || *c.Dev.HotReload
}

func (c *Config) abs(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.root, p)
}
