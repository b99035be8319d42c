package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	EnvDatabaseURL   = "STOCK_DB_URL"
	EnvDatabaseToken = "STOCK_DB_TOKEN"
)

// ConfigFileNames are tried in order inside every candidate directory.
var ConfigFileNames = []string{"config.json", "config.yaml", "config.yml"}

// ErrCredentialsNotFound is wrapped by a ConfigurationError when no resolver
// produced credentials.
var ErrCredentialsNotFound = errors.New("store credentials not found")

// ConfigurationError reports missing or invalid credentials. It is a
// precondition failure and is never retried.
type ConfigurationError struct {
	Source string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error in %s: %v", e.Source, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Credentials locate the backing store.
type Credentials struct {
	URL   string `json:"url" yaml:"url"`
	Token string `json:"token" yaml:"token"`
}

// Remote reports whether the URL points at a hosted libsql endpoint.
func (c Credentials) Remote() bool {
	scheme, _, _ := strings.Cut(c.URL, "://")
	switch strings.ToLower(scheme) {
	case "libsql", "https", "http", "wss", "ws":
		return true
	}
	return false
}

// Validate checks that the URL is present and that remote stores carry a token.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return errors.New("missing url")
	}
	if c.Remote() && strings.TrimSpace(c.Token) == "" {
		return errors.New("missing token")
	}
	return nil
}

// Normalized returns a copy with the URL rewritten by NormalizeURL.
func (c Credentials) Normalized() Credentials {
	c.URL = NormalizeURL(c.URL)
	return c
}

// NormalizeURL rewrites the libsql:// scheme to the https:// wire scheme.
func NormalizeURL(url string) string {
	if rest, ok := strings.CutPrefix(url, "libsql://"); ok {
		return "https://" + rest
	}
	return url
}

// Resolver produces store credentials from one source.
type Resolver interface {
	Resolve() (Credentials, error)
}

// StaticResolver returns fixed credentials, typically read from the
// environment. An empty URL resolves to ErrCredentialsNotFound.
type StaticResolver struct {
	URL   string
	Token string
}

func (r StaticResolver) Resolve() (Credentials, error) {
	if r.URL == "" {
		return Credentials{}, &ConfigurationError{Source: "environment", Err: ErrCredentialsNotFound}
	}
	creds := Credentials{URL: r.URL, Token: r.Token}
	if err := creds.Validate(); err != nil {
		return Credentials{}, &ConfigurationError{Source: "environment", Err: err}
	}
	return creds.Normalized(), nil
}

// FileResolver scans candidate directories for the first config file.
type FileResolver struct {
	Dirs  []string
	Names []string
}

func NewFileResolver(dirs ...string) *FileResolver {
	return &FileResolver{Dirs: dirs, Names: ConfigFileNames}
}

// Candidates lists every path the resolver will try, in order.
func (r *FileResolver) Candidates() []string {
	paths := make([]string, 0, len(r.Dirs)*len(r.Names))
	for _, dir := range r.Dirs {
		for _, name := range r.Names {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	return paths
}

func (r *FileResolver) Resolve() (Credentials, error) {
	candidates := r.Candidates()
	for _, path := range candidates {
		buf, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return Credentials{}, &ConfigurationError{Source: path, Err: err}
		}

		creds, err := parseCredentials(path, buf)
		if err != nil {
			return Credentials{}, &ConfigurationError{Source: path, Err: err}
		}
		if err := creds.Validate(); err != nil {
			return Credentials{}, &ConfigurationError{Source: path, Err: fmt.Errorf("config missing url/token: %w", err)}
		}
		return creds.Normalized(), nil
	}

	return Credentials{}, &ConfigurationError{
		Source: strings.Join(candidates, ", "),
		Err:    ErrCredentialsNotFound,
	}
}

func parseCredentials(path string, buf []byte) (Credentials, error) {
	var raw map[string]string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(buf, &raw); err != nil {
			return Credentials{}, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(buf, &raw); err != nil {
			return Credentials{}, fmt.Errorf("parse json: %w", err)
		}
	}

	creds := Credentials{URL: raw["url"], Token: raw["token"]}
	if creds.URL == "" {
		creds.URL = raw["URL"]
	}
	return creds, nil
}

// ChainResolver returns the first resolver result that is not a
// not-found error.
type ChainResolver []Resolver

func (c ChainResolver) Resolve() (Credentials, error) {
	var tried []string
	for _, r := range c {
		creds, err := r.Resolve()
		if err == nil {
			return creds, nil
		}
		if !errors.Is(err, ErrCredentialsNotFound) {
			return Credentials{}, err
		}
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) && cfgErr.Source != "" {
			tried = append(tried, cfgErr.Source)
		}
	}
	return Credentials{}, &ConfigurationError{
		Source: strings.Join(tried, "; "),
		Err:    ErrCredentialsNotFound,
	}
}

// DefaultConfigDirs returns the AppConfig directories for this platform,
// identifier first.
func DefaultConfigDirs() []string {
	base, err := os.UserConfigDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(base, AppIdentifier),
		filepath.Join(base, AppName),
	}
}
