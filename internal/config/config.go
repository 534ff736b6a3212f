package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mikequentel/circlegram/internal/render"
)

const (
	DefaultGraphAPIBase    = "https://graph.facebook.com/"
	DefaultPublicURLPrefix = "https://storage.googleapis.com/"
	DefaultCredentialsFile = "key.json"
	DefaultLedgerPath      = "circlegram.sqlite"

	envPrefix = "CIRCLEGRAM_"
)

// Config is the run configuration, read once at startup.
type Config struct {
	BucketName  string  `json:"bucket_name" yaml:"bucket_name"`
	IGUserID    string  `json:"ig_user_id" yaml:"ig_user_id"`
	AccessToken string  `json:"access_token" yaml:"access_token"`
	Caption     Caption `json:"caption" yaml:"caption"`
	Hashtags    string  `json:"hashtags" yaml:"hashtags"`

	GraphAPIBase    string          `json:"graph_api_base,omitempty" yaml:"graph_api_base,omitempty"`
	PublicURLPrefix string          `json:"public_url_prefix,omitempty" yaml:"public_url_prefix,omitempty"`
	CredentialsFile *string         `json:"credentials_file,omitempty" yaml:"credentials_file,omitempty"`
	LedgerPath      *string         `json:"ledger_path,omitempty" yaml:"ledger_path,omitempty"`
	Render          render.Config   `json:"render,omitempty" yaml:"render,omitempty"`
	Readiness       ReadinessConfig `json:"readiness,omitempty" yaml:"readiness,omitempty"`
	X               XConfig         `json:"x,omitempty" yaml:"x,omitempty"`
	CloudLogging    CloudLogging    `json:"cloud_logging,omitempty" yaml:"cloud_logging,omitempty"`
}

// Caption is split in two because the image name goes in between.
type Caption struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// ReadinessConfig bounds the polls that wait for the platform to finish
// processing a container or a published post. With polling off, or when the
// status endpoint is unavailable, the run waits Settle once instead.
type ReadinessConfig struct {
	Enabled         *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	InitialInterval Duration `json:"initial_interval,omitempty" yaml:"initial_interval,omitempty"`
	MaxWait         Duration `json:"max_wait,omitempty" yaml:"max_wait,omitempty"`
	Settle          Duration `json:"settle,omitempty" yaml:"settle,omitempty"`
}

// Polling reports whether readiness polls run; they do unless disabled.
func (r ReadinessConfig) Polling() bool {
	return r.Enabled == nil || *r.Enabled
}

// CloudLogging enables a copy of every log line in Google Cloud Logging
// when ProjectID is set.
type CloudLogging struct {
	ProjectID string `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	LogID     string `json:"log_id,omitempty" yaml:"log_id,omitempty"`
}

func (c CloudLogging) Enabled() bool { return c.ProjectID != "" }

// XConfig holds the optional credentials for mirroring the post to X.
type XConfig struct {
	ConsumerKey    string `json:"consumer_key,omitempty" yaml:"consumer_key,omitempty"`
	ConsumerSecret string `json:"consumer_secret,omitempty" yaml:"consumer_secret,omitempty"`
	AccessToken    string `json:"access_token,omitempty" yaml:"access_token,omitempty"`
	AccessSecret   string `json:"access_secret,omitempty" yaml:"access_secret,omitempty"`
}

// Enabled reports whether every credential is present.
func (x XConfig) Enabled() bool {
	return x.ConsumerKey != "" && x.ConsumerSecret != "" && x.AccessToken != "" && x.AccessSecret != ""
}

// Duration accepts "1.5s" style strings or a plain number of seconds.
type Duration time.Duration

func (d *Duration) set(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*d = 0
		return nil
	}
	if v, err := time.ParseDuration(raw); err == nil {
		*d = Duration(v)
		return nil
	}
	var secs float64
	if _, err := fmt.Sscanf(raw, "%g", &secs); err != nil {
		return fmt.Errorf("invalid duration %q", raw)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.set(s)
	}
	return d.set(string(b))
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	return d.set(n.Value)
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// ReadError is returned for a config file that is missing, malformed or
// incomplete.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Load reads the config file at path (JSON, or YAML for .yaml/.yml), applies
// .env and CIRCLEGRAM_* environment overrides, fills defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ReadError{Path: path, Err: fmt.Errorf("failed to read config file: %w", err)}
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, &ReadError{Path: path, Err: fmt.Errorf("failed to parse config: %w", err)}
	}

	// .env is optional; a present but unreadable one is an error.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, &ReadError{Path: ".env", Err: err}
	}
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, &ReadError{Path: path, Err: fmt.Errorf("invalid config: %w", err)}
	}
	return &cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return def
}

func (c *Config) applyEnv() {
	c.BucketName = envOr("BUCKET_NAME", c.BucketName)
	c.IGUserID = envOr("IG_USER_ID", c.IGUserID)
	c.AccessToken = envOr("ACCESS_TOKEN", c.AccessToken)
	c.X.ConsumerKey = envOr("X_CONSUMER_KEY", c.X.ConsumerKey)
	c.X.ConsumerSecret = envOr("X_CONSUMER_SECRET", c.X.ConsumerSecret)
	c.X.AccessToken = envOr("X_ACCESS_TOKEN", c.X.AccessToken)
	c.X.AccessSecret = envOr("X_ACCESS_SECRET", c.X.AccessSecret)
	c.CloudLogging.ProjectID = envOr("LOG_PROJECT_ID", c.CloudLogging.ProjectID)
}

func (c *Config) applyDefaults() {
	if c.GraphAPIBase == "" {
		c.GraphAPIBase = DefaultGraphAPIBase
	}
	if !strings.HasSuffix(c.GraphAPIBase, "/") {
		c.GraphAPIBase += "/"
	}
	if c.PublicURLPrefix == "" {
		c.PublicURLPrefix = DefaultPublicURLPrefix
	}
	if c.CredentialsFile == nil {
		s := DefaultCredentialsFile
		c.CredentialsFile = &s
	}
	if c.LedgerPath == nil {
		s := DefaultLedgerPath
		c.LedgerPath = &s
	}
	c.Render = c.Render.WithDefaults()
	if c.Readiness.InitialInterval <= 0 {
		c.Readiness.InitialInterval = Duration(time.Second)
	}
	if c.Readiness.MaxWait <= 0 {
		c.Readiness.MaxWait = Duration(2 * time.Minute)
	}
	if c.Readiness.Settle <= 0 {
		c.Readiness.Settle = Duration(time.Second)
	}
}

// Validate checks that the fields every run needs are set.
func (c *Config) Validate() error {
	var missing []string
	for _, f := range []struct{ name, v string }{
		{"bucket_name", c.BucketName},
		{"ig_user_id", c.IGUserID},
		{"access_token", c.AccessToken},
	} {
		if strings.TrimSpace(f.v) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required field(s): %s", strings.Join(missing, ", "))
	}
	if strings.Contains(c.BucketName, "/") {
		return fmt.Errorf("bucket_name %q must not contain '/'", c.BucketName)
	}
	return nil
}

// CredentialsPath returns the service account key file, or "" for
// application default credentials.
func (c *Config) CredentialsPath() string {
	if c.CredentialsFile == nil {
		return ""
	}
	return *c.CredentialsFile
}

// Ledger returns the sqlite path, or "" when the ledger is disabled.
func (c *Config) Ledger() string {
	if c.LedgerPath == nil {
		return ""
	}
	return *c.LedgerPath
}
