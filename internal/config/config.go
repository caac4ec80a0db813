// Package config loads runtime configuration: defaults, then an optional YAML
// file, then environment variables (after any .env file).
package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/shpitdev/outreach-contact-pipeline/internal/fetch"
	"github.com/shpitdev/outreach-contact-pipeline/internal/orchestrator"
	"github.com/shpitdev/outreach-contact-pipeline/internal/score"
)

// PathEnv names the variable holding the YAML config path.
const PathEnv = "CONTACTFINDER_CONFIG"

type Config struct {
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	HTTP      HTTPConfig      `yaml:"http"`
	Search    SearchConfig    `yaml:"search"`
	Cache     CacheConfig     `yaml:"cache"`
	Budget    BudgetConfig    `yaml:"budget"`
	Providers ProvidersConfig `yaml:"providers"`
	Scoring   score.Policy    `yaml:"scoring"`

	DatabaseURL string `yaml:"database_url"`
	OpsAddr     string `yaml:"ops_addr"`
	LogLevel    string `yaml:"log_level"`
}

type PipelineConfig struct {
	Workers      int           `yaml:"workers"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
	JobTimeout   time.Duration `yaml:"job_timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	FailFast     bool          `yaml:"fail_fast"`
}

type HTTPConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	UserAgent      string        `yaml:"user_agent"`
	DNSTimeout     time.Duration `yaml:"dns_timeout"`
}

// FetchOptions converts the section into client options.
func (h HTTPConfig) FetchOptions() fetch.Options {
	opts := fetch.DefaultOptions()
	opts.RequestTimeout = h.RequestTimeout
	opts.MaxRetries = h.MaxRetries
	opts.BackoffInitial = h.BackoffInitial
	opts.BackoffMax = h.BackoffMax
	opts.UserAgent = h.UserAgent
	return opts
}

type SearchConfig struct {
	EngineDelay      time.Duration `yaml:"engine_delay"`
	PrimaryBaseURL   string        `yaml:"primary_base_url"`
	SecondaryBaseURL string        `yaml:"secondary_base_url"`
	MaxResultPages   int           `yaml:"max_result_pages"`
	RDAPBaseURL      string        `yaml:"rdap_base_url"`
}

type CacheConfig struct {
	// RedisURL empty means an in-process cache.
	RedisURL  string        `yaml:"redis_url"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

type BudgetConfig struct {
	MaxCostPerProspectCents int `yaml:"max_cost_per_prospect_cents"`
	VerifyCents             int `yaml:"verify_cents"`

	orchestrator.Costs `yaml:",inline"`
}

type ProvidersConfig struct {
	Hunter HunterConfig `yaml:"hunter"`
	People PeopleConfig `yaml:"people"`
	Gemini GeminiConfig `yaml:"gemini"`
}

type HunterConfig struct {
	APIKey            string `yaml:"api_key"`
	BaseURL           string `yaml:"base_url"`
	DomainSearchLimit int    `yaml:"domain_search_limit"`
}

type PeopleConfig struct {
	BaseURL       string   `yaml:"base_url"`
	TokenURL      string   `yaml:"token_url"`
	ClientID      string   `yaml:"client_id"`
	ClientSecret  string   `yaml:"client_secret"`
	Scope         string   `yaml:"scope"`
	TitleKeywords []string `yaml:"title_keywords"`
	SearchLimit   int      `yaml:"search_limit"`
}

type GeminiConfig struct {
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	BaseURL      string `yaml:"base_url"`
	CaptureAudit bool   `yaml:"capture_audit"`
}

func Default() Config {
	httpDefaults := fetch.DefaultOptions()
	return Config{
		Pipeline: PipelineConfig{
			Workers:    4,
			JobTimeout: 2 * time.Minute,
		},
		HTTP: HTTPConfig{
			RequestTimeout: 15 * time.Second,
			MaxRetries:     httpDefaults.MaxRetries,
			BackoffInitial: 250 * time.Millisecond,
			BackoffMax:     2 * time.Second,
			DNSTimeout:     5 * time.Second,
		},
		Search: SearchConfig{
			EngineDelay:    2 * time.Second,
			MaxResultPages: 3,
		},
		Cache: CacheConfig{
			KeyPrefix: "contactfinder:",
			TTL:       30 * 24 * time.Hour,
		},
		Budget: BudgetConfig{
			MaxCostPerProspectCents: orchestrator.DefaultMaxCostCents,
			VerifyCents:             1,
			Costs:                   orchestrator.DefaultCosts(),
		},
		Providers: ProvidersConfig{
			Hunter: HunterConfig{DomainSearchLimit: 10},
			People: PeopleConfig{SearchLimit: 5},
		},
		Scoring:  score.DefaultPolicy(),
		OpsAddr:  ":9090",
		LogLevel: "info",
	}
}

// LoadDotEnv loads the given .env files (default ".env") without overriding
// variables already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return eris.Wrapf(err, "load %s", p)
		}
	}
	return nil
}

// Load builds the config from defaults, the YAML file at path (or
// $CONTACTFINDER_CONFIG when path is empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = strings.TrimSpace(os.Getenv(PathEnv))
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, eris.Wrapf(err, "read config %s", path)
		}
		if err := decodeYAML(raw, &cfg); err != nil {
			return Config{}, eris.Wrapf(err, "parse config %s", path)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	if c.Pipeline.Workers < 1 {
		return eris.Errorf("pipeline.workers must be >= 1, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.RateLimitRPS < 0 {
		return eris.Errorf("pipeline.rate_limit_rps must be >= 0, got %v", c.Pipeline.RateLimitRPS)
	}
	if c.Pipeline.MaxRetries < 0 || c.HTTP.MaxRetries < 0 {
		return eris.New("max_retries must be >= 0")
	}
	if c.Cache.TTL <= 0 {
		return eris.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	b := c.Budget
	if b.MaxCostPerProspectCents < 0 || b.VerifyCents < 0 ||
		b.DomainSearch < 0 || b.FindEmail < 0 || b.PeopleSearch < 0 || b.AIExtract < 0 {
		return eris.New("budget values must be >= 0")
	}
	if c.Providers.Gemini.APIKey != "" && c.Providers.Gemini.Model == "" {
		return eris.New("providers.gemini.model is required when an API key is set")
	}
	if err := c.Scoring.Validate(); err != nil {
		return eris.Wrap(err, "scoring")
	}
	return nil
}

func applyEnv(c *Config) error {
	var err error
	set := func(f func() error) {
		if err == nil {
			err = f()
		}
	}
	intVar := func(dst *int, name string) {
		set(func() (e error) { *dst, e = envInt(name, *dst); return })
	}
	durVar := func(dst *time.Duration, name string) {
		set(func() (e error) { *dst, e = envDuration(name, *dst); return })
	}

	intVar(&c.Pipeline.Workers, "WORKERS")
	set(func() (e error) { c.Pipeline.RateLimitRPS, e = envFloat("RATE_LIMIT_RPS", c.Pipeline.RateLimitRPS); return })
	durVar(&c.Pipeline.JobTimeout, "JOB_TIMEOUT")
	intVar(&c.Pipeline.MaxRetries, "MAX_RETRIES")
	set(func() (e error) { c.Pipeline.FailFast, e = envBool("FAIL_FAST", c.Pipeline.FailFast); return })

	durVar(&c.HTTP.RequestTimeout, "REQUEST_TIMEOUT")
	intVar(&c.HTTP.MaxRetries, "HTTP_MAX_RETRIES")
	durVar(&c.HTTP.DNSTimeout, "DNS_TIMEOUT")
	c.HTTP.UserAgent = envString("HTTP_USER_AGENT", c.HTTP.UserAgent)

	durVar(&c.Search.EngineDelay, "SEARCH_ENGINE_DELAY")
	intVar(&c.Search.MaxResultPages, "SEARCH_MAX_RESULT_PAGES")
	c.Search.RDAPBaseURL = envString("RDAP_BASE_URL", c.Search.RDAPBaseURL)

	c.Cache.RedisURL = envString("REDIS_URL", c.Cache.RedisURL)
	c.Cache.KeyPrefix = envString("CACHE_KEY_PREFIX", c.Cache.KeyPrefix)
	durVar(&c.Cache.TTL, "CACHE_TTL")

	intVar(&c.Budget.MaxCostPerProspectCents, "MAX_COST_PER_PROSPECT_CENTS")
	intVar(&c.Budget.VerifyCents, "VERIFY_COST_CENTS")

	p := &c.Providers
	p.Hunter.APIKey = envString("HUNTER_API_KEY", p.Hunter.APIKey)
	p.Hunter.BaseURL = envString("HUNTER_BASE_URL", p.Hunter.BaseURL)
	p.People.BaseURL = envString("PEOPLE_API_BASE_URL", p.People.BaseURL)
	p.People.TokenURL = envString("PEOPLE_TOKEN_URL", p.People.TokenURL)
	p.People.ClientID = envString("PEOPLE_CLIENT_ID", p.People.ClientID)
	p.People.ClientSecret = envString("PEOPLE_CLIENT_SECRET", p.People.ClientSecret)
	p.People.Scope = envString("PEOPLE_SCOPE", p.People.Scope)
	p.Gemini.APIKey = envString("GEMINI_API_KEY", p.Gemini.APIKey)
	p.Gemini.Model = envString("GEMINI_MODEL", p.Gemini.Model)
	p.Gemini.BaseURL = envString("GEMINI_BASE_URL", p.Gemini.BaseURL)
	set(func() (e error) { p.Gemini.CaptureAudit, e = envBool("GEMINI_CAPTURE_AUDIT", p.Gemini.CaptureAudit); return })

	c.DatabaseURL = envString("DATABASE_URL", c.DatabaseURL)
	c.OpsAddr = envString("OPS_ADDR", c.OpsAddr)
	c.LogLevel = envString("LOG_LEVEL", c.LogLevel)
	return err
}

func envString(varName, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(varName)); v != "" {
		return v
	}
	return fallback
}

func envInt(varName string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid %s=%q", varName, v)
	}
	return out, nil
}

func envFloat(varName string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid %s=%q", varName, v)
	}
	return out, nil
}

func envDuration(varName string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid %s=%q", varName, v)
	}
	return out, nil
}

func envBool(varName string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseBool(v)
	if err != nil {
		return false, eris.Wrapf(err, "invalid %s=%q", varName, v)
	}
	return out, nil
}
