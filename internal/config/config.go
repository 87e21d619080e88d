package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aaronlmathis/noderes/internal/aggregator"
	kubemetrics "github.com/aaronlmathis/noderes/internal/kube/metrics"
	"github.com/aaronlmathis/noderes/internal/presenter"
)

// Concurrency bounds of the collection worker pool
const (
	MinConcurrency = 1
	MaxConcurrency = 50
)

// Config represents the application configuration
type Config struct {
	Report     ReportConfig     `yaml:"report"`
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
	Query      QueryConfig      `yaml:"query"`
	Logging    LoggingConfig    `yaml:"logging"`
	Server     ServerConfig     `yaml:"server"`
}

// ReportConfig controls what is collected and how it is rendered
type ReportConfig struct {
	Concurrency        int           `yaml:"concurrency"`
	Output             string        `yaml:"output"`
	NodeFilter         string        `yaml:"node_filter"`
	Sort               string        `yaml:"sort"`
	Reverse            bool          `yaml:"reverse"`
	DetailedConditions bool          `yaml:"detailed_conditions"`
	ShowTotals         bool          `yaml:"show_totals"`
	RefreshInterval    time.Duration `yaml:"refresh_interval"`
	NoColor            bool          `yaml:"no_color"`
	OutputFile         string        `yaml:"output_file"`
}

// ColorDisabled reports whether table output must be plain. Reports written
// to a file never carry ANSI escapes.
func (r ReportConfig) ColorDisabled() bool {
	return r.NoColor || r.OutputFile != ""
}

// KubernetesConfig represents the Kubernetes configuration
type KubernetesConfig struct {
	Mode               string `yaml:"mode"`
	KubeconfigPath     string `yaml:"kubeconfig_path"`
	KubeletInsecureTLS bool   `yaml:"kubelet_insecure_tls"`
}

// QueryConfig tunes the resilient query client
type QueryConfig struct {
	QPS     float64       `yaml:"qps"`
	Burst   int           `yaml:"burst"`
	Backoff time.Duration `yaml:"backoff"`
}

// LoggingConfig represents the logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// ServerConfig represents the optional HTTP surface. An empty Addr disables it.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Warning reports a configuration value that was rejected and replaced
type Warning struct {
	Source  string
	Key     string
	Value   string
	Reason  string
	Default string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s %s=%q is invalid (%s), using %s", w.Source, w.Key, w.Value, w.Reason, w.Default)
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Report: ReportConfig{
			Concurrency: 10,
			Output:      string(presenter.FormatTable),
			NodeFilter:  string(kubemetrics.WorkerNodes),
			Sort:        string(aggregator.DefaultSortBy),
			ShowTotals:  true,
		},
		Kubernetes: KubernetesConfig{
			Mode: "kubeconfig",
		},
		Query: QueryConfig{
			QPS:     20,
			Burst:   40,
			Backoff: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, in increasing order of precedence. Invalid file or
// environment values are replaced by their defaults and reported as warnings.
func Load(configPath string) (*Config, []Warning, error) {
	cfg := Default()
	var warnings []Warning

	if configPath != "" {
		if err := loadFromYAMLFile(configPath, cfg); err != nil {
			return nil, nil, fmt.Errorf("failed to load config from file %s: %w", configPath, err)
		}
		warnings = append(warnings, cfg.sanitize("file")...)
	}

	warnings = append(warnings, cfg.applyEnv()...)
	return cfg, warnings, nil
}

// loadFromYAMLFile decodes the file over cfg so unset keys keep their defaults
func loadFromYAMLFile(configPath string, cfg *Config) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	return nil
}

// envReader applies environment overrides, collecting a warning for every rejected value
type envReader struct {
	warnings []Warning
}

func (r *envReader) reject(key, value string, err error, def string) {
	r.warnings = append(r.warnings, Warning{Source: "env", Key: key, Value: value, Reason: err.Error(), Default: def})
}

func (r *envReader) str(key string, dst *string, def string, validate func(string) error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return
	}
	if validate != nil {
		if err := validate(value); err != nil {
			r.reject(key, value, err, def)
			*dst = def
			return
		}
	}
	*dst = strings.TrimSpace(value)
}

func (r *envReader) boolean(key string, dst *bool, def bool) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		r.reject(key, value, fmt.Errorf("not a boolean"), strconv.FormatBool(def))
		*dst = def
		return
	}
	*dst = parsed
}

func (r *envReader) integer(key string, dst *int, def int, validate func(int) error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err == nil && validate != nil {
		err = validate(parsed)
	}
	if err != nil {
		r.reject(key, value, err, strconv.Itoa(def))
		*dst = def
		return
	}
	*dst = parsed
}

func (r *envReader) float(key string, dst *float64, def float64, validate func(float64) error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err == nil && validate != nil {
		err = validate(parsed)
	}
	if err != nil {
		r.reject(key, value, err, strconv.FormatFloat(def, 'g', -1, 64))
		*dst = def
		return
	}
	*dst = parsed
}

func (r *envReader) duration(key string, dst *time.Duration, def time.Duration, validate func(time.Duration) error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return
	}
	parsed, err := ParseSeconds(value)
	if err == nil && validate != nil {
		err = validate(parsed)
	}
	if err != nil {
		r.reject(key, value, err, def.String())
		*dst = def
		return
	}
	*dst = parsed
}

func (c *Config) applyEnv() []Warning {
	def := Default()
	r := &envReader{}

	r.integer("NODERES_CONCURRENCY", &c.Report.Concurrency, def.Report.Concurrency, ValidateConcurrency)
	r.str("NODERES_OUTPUT", &c.Report.Output, def.Report.Output, validateOutput)
	r.str("NODERES_NODE_FILTER", &c.Report.NodeFilter, def.Report.NodeFilter, validateNodeFilter)
	r.str("NODERES_SORT", &c.Report.Sort, def.Report.Sort, validateSort)
	r.boolean("NODERES_REVERSE", &c.Report.Reverse, def.Report.Reverse)
	r.boolean("NODERES_DETAILED", &c.Report.DetailedConditions, def.Report.DetailedConditions)
	r.boolean("NODERES_TOTALS", &c.Report.ShowTotals, def.Report.ShowTotals)
	r.duration("NODERES_WATCH", &c.Report.RefreshInterval, def.Report.RefreshInterval, validateRefresh)
	r.boolean("NODERES_NO_COLOR", &c.Report.NoColor, def.Report.NoColor)
	r.str("NODERES_OUTPUT_FILE", &c.Report.OutputFile, def.Report.OutputFile, nil)

	r.str("NODERES_KUBE_MODE", &c.Kubernetes.Mode, def.Kubernetes.Mode, validateKubeMode)
	r.str("KUBECONFIG", &c.Kubernetes.KubeconfigPath, def.Kubernetes.KubeconfigPath, nil)
	r.boolean("NODERES_KUBELET_INSECURE_TLS", &c.Kubernetes.KubeletInsecureTLS, def.Kubernetes.KubeletInsecureTLS)

	r.float("NODERES_QPS", &c.Query.QPS, def.Query.QPS, validateQPS)
	r.integer("NODERES_BURST", &c.Query.Burst, def.Query.Burst, validateBurst)
	r.duration("NODERES_BACKOFF", &c.Query.Backoff, def.Query.Backoff, validateBackoff)

	r.str("LOG_LEVEL", &c.Logging.Level, def.Logging.Level, validateLogLevel)
	r.str("NODERES_LOG_FORMAT", &c.Logging.Format, def.Logging.Format, validateLogFormat)
	r.str("NODERES_LOG_FILE", &c.Logging.File, def.Logging.File, nil)

	r.str("NODERES_LISTEN_ADDR", &c.Server.Addr, def.Server.Addr, nil)

	return r.warnings
}

// sanitize replaces every invalid value with its default
func (c *Config) sanitize(source string) []Warning {
	def := Default()
	var warnings []Warning
	check := func(key, value string, err error, reset func() string) {
		if err != nil {
			warnings = append(warnings, Warning{Source: source, Key: key, Value: value, Reason: err.Error(), Default: reset()})
		}
	}

	check("report.concurrency", strconv.Itoa(c.Report.Concurrency), ValidateConcurrency(c.Report.Concurrency), func() string {
		c.Report.Concurrency = def.Report.Concurrency
		return strconv.Itoa(c.Report.Concurrency)
	})
	check("report.output", c.Report.Output, validateOutput(c.Report.Output), func() string {
		c.Report.Output = def.Report.Output
		return c.Report.Output
	})
	check("report.node_filter", c.Report.NodeFilter, validateNodeFilter(c.Report.NodeFilter), func() string {
		c.Report.NodeFilter = def.Report.NodeFilter
		return c.Report.NodeFilter
	})
	check("report.sort", c.Report.Sort, validateSort(c.Report.Sort), func() string {
		c.Report.Sort = def.Report.Sort
		return c.Report.Sort
	})
	check("report.refresh_interval", c.Report.RefreshInterval.String(), validateRefresh(c.Report.RefreshInterval), func() string {
		c.Report.RefreshInterval = def.Report.RefreshInterval
		return c.Report.RefreshInterval.String()
	})
	check("kubernetes.mode", c.Kubernetes.Mode, validateKubeMode(c.Kubernetes.Mode), func() string {
		c.Kubernetes.Mode = def.Kubernetes.Mode
		return c.Kubernetes.Mode
	})
	check("query.qps", strconv.FormatFloat(c.Query.QPS, 'g', -1, 64), validateQPS(c.Query.QPS), func() string {
		c.Query.QPS = def.Query.QPS
		return strconv.FormatFloat(c.Query.QPS, 'g', -1, 64)
	})
	check("query.burst", strconv.Itoa(c.Query.Burst), validateBurst(c.Query.Burst), func() string {
		c.Query.Burst = def.Query.Burst
		return strconv.Itoa(c.Query.Burst)
	})
	check("query.backoff", c.Query.Backoff.String(), validateBackoff(c.Query.Backoff), func() string {
		c.Query.Backoff = def.Query.Backoff
		return c.Query.Backoff.String()
	})
	check("logging.level", c.Logging.Level, validateLogLevel(c.Logging.Level), func() string {
		c.Logging.Level = def.Logging.Level
		return c.Logging.Level
	})
	check("logging.format", c.Logging.Format, validateLogFormat(c.Logging.Format), func() string {
		c.Logging.Format = def.Logging.Format
		return c.Logging.Format
	})

	return warnings
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := ValidateConcurrency(c.Report.Concurrency); err != nil {
		return err
	}
	if err := validateOutput(c.Report.Output); err != nil {
		return err
	}
	if err := validateNodeFilter(c.Report.NodeFilter); err != nil {
		return err
	}
	if err := validateSort(c.Report.Sort); err != nil {
		return err
	}
	if err := validateRefresh(c.Report.RefreshInterval); err != nil {
		return err
	}
	if err := validateKubeMode(c.Kubernetes.Mode); err != nil {
		return err
	}
	if err := validateQPS(c.Query.QPS); err != nil {
		return err
	}
	if err := validateBurst(c.Query.Burst); err != nil {
		return err
	}
	return validateBackoff(c.Query.Backoff)
}

// ParseSeconds accepts either a whole number of seconds or a Go duration string
func ParseSeconds(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("not a number of seconds or a duration")
	}
	return d, nil
}

// ValidateConcurrency checks the worker pool width
func ValidateConcurrency(n int) error {
	if n < MinConcurrency || n > MaxConcurrency {
		return fmt.Errorf("concurrency must be between %d and %d", MinConcurrency, MaxConcurrency)
	}
	return nil
}

func validateOutput(s string) error {
	_, err := presenter.ParseFormat(s)
	return err
}

func validateNodeFilter(s string) error {
	_, err := kubemetrics.ParseNodeFilter(s)
	return err
}

func validateSort(s string) error {
	_, err := aggregator.ParseSortField(s)
	return err
}

func validateRefresh(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("refresh interval cannot be negative")
	}
	return nil
}

func validateKubeMode(s string) error {
	if s != "incluster" && s != "kubeconfig" {
		return fmt.Errorf("kubernetes mode must be 'incluster' or 'kubeconfig'")
	}
	return nil
}

func validateQPS(qps float64) error {
	if qps < 0 {
		return fmt.Errorf("qps cannot be negative")
	}
	return nil
}

func validateBurst(burst int) error {
	if burst < 1 {
		return fmt.Errorf("burst must be at least 1")
	}
	return nil
}

func validateBackoff(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("backoff must be positive")
	}
	return nil
}

func validateLogLevel(s string) error {
	switch s {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("log level must be one of debug, info, warn, error")
}

func validateLogFormat(s string) error {
	if s != "json" && s != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}
	return nil
}
