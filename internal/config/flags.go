package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// Flags holds the command-line flags. Only flags set explicitly override the
// file and environment layers.
type Flags struct {
	fs *pflag.FlagSet

	ConfigFile  string
	ShowVersion bool

	concurrency        int
	output             string
	nodeFilter         string
	sort               string
	reverse            bool
	detailedConditions bool
	showTotals         bool
	watch              string
	noColor            bool
	outputFile         string
	kubeMode           string
	kubeconfig         string
	kubeletInsecureTLS bool
	qps                float64
	burst              int
	backoff            time.Duration
	logLevel           string
	logFormat          string
	logFile            string
	listen             string
}

// RegisterFlags defines every configuration flag on fs
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	def := Default()
	f := &Flags{fs: fs}

	fs.StringVar(&f.ConfigFile, "config", "", "path to a YAML configuration file")
	fs.BoolVar(&f.ShowVersion, "version", false, "print version information and exit")

	fs.IntVarP(&f.concurrency, "concurrency", "c", def.Report.Concurrency,
		fmt.Sprintf("number of nodes collected in parallel (%d-%d)", MinConcurrency, MaxConcurrency))
	fs.StringVarP(&f.output, "output", "o", def.Report.Output, "output format: table, csv or json")
	fs.StringVar(&f.nodeFilter, "nodes", def.Report.NodeFilter, "nodes to report: all or workers")
	fs.StringVarP(&f.sort, "sort", "s", def.Report.Sort, "sort field")
	fs.BoolVarP(&f.reverse, "reverse", "r", def.Report.Reverse, "sort ascending instead of descending")
	fs.BoolVarP(&f.detailedConditions, "detailed", "d", def.Report.DetailedConditions, "report node pressure conditions")
	fs.BoolVar(&f.showTotals, "totals", def.Report.ShowTotals, "append a cluster totals row")
	fs.StringVarP(&f.watch, "watch", "w", def.Report.RefreshInterval.String(), "refresh interval in seconds or as a duration, 0 runs once")
	fs.BoolVar(&f.noColor, "no-color", def.Report.NoColor, "disable colored output")
	fs.StringVar(&f.outputFile, "output-file", def.Report.OutputFile, "write each report atomically to this file")

	fs.StringVar(&f.kubeMode, "kube-mode", def.Kubernetes.Mode, "kubernetes client mode: kubeconfig or incluster")
	fs.StringVar(&f.kubeconfig, "kubeconfig", def.Kubernetes.KubeconfigPath, "path to the kubeconfig file")
	fs.BoolVar(&f.kubeletInsecureTLS, "kubelet-insecure-tls", def.Kubernetes.KubeletInsecureTLS, "skip TLS verification for kubelet stats")

	fs.Float64Var(&f.qps, "qps", def.Query.QPS, "client-side query rate limit, 0 disables it")
	fs.IntVar(&f.burst, "burst", def.Query.Burst, "client-side query burst")
	fs.DurationVar(&f.backoff, "backoff", def.Query.Backoff, "initial retry backoff")

	fs.StringVar(&f.logLevel, "log-level", def.Logging.Level, "log level: debug, info, warn or error")
	fs.StringVar(&f.logFormat, "log-format", def.Logging.Format, "log format: console or json")
	fs.StringVar(&f.logFile, "log-file", def.Logging.File, "additional log file")

	fs.StringVar(&f.listen, "listen", def.Server.Addr, "serve health, metrics and the latest report on this address")

	return f
}

// Apply overrides cfg with every flag that was set on the command line.
// Unlike the file and environment layers, an invalid flag is an error.
func (f *Flags) Apply(cfg *Config) error {
	changed := f.fs.Changed

	if changed("concurrency") {
		cfg.Report.Concurrency = f.concurrency
	}
	if changed("output") {
		cfg.Report.Output = f.output
	}
	if changed("nodes") {
		cfg.Report.NodeFilter = f.nodeFilter
	}
	if changed("sort") {
		cfg.Report.Sort = f.sort
	}
	if changed("reverse") {
		cfg.Report.Reverse = f.reverse
	}
	if changed("detailed") {
		cfg.Report.DetailedConditions = f.detailedConditions
	}
	if changed("totals") {
		cfg.Report.ShowTotals = f.showTotals
	}
	if changed("watch") {
		interval, err := ParseSeconds(f.watch)
		if err != nil {
			return fmt.Errorf("invalid --watch %q: %w", f.watch, err)
		}
		cfg.Report.RefreshInterval = interval
	}
	if changed("no-color") {
		cfg.Report.NoColor = f.noColor
	}
	if changed("output-file") {
		cfg.Report.OutputFile = f.outputFile
	}
	if changed("kube-mode") {
		cfg.Kubernetes.Mode = f.kubeMode
	}
	if changed("kubeconfig") {
		cfg.Kubernetes.KubeconfigPath = f.kubeconfig
	}
	if changed("kubelet-insecure-tls") {
		cfg.Kubernetes.KubeletInsecureTLS = f.kubeletInsecureTLS
	}
	if changed("qps") {
		cfg.Query.QPS = f.qps
	}
	if changed("burst") {
		cfg.Query.Burst = f.burst
	}
	if changed("backoff") {
		cfg.Query.Backoff = f.backoff
	}
	if changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if changed("log-format") {
		cfg.Logging.Format = f.logFormat
	}
	if changed("log-file") {
		cfg.Logging.File = f.logFile
	}
	if changed("listen") {
		cfg.Server.Addr = f.listen
	}

	if err := validateLogLevel(cfg.Logging.Level); err != nil {
		return err
	}
	if err := validateLogFormat(cfg.Logging.Format); err != nil {
		return err
	}
	return cfg.Validate()
}
