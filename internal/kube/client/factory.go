package client

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	apiversion "k8s.io/apimachinery/pkg/version"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
	metricsclientset "k8s.io/metrics/pkg/client/clientset/versioned"
	metricsv1beta1 "k8s.io/metrics/pkg/client/clientset/versioned/typed/metrics/v1beta1"

	"github.com/aaronlmathis/noderes/internal/version"
)

// ClientMode represents the mode for creating Kubernetes clients
type ClientMode string

const (
	// InClusterMode uses in-cluster configuration (ServiceAccount)
	InClusterMode ClientMode = "incluster"
	// KubeconfigMode uses kubeconfig file
	KubeconfigMode ClientMode = "kubeconfig"
)

// Options tunes the REST clients built by the factory
type Options struct {
	// QPS and Burst are passed to client-go's own rate limiter
	QPS   float32
	Burst int
}

// Factory creates the read-only clients noderes needs: the core clientset and
// the metrics.k8s.io clientset, sharing one REST config.
type Factory struct {
	logger        *zap.Logger
	config        *rest.Config
	client        kubernetes.Interface
	metricsClient metricsclientset.Interface
}

// NewFactory creates a new client factory
func NewFactory(logger *zap.Logger, mode ClientMode, kubeconfigPath string, opts Options) (*Factory, error) {
	var config *rest.Config
	var err error

	switch mode {
	case InClusterMode:
		logger.Info("Creating in-cluster Kubernetes client")
		config, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create in-cluster config: %w", err)
		}
	case KubeconfigMode:
		logger.Info("Creating kubeconfig-based Kubernetes client", zap.String("kubeconfig", kubeconfigPath))
		config, err = buildKubeconfigFromPath(kubeconfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create kubeconfig-based config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported client mode: %s", mode)
	}

	return NewFactoryForConfig(logger, config, opts)
}

// NewFactoryForConfig builds the clients from an existing REST config
func NewFactoryForConfig(logger *zap.Logger, config *rest.Config, opts Options) (*Factory, error) {
	config = rest.CopyConfig(config)
	config.UserAgent = version.UserAgent()
	if opts.QPS > 0 {
		config.QPS = opts.QPS
	}
	if opts.Burst > 0 {
		config.Burst = opts.Burst
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes clientset: %w", err)
	}

	metricsClient, err := metricsclientset.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics clientset: %w", err)
	}

	logger.Debug("Kubernetes client factory created", zap.String("host", config.Host))

	return &Factory{
		logger:        logger,
		config:        config,
		client:        clientset,
		metricsClient: metricsClient,
	}, nil
}

// Client returns the Kubernetes clientset
func (f *Factory) Client() kubernetes.Interface {
	return f.client
}

// MetricsClient returns the metrics.k8s.io v1beta1 client
func (f *Factory) MetricsClient() metricsv1beta1.MetricsV1beta1Interface {
	return f.metricsClient.MetricsV1beta1()
}

// Config returns the REST config
func (f *Factory) Config() *rest.Config {
	return f.config
}

// buildKubeconfigFromPath builds a kubeconfig from the given path
func buildKubeconfigFromPath(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath == "" {
		// Try default locations
		if kubeconfig := os.Getenv("KUBECONFIG"); kubeconfig != "" {
			kubeconfigPath = kubeconfig
		} else if home := homedir.HomeDir(); home != "" {
			kubeconfigPath = filepath.Join(home, ".kube", "config")
		} else {
			return nil, fmt.Errorf("no kubeconfig path provided and unable to determine default location")
		}
	}

	if _, err := os.Stat(kubeconfigPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("kubeconfig file does not exist: %s", kubeconfigPath)
	}

	config, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build config from kubeconfig %s: %w", kubeconfigPath, err)
	}

	return config, nil
}

// ValidateConnection checks that the API server is reachable
func (f *Factory) ValidateConnection(ctx context.Context) error {
	f.logger.Debug("Validating Kubernetes connection")

	body, err := f.client.Discovery().RESTClient().Get().AbsPath("/version").Do(ctx).Raw()
	if err != nil {
		return fmt.Errorf("failed to connect to Kubernetes API at %s: %w", f.config.Host, err)
	}

	var info apiversion.Info
	if err := json.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("failed to decode Kubernetes API version: %w", err)
	}

	f.logger.Info("Kubernetes connection validated",
		zap.String("host", f.config.Host),
		zap.String("gitVersion", info.GitVersion),
	)

	return nil
}
