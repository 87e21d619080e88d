package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"k8s.io/client-go/rest"

	"github.com/aaronlmathis/noderes/internal/query"
)

const bytesPerMiB = 1024 * 1024

// FilesystemStats represents the live filesystem sample of a node
type FilesystemStats struct {
	NodeName         string    `json:"nodeName"`
	UsedBytes        uint64    `json:"usedBytes"`
	CapacityBytes    uint64    `json:"capacityBytes"`
	AvailableBytes   uint64    `json:"availableBytes"`
	ImageFsUsedBytes uint64    `json:"imageFsUsedBytes"`
	Timestamp        time.Time `json:"timestamp"`
}

// UsedQuantity renders the used bytes as a Mi quantity string
func (fs FilesystemStats) UsedQuantity() string {
	return fmt.Sprintf("%dMi", fs.UsedBytes/bytesPerMiB)
}

// SummaryStatsResponse is the subset of the kubelet summary stats response noderes reads
type SummaryStatsResponse struct {
	Node struct {
		NodeName string `json:"nodeName"`
		Fs       struct {
			UsedBytes      uint64 `json:"usedBytes"`
			CapacityBytes  uint64 `json:"capacityBytes"`
			AvailableBytes uint64 `json:"availableBytes"`
		} `json:"fs"`
		Runtime struct {
			ImageFs struct {
				UsedBytes      uint64 `json:"usedBytes"`
				CapacityBytes  uint64 `json:"capacityBytes"`
				AvailableBytes uint64 `json:"availableBytes"`
			} `json:"imageFs"`
		} `json:"runtime"`
	} `json:"node"`
}

// SummaryStatsAdapter reads the Kubelet Summary API through the API server node proxy
type SummaryStatsAdapter struct {
	logger     *zap.Logger
	restConfig *rest.Config
	queries    *query.Client
	timeout    time.Duration
}

// NewSummaryStatsAdapter creates a new summary stats adapter
func NewSummaryStatsAdapter(logger *zap.Logger, restConfig *rest.Config, insecureTLS bool, queries *query.Client) *SummaryStatsAdapter {
	// Clone the rest config to avoid modifying the original
	configCopy := rest.CopyConfig(restConfig)

	if insecureTLS {
		configCopy.TLSClientConfig.Insecure = true
		configCopy.TLSClientConfig.CAFile = ""
		configCopy.TLSClientConfig.CAData = nil
		logger.Warn("Summary API configured with insecure TLS - certificate verification disabled")
	}

	return &SummaryStatsAdapter{
		logger:     logger,
		restConfig: configCopy,
		queries:    queries,
		timeout:    30 * time.Second,
	}
}

// GetNodeFilesystem returns the live filesystem sample of one node
func (ssa *SummaryStatsAdapter) GetNodeFilesystem(ctx context.Context, nodeName string) (*FilesystemStats, error) {
	var summary *SummaryStatsResponse
	op := query.Operation{Name: "node-summary-stats", Kind: query.PerNode, Quiet: true}
	err := ssa.queries.Do(ctx, op, func(ctx context.Context) error {
		var getErr error
		summary, getErr = ssa.getNodeSummaryStats(ctx, nodeName)
		return getErr
	})
	if err != nil {
		return nil, err
	}

	stats := &FilesystemStats{
		NodeName:         nodeName,
		UsedBytes:        summary.Node.Fs.UsedBytes,
		CapacityBytes:    summary.Node.Fs.CapacityBytes,
		AvailableBytes:   summary.Node.Fs.AvailableBytes,
		ImageFsUsedBytes: summary.Node.Runtime.ImageFs.UsedBytes,
		Timestamp:        time.Now(),
	}

	// Some runtimes report only capacity and available bytes
	if stats.UsedBytes == 0 && stats.CapacityBytes > stats.AvailableBytes {
		stats.UsedBytes = stats.CapacityBytes - stats.AvailableBytes
	}

	ssa.logger.Debug("Node filesystem stats collected",
		zap.String("node", nodeName),
		zap.Uint64("usedBytes", stats.UsedBytes),
		zap.Uint64("capacityBytes", stats.CapacityBytes),
	)

	return stats, nil
}

// getNodeSummaryStats fetches summary statistics from a specific node's kubelet
func (ssa *SummaryStatsAdapter) getNodeSummaryStats(ctx context.Context, nodeName string) (*SummaryStatsResponse, error) {
	url := fmt.Sprintf("%s/api/v1/nodes/%s/proxy/stats/summary", ssa.restConfig.Host, nodeName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Use the rest config's transport for proper authentication
	transport := ssa.restConfig.Transport
	if transport == nil {
		transport, err = rest.TransportFor(ssa.restConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create transport: %w", err)
		}
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   ssa.timeout,
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request to node %s: %w", nodeName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		ssa.logger.Debug("Summary API request failed",
			zap.String("node", nodeName),
			zap.Int("status", resp.StatusCode),
			zap.String("response", string(body)),
			zap.String("url", url))
		return nil, fmt.Errorf("node %s returned status %d", nodeName, resp.StatusCode)
	}

	var summaryStats SummaryStatsResponse
	if err := json.Unmarshal(body, &summaryStats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal summary stats: %w", err)
	}

	return &summaryStats, nil
}
