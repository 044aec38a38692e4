package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edvin/shipyard/internal/model"
)

// Probe contains activities that measure region health and replication lag
// over HTTP. Probes never mutate state; the cron workflows feed the results
// back through CoreDB activities.
type Probe struct {
	client *http.Client
}

// NewProbe creates a new Probe activity struct.
func NewProbe() *Probe {
	return &Probe{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// ProbeResult is one region probe outcome. A failed probe carries the error
// text for the health record; latency is meaningful only when healthy.
type ProbeResult struct {
	RegionID  string `json:"region_id"`
	Healthy   bool   `json:"healthy"`
	LatencyMs int    `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// ProbeRegions probes every given region's health endpoint concurrently and
// returns one result per region, probe failures included. The activity
// itself never fails on an unreachable region; unreachable is a result.
func (a *Probe) ProbeRegions(ctx context.Context, regions []model.Region) ([]ProbeResult, error) {
	results := make([]ProbeResult, len(regions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, region := range regions {
		g.Go(func() error {
			results[i] = a.probeOne(gctx, region)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (a *Probe) probeOne(ctx context.Context, region model.Region) ProbeResult {
	result := ProbeResult{RegionID: region.ID}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, region.Endpoint+"/healthz", nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	result.LatencyMs = int(time.Since(start).Milliseconds())
	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Sprintf("health endpoint returned %d", resp.StatusCode)
		return result
	}
	result.Healthy = true
	return result
}

// ReplicationProbeParams holds parameters for ProbeReplication.
type ReplicationProbeParams struct {
	SourceRegionID string `json:"source_region_id"`
	TargetEndpoint string `json:"target_endpoint"`
	TargetRegionID string `json:"target_region_id"`
	DataTypes      []string `json:"data_types"`
}

// ReplicationProbeResult is the lag measurement for one data type on one
// target region.
type ReplicationProbeResult struct {
	DataType   string `json:"data_type"`
	LagSeconds int    `json:"lag_seconds"`
	Failed     bool   `json:"failed"`
}

// replicationLagResponse is the target region's lag report payload.
type replicationLagResponse struct {
	LagSeconds int `json:"lag_seconds"`
}

// ProbeReplication asks a target region how far each data type lags behind
// the source. Per-type failures are results, not activity errors, so one
// broken stream does not hide the others.
func (a *Probe) ProbeReplication(ctx context.Context, params ReplicationProbeParams) ([]ReplicationProbeResult, error) {
	results := make([]ReplicationProbeResult, len(params.DataTypes))

	var wg sync.WaitGroup
	for i, dataType := range params.DataTypes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = a.probeLag(ctx, params, dataType)
		}()
	}
	wg.Wait()
	return results, nil
}

func (a *Probe) probeLag(ctx context.Context, params ReplicationProbeParams, dataType string) ReplicationProbeResult {
	result := ReplicationProbeResult{DataType: dataType}

	url := fmt.Sprintf("%s/replication/lag?source=%s&type=%s",
		params.TargetEndpoint, params.SourceRegionID, dataType)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Failed = true
		return result
	}

	resp, err := a.client.Do(req)
	if err != nil {
		result.Failed = true
		return result
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Failed = true
		return result
	}

	var lag replicationLagResponse
	if err := json.NewDecoder(resp.Body).Decode(&lag); err != nil || lag.LagSeconds < 0 {
		result.Failed = true
		return result
	}
	result.LagSeconds = lag.LagSeconds
	return result
}
