package usage

import (
	"context"
	"time"

	"github.com/tapanjo92/v4-getcomplical-sub000/internal/repository"
)

// Analytics computes read-only usage summaries over recorded events for
// the ops endpoints.
type Analytics struct {
	repo *repository.UsageEventRepository
}

func NewAnalytics(repo *repository.UsageEventRepository) *Analytics {
	return &Analytics{repo: repo}
}

type Summary struct {
	TotalRequests  int64                      `json:"total_requests"`
	Throttled      int64                      `json:"throttled"`
	AvgLatencyMs   float64                    `json:"avg_latency_ms"`
	P50LatencyMs   int                        `json:"p50_latency_ms"`
	P95LatencyMs   int                        `json:"p95_latency_ms"`
	P99LatencyMs   int                        `json:"p99_latency_ms"`
	SuccessRate    float64                    `json:"success_rate"`
	ClientErrRate  float64                    `json:"client_error_rate"`
	ServerErrRate  float64                    `json:"server_error_rate"`
	TopEndpoints   []repository.EndpointCount `json:"top_endpoints"`
	TopOwners      []repository.OwnerCount    `json:"top_owners"`
}

func (a *Analytics) Summarize(ctx context.Context, from, to time.Time) (*Summary, error) {
	summary := &Summary{}

	total, err := a.repo.CountByTimeRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.TotalRequests = total

	if total == 0 {
		return summary, nil
	}

	if summary.Throttled, err = a.repo.CountThrottled(ctx, from, to); err != nil {
		return nil, err
	}

	if summary.AvgLatencyMs, err = a.repo.AverageLatency(ctx, from, to); err != nil {
		return nil, err
	}

	summary.P50LatencyMs, _ = a.repo.LatencyPercentile(ctx, from, to, 0.50)
	summary.P95LatencyMs, _ = a.repo.LatencyPercentile(ctx, from, to, 0.95)
	summary.P99LatencyMs, _ = a.repo.LatencyPercentile(ctx, from, to, 0.99)

	clientErrors, err := a.repo.CountByStatusRange(ctx, 400, 499, from, to)
	if err != nil {
		return nil, err
	}
	serverErrors, err := a.repo.CountByStatusRange(ctx, 500, 599, from, to)
	if err != nil {
		return nil, err
	}

	summary.ClientErrRate = float64(clientErrors) / float64(total) * 100
	summary.ServerErrRate = float64(serverErrors) / float64(total) * 100
	summary.SuccessRate = 100 - summary.ClientErrRate - summary.ServerErrRate

	if summary.TopEndpoints, err = a.repo.TopEndpoints(ctx, from, to, 10); err != nil {
		return nil, err
	}
	if summary.TopOwners, err = a.repo.TopOwners(ctx, from, to, 10); err != nil {
		return nil, err
	}

	return summary, nil
}
