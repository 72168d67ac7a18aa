package usecase

import "context"

// MetricsSummary represents aggregated verification insights.
type MetricsSummary struct {
	TotalChecks       int64   `json:"total_checks"`
	Matches           int64   `json:"matches"`
	MatchRate         float64 `json:"match_rate"`
	AverageSimilarity float64 `json:"average_similarity"`
}

// GetMetricsSummary aggregates liveness check metrics from persisted records.
func (uc *LivenessUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalChecks:       aggregation.TotalCount,
		Matches:           aggregation.MatchCount,
		AverageSimilarity: aggregation.AverageSimilarity,
	}

	if aggregation.TotalCount > 0 {
		summary.MatchRate = float64(aggregation.MatchCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
