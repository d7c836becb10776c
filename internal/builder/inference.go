package builder

import "qfleet/internal/state"

// SecurityScore folds vulnerability counts into a [0,100] score:
// 100 - 25*critical - 15*high - 5*medium - 1*low, floored at 0.
func SecurityScore(critical, high, medium, low int) float64 {
	score := 100.0 - 25*float64(critical) - 15*float64(high) - 5*float64(medium) - float64(low)
	if score < 0 {
		return 0
	}
	return score
}

// PerformanceScore starts at 100 and penalizes p95 latency above 200ms
// (one point per 20ms over) and error rate (ten points per percent),
// clamped to [0,100].
func PerformanceScore(p95LatencyMs, errorRate float64) float64 {
	score := 100.0
	if over := (p95LatencyMs - 200) / 20; over > 0 {
		score -= over
	}
	score -= 10 * errorRate
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// InferChangeSize buckets a change by impacted-file count.
func InferChangeSize(changedFiles int) state.ChangeSize {
	switch {
	case changedFiles <= 5:
		return state.ChangeSmall
	case changedFiles <= 20:
		return state.ChangeMedium
	default:
		return state.ChangeLarge
	}
}

// InferRiskLevel derives risk when the caller did not declare it.
func InferRiskLevel(env state.Environment, hotfix bool, previousFailures int, size state.ChangeSize) state.RiskLevel {
	if env == state.EnvProduction {
		if hotfix {
			return state.RiskCritical
		}
		return state.RiskHigh
	}
	if env == state.EnvStaging && size == state.ChangeLarge {
		return state.RiskHigh
	}
	if previousFailures >= 3 {
		return state.RiskHigh
	}
	if previousFailures >= 1 {
		return state.RiskMedium
	}
	if size == state.ChangeLarge {
		return state.RiskMedium
	}
	return state.RiskLow
}
