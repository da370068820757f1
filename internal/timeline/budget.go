package timeline

import "time"

// CostSummary is returned by an external cost tracker.
type CostSummary struct {
	TotalUSD     float64
	InputTokens  int64
	OutputTokens int64
}

// CostTracker is the external collaborator that prices LLM usage.
type CostTracker interface {
	Summary() CostSummary
}

// LatencyStats aggregates durations for one event kind.
type LatencyStats struct {
	Count   int
	TotalNS int64
	MinNS   int64
	MaxNS   int64
}

// Mean returns the mean duration, or 0 for an empty sample.
func (l *LatencyStats) Mean() time.Duration {
	if l.Count == 0 {
		return 0
	}
	return time.Duration(l.TotalNS / int64(l.Count))
}

func (l *LatencyStats) observe(ns int64) {
	if l.Count == 0 || ns < l.MinNS {
		l.MinNS = ns
	}
	if ns > l.MaxNS {
		l.MaxNS = ns
	}
	l.Count++
	l.TotalNS += ns
}

// BudgetReport is the pure aggregation over filtered timeline events:
// spend, latency per kind, and error rate.
type BudgetReport struct {
	Cost      CostSummary
	LLM       LatencyStats
	Tool      LatencyStats
	Total     int
	Errors    int
	ErrorRate float64
}

// BuildBudgetReport scans the timeline with the given filter and aggregates
// latency and error metrics; cost comes from the tracker (nil = zero cost).
func BuildBudgetReport(r *Replay, filter *Filter, tracker CostTracker) (*BudgetReport, error) {
	rep := &BudgetReport{}
	if tracker != nil {
		rep.Cost = tracker.Summary()
	}
	err := r.Scan(filter, func(e *Event) bool {
		rep.Total++
		if e.Severity == SeverityError {
			rep.Errors++
		}
		if e.DurationNS > 0 {
			switch e.Kind {
			case KindLLM:
				rep.LLM.observe(e.DurationNS)
			case KindTool:
				rep.Tool.observe(e.DurationNS)
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if rep.Total > 0 {
		rep.ErrorRate = float64(rep.Errors) / float64(rep.Total)
	}
	return rep, nil
}
