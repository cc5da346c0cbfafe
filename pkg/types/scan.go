package types

import (
	"time"
)

// Severity is the discrete threat level attached to individual matches and
// aggregate scan results.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeveritySafe     Severity = "safe"
)

var severityRank = map[Severity]int{
	SeveritySafe:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordering of a severity, higher is more dangerous.
// Unknown severities rank as safe.
func (s Severity) Rank() int {
	return severityRank[s]
}

// MaxSeverity returns the more dangerous of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

const (
	MatchSourceLocalPattern  = "local-pattern"
	MatchSourceExternalIntel = "external-intel"
)

// ThreatMatch is a single signature hit. Immutable once produced.
type ThreatMatch struct {
	Pattern    string   `json:"pattern"`
	Category   string   `json:"category"`
	Severity   Severity `json:"severity"`
	Confidence float64  `json:"confidence"`
	Source     string   `json:"source"`
	Details    string   `json:"details,omitempty"`
}

// ScanMetadata describes how a ScanResult was produced.
type ScanMetadata struct {
	ScannedAt   time.Time     `json:"scanned_at"`
	Duration    time.Duration `json:"duration"`
	CacheHit    bool          `json:"cache_hit"`
	ContentHash string        `json:"content_hash"`
}

// ScanResult is the output of scanning one text fragment, or an aggregate of
// several. Safe is computed by the scanner; callers trust the field rather
// than recomputing it.
type ScanResult struct {
	Safe            bool          `json:"safe"`
	Threats         []ThreatMatch `json:"threats"`
	Severity        Severity      `json:"severity"`
	RiskScore       int           `json:"risk_score"`
	BlockedPatterns []string      `json:"blocked_patterns"`
	Metadata        ScanMetadata  `json:"metadata"`
}

// AggregateResults folds N scan results into one: maximum risk score, highest
// severity observed, union of threats and blocked patterns, safe only if every
// constituent was safe. Aggregating zero results yields a safe empty result.
func AggregateResults(results []ScanResult) ScanResult {
	agg := ScanResult{
		Safe:     true,
		Severity: SeveritySafe,
	}
	seen := make(map[string]bool)
	for _, r := range results {
		if r.RiskScore > agg.RiskScore {
			agg.RiskScore = r.RiskScore
		}
		agg.Severity = MaxSeverity(agg.Severity, r.Severity)
		agg.Threats = append(agg.Threats, r.Threats...)
		for _, p := range r.BlockedPatterns {
			if !seen[p] {
				seen[p] = true
				agg.BlockedPatterns = append(agg.BlockedPatterns, p)
			}
		}
		if !r.Safe {
			agg.Safe = false
		}
		if r.Metadata.ScannedAt.After(agg.Metadata.ScannedAt) {
			agg.Metadata.ScannedAt = r.Metadata.ScannedAt
		}
		agg.Metadata.Duration += r.Metadata.Duration
	}
	return agg
}
