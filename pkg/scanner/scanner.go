package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vigilsec/vigil/pkg/infra/intel"
	"github.com/vigilsec/vigil/pkg/types"
)

const (
	defaultCacheTTL        = 5 * time.Minute
	defaultCacheMaxEntries = 1000
	defaultMaxRiskScore    = 70
	defaultIndicatorTTL    = 5 * time.Minute
	defaultTaxonomyTTL     = 24 * time.Hour
	defaultMultiplierStep  = 0.1
	defaultMultiplierCap   = 1.5
	defaultBandCritical    = 90
	defaultBandHigh        = 70
	defaultBandMedium      = 40

	batchConcurrency = 8
)

var severityBaseScore = map[types.Severity]float64{
	types.SeverityCritical: 100,
	types.SeverityHigh:     75,
	types.SeverityMedium:   50,
	types.SeverityLow:      25,
}

// Config holds scanner tuning. The scoring constants default to the values
// the risk model was shipped with; they are heuristic, not calibrated, so
// deployments may override them.
type Config struct {
	CacheTTL        time.Duration
	CacheMaxEntries int
	MaxRiskScore    int
	IndicatorTTL    time.Duration
	TaxonomyTTL     time.Duration
	MultiplierStep  float64
	MultiplierCap   float64
	BandCritical    int
	BandHigh        int
	BandMedium      int
}

func (c *Config) withDefaults() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
	if c.CacheMaxEntries <= 0 {
		c.CacheMaxEntries = defaultCacheMaxEntries
	}
	if c.MaxRiskScore <= 0 {
		c.MaxRiskScore = defaultMaxRiskScore
	}
	if c.IndicatorTTL <= 0 {
		c.IndicatorTTL = defaultIndicatorTTL
	}
	if c.TaxonomyTTL <= 0 {
		c.TaxonomyTTL = defaultTaxonomyTTL
	}
	if c.MultiplierStep <= 0 {
		c.MultiplierStep = defaultMultiplierStep
	}
	if c.MultiplierCap <= 0 {
		c.MultiplierCap = defaultMultiplierCap
	}
	if c.BandCritical <= 0 {
		c.BandCritical = defaultBandCritical
	}
	if c.BandHigh <= 0 {
		c.BandHigh = defaultBandHigh
	}
	if c.BandMedium <= 0 {
		c.BandMedium = defaultBandMedium
	}
}

// ScanOptions tune a single scan. The zero value uses the scanner defaults.
type ScanOptions struct {
	MaxRiskScore int
	SkipCache    bool
	SkipExternal bool
}

// Scanner classifies text against local signature patterns and a periodically
// refreshed external threat-intelligence cache. All caches are owned by the
// instance; construct once and inject wherever scanning is needed.
type Scanner struct {
	cfg    Config
	logger *logrus.Logger
	intel  intel.Client

	cache      *resultCache
	indicators *snapshotCache[[]intel.Indicator]
	taxonomy   *snapshotCache[[]intel.Category]

	regexMu    sync.Mutex
	regexCache map[string]*regexp.Regexp

	now func() time.Time
}

// New builds a Scanner. intelClient may be nil, in which case only local
// signature rules apply.
func New(cfg Config, logger *logrus.Logger, intelClient intel.Client) *Scanner {
	cfg.withDefaults()
	return &Scanner{
		cfg:        cfg,
		logger:     logger,
		intel:      intelClient,
		cache:      newResultCache(cfg.CacheTTL, cfg.CacheMaxEntries),
		indicators: newSnapshotCache[[]intel.Indicator]("indicators", cfg.IndicatorTTL, logger),
		taxonomy:   newSnapshotCache[[]intel.Category]("taxonomy", cfg.TaxonomyTTL, logger),
		regexCache: make(map[string]*regexp.Regexp),
		now:        time.Now,
	}
}

// ScanPrompt scans one text fragment. Finding no threats is a safe result,
// never an error; failures of the external intelligence sub-check are logged
// and the scan continues with the local signals it already has.
func (s *Scanner) ScanPrompt(ctx context.Context, text string, opts ScanOptions) types.ScanResult {
	start := s.now()
	hash := contentHash(text)

	if !opts.SkipCache {
		if cached, ok := s.cache.get(hash); ok {
			cached.Metadata.CacheHit = true
			return cached
		}
	}

	matches := matchLocalPatterns(text)

	if s.intel != nil && !opts.SkipExternal {
		external, err := s.externalMatches(ctx, text)
		if err != nil {
			s.logger.WithError(err).Warn("external intelligence check failed, continuing with local signals")
		} else {
			matches = append(matches, external...)
		}
	}

	maxRisk := opts.MaxRiskScore
	if maxRisk <= 0 {
		maxRisk = s.cfg.MaxRiskScore
	}

	score := s.riskScore(matches)
	severity := s.severityFor(matches, score)

	result := types.ScanResult{
		Safe:            score <= maxRisk && severity != types.SeverityCritical,
		Threats:         matches,
		Severity:        severity,
		RiskScore:       score,
		BlockedPatterns: patternNames(matches),
		Metadata: types.ScanMetadata{
			ScannedAt:   start,
			Duration:    s.now().Sub(start),
			CacheHit:    false,
			ContentHash: hash,
		},
	}

	if !opts.SkipCache {
		s.cache.set(hash, result)
	}
	return result
}

// ScanBatch scans each text independently and concurrently. Results are
// returned in input order.
func (s *Scanner) ScanBatch(ctx context.Context, texts []string, opts ScanOptions) []types.ScanResult {
	results := make([]types.ScanResult, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			results[i] = s.ScanPrompt(ctx, text, opts)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// CacheSize reports the number of live entries in the result cache.
func (s *Scanner) CacheSize() int {
	return s.cache.len()
}

func (s *Scanner) externalMatches(ctx context.Context, text string) ([]types.ThreatMatch, error) {
	indicators, err := s.indicators.get(ctx, func(ctx context.Context) ([]intel.Indicator, error) {
		return s.intel.FetchIndicators(ctx, intel.IndicatorQuery{
			Severities: []types.Severity{types.SeverityCritical, types.SeverityHigh},
		})
	})
	if err != nil {
		return nil, err
	}

	descriptions := s.categoryDescriptions(ctx)

	lowered := strings.ToLower(text)
	var matches []types.ThreatMatch
	for _, ind := range indicators {
		if !s.indicatorMatches(ind, text, lowered) {
			continue
		}
		match := types.ThreatMatch{
			Pattern:    ind.ID,
			Category:   ind.Category,
			Severity:   ind.Severity,
			Confidence: ind.Confidence,
			Source:     types.MatchSourceExternalIntel,
			Details:    ind.Description,
		}
		if match.Details == "" {
			match.Details = descriptions[ind.Category]
		}
		matches = append(matches, match)
	}
	return matches, nil
}

// categoryDescriptions is best-effort taxonomy enrichment: a taxonomy refresh
// failure never degrades the indicator check.
func (s *Scanner) categoryDescriptions(ctx context.Context) map[string]string {
	categories, err := s.taxonomy.get(ctx, func(ctx context.Context) ([]intel.Category, error) {
		return s.intel.FetchTaxonomy(ctx)
	})
	if err != nil {
		s.logger.WithError(err).Debug("taxonomy unavailable, skipping enrichment")
		return nil
	}
	out := make(map[string]string, len(categories))
	for _, c := range categories {
		out[c.Name] = c.Description
	}
	return out
}

func (s *Scanner) indicatorMatches(ind intel.Indicator, text, lowered string) bool {
	if ind.Pattern == "" {
		return false
	}
	if !ind.IsRegex {
		return strings.Contains(lowered, strings.ToLower(ind.Pattern))
	}
	re := s.compiledIndicator(ind)
	return re != nil && re.MatchString(text)
}

func (s *Scanner) compiledIndicator(ind intel.Indicator) *regexp.Regexp {
	s.regexMu.Lock()
	defer s.regexMu.Unlock()
	if re, ok := s.regexCache[ind.ID]; ok {
		return re
	}
	re, err := regexp.Compile("(?i)" + ind.Pattern)
	if err != nil {
		s.logger.WithError(err).WithField("indicator", ind.ID).Warn("invalid indicator regex")
		re = nil
	}
	s.regexCache[ind.ID] = re
	return re
}

// riskScore folds matches into a 0-100 score: confidence-weighted average of
// the severity base scores, then a multiplier that grows with match count but
// is capped, rewarding correlated evidence without runaway scores.
func (s *Scanner) riskScore(matches []types.ThreatMatch) int {
	if len(matches) == 0 {
		return 0
	}
	var sum float64
	for _, m := range matches {
		sum += severityBaseScore[m.Severity] * m.Confidence
	}
	avg := sum / float64(len(matches))
	multiplier := math.Min(1+float64(len(matches)-1)*s.cfg.MultiplierStep, s.cfg.MultiplierCap)
	score := int(math.Round(avg * multiplier))
	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return score
}

// severityFor is the ceiling of the highest match severity and the
// score-derived band.
func (s *Scanner) severityFor(matches []types.ThreatMatch, score int) types.Severity {
	severity := s.scoreBand(score)
	for _, m := range matches {
		severity = types.MaxSeverity(severity, m.Severity)
	}
	return severity
}

func (s *Scanner) scoreBand(score int) types.Severity {
	switch {
	case score >= s.cfg.BandCritical:
		return types.SeverityCritical
	case score >= s.cfg.BandHigh:
		return types.SeverityHigh
	case score >= s.cfg.BandMedium:
		return types.SeverityMedium
	case score > 0:
		return types.SeverityLow
	default:
		return types.SeveritySafe
	}
}

func patternNames(matches []types.ThreatMatch) []string {
	if len(matches) == 0 {
		return nil
	}
	names := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		if !seen[m.Pattern] {
			seen[m.Pattern] = true
			names = append(names, m.Pattern)
		}
	}
	return names
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:12])
}
