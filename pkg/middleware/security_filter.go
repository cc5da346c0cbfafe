package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vigilsec/vigil/pkg/common"
	"github.com/vigilsec/vigil/pkg/infra/prometheus"
	"github.com/vigilsec/vigil/pkg/infra/telemetry"
	"github.com/vigilsec/vigil/pkg/reputation"
	"github.com/vigilsec/vigil/pkg/scanner"
	"github.com/vigilsec/vigil/pkg/types"
	"github.com/vigilsec/vigil/pkg/utils"
)

const (
	defaultBypassHeader = "X-Security-Bypass"

	headerSecurityBlock  = "X-Security-Block"
	headerRiskScore      = "X-Risk-Score"
	headerThreatSeverity = "X-Threat-Severity"
)

// FilterConfig controls the request security filter.
type FilterConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	MaxRiskScore   int      `mapstructure:"max_risk_score"`
	BlockCritical  bool     `mapstructure:"block_critical"`
	LogThreats     bool     `mapstructure:"log_threats"`
	TrustedIPs     []string `mapstructure:"trusted_ips"`
	TrustedOrigins []string `mapstructure:"trusted_origins"`
	ScanFields     []string `mapstructure:"scan_fields"`
	BypassHeader   string   `mapstructure:"bypass_header"`
	BypassToken    string   `mapstructure:"bypass_token"`
}

func (c *FilterConfig) withDefaults() {
	if c.MaxRiskScore <= 0 {
		c.MaxRiskScore = 70
	}
	if c.BypassHeader == "" {
		c.BypassHeader = defaultBypassHeader
	}
}

// reputationChecker is the slice of the reputation store the filter needs.
type reputationChecker interface {
	IsBlocked(ctx context.Context, ip string) reputation.BlockStatus
	IsSuspicious(ctx context.Context, ip string) bool
}

type securityFilterMiddleware struct {
	logger     *logrus.Logger
	cfg        FilterConfig
	scanner    *scanner.Scanner
	reputation reputationChecker
	telemetry  *telemetry.Worker

	trustedIPs     map[string]bool
	trustedOrigins map[string]bool
}

// NewSecurityFilterMiddleware builds the request filter. The reputation
// checker and telemetry worker may be nil, in which case those stages are
// skipped.
func NewSecurityFilterMiddleware(
	logger *logrus.Logger,
	cfg FilterConfig,
	sc *scanner.Scanner,
	rep reputationChecker,
	tel *telemetry.Worker,
) Middleware {
	cfg.withDefaults()
	m := &securityFilterMiddleware{
		logger:         logger,
		cfg:            cfg,
		scanner:        sc,
		reputation:     rep,
		telemetry:      tel,
		trustedIPs:     make(map[string]bool, len(cfg.TrustedIPs)),
		trustedOrigins: make(map[string]bool, len(cfg.TrustedOrigins)),
	}
	for _, ip := range cfg.TrustedIPs {
		m.trustedIPs[ip] = true
	}
	for _, origin := range cfg.TrustedOrigins {
		m.trustedOrigins[origin] = true
	}
	return m
}

func (m *securityFilterMiddleware) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !m.cfg.Enabled {
			return c.Next()
		}

		requestID := uuid.New().String()
		c.Locals(common.RequestIDContextKey, requestID)

		if m.bypassed(c) {
			prometheus.RequestsScanned.WithLabelValues(prometheus.DecisionBypassed).Inc()
			return c.Next()
		}

		verdict := m.evaluate(c, requestID)
		if verdict.failedOpen {
			prometheus.RequestsScanned.WithLabelValues(prometheus.DecisionFailOpen).Inc()
			return c.Next()
		}
		if verdict.blocked {
			prometheus.RequestsScanned.WithLabelValues(prometheus.DecisionBlocked).Inc()
			return m.blockResponse(c, requestID, verdict)
		}

		prometheus.RequestsScanned.WithLabelValues(prometheus.DecisionAllowed).Inc()
		return c.Next()
	}
}

type filterVerdict struct {
	blocked    bool
	failedOpen bool
	reason     string
	result     types.ScanResult
}

// evaluate runs the reputation check and the content scan. Any panic inside
// the pipeline fails open: a broken filter must never take request traffic
// down with it.
func (m *securityFilterMiddleware) evaluate(c *fiber.Ctx, requestID string) (verdict filterVerdict) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithFields(logrus.Fields{
				"panic":      r,
				"request_id": requestID,
			}).Error("security filter panicked, allowing request")
			if m.telemetry != nil {
				m.telemetry.Emit(telemetry.NewEvent("security.filter_error", map[string]interface{}{
					"request_id": requestID,
					"path":       c.Path(),
					"error":      fmt.Sprint(r),
				}))
			}
			verdict = filterVerdict{failedOpen: true}
		}
	}()

	clientIP := c.IP()

	if m.reputation != nil {
		status := m.reputation.IsBlocked(c.UserContext(), clientIP)
		if status.IsBlocked {
			verdict.blocked = true
			verdict.reason = "origin address is blocked"
			verdict.result = types.ScanResult{
				Severity:  types.SeverityCritical,
				RiskScore: 100,
			}
			m.emitThreatEvent(c, requestID, verdict)
			return verdict
		}
	}

	texts := m.collectTexts(c)
	if len(texts) == 0 {
		return verdict
	}

	results := m.scanner.ScanBatch(c.UserContext(), texts, scanner.ScanOptions{
		MaxRiskScore: m.cfg.MaxRiskScore,
	})
	for _, r := range results {
		observeScan(r)
	}

	agg := types.AggregateResults(results)
	c.Locals(common.ScanResultContextKey, agg)
	verdict.result = agg

	if m.cfg.LogThreats && len(agg.Threats) > 0 {
		m.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"client_ip":  reputation.MaskIP(clientIP),
			"path":       c.Path(),
			"risk_score": agg.RiskScore,
			"severity":   agg.Severity,
			"patterns":   agg.BlockedPatterns,
		}).Warn("threats detected in request content")
	}

	if (m.cfg.BlockCritical && agg.Severity == types.SeverityCritical) ||
		agg.RiskScore > m.cfg.MaxRiskScore {
		verdict.blocked = true
		verdict.reason = "request content failed security screening"
	}
	if len(agg.Threats) > 0 && (m.cfg.LogThreats || verdict.blocked) {
		m.emitThreatEvent(c, requestID, verdict)
	}
	return verdict
}

// collectTexts gathers everything worth scanning: the body per the configured
// scan fields, plus every query parameter value.
func (m *securityFilterMiddleware) collectTexts(c *fiber.Ctx) []string {
	texts := extractScannableText(c.Body(), c.Get(fiber.HeaderContentType), m.cfg.ScanFields)
	c.Context().QueryArgs().VisitAll(func(_, value []byte) {
		if len(value) > 0 {
			texts = append(texts, string(value))
		}
	})
	return texts
}

func (m *securityFilterMiddleware) bypassed(c *fiber.Ctx) bool {
	if m.cfg.BypassToken != "" && c.Get(m.cfg.BypassHeader) == m.cfg.BypassToken {
		return true
	}
	if m.trustedIPs[c.IP()] {
		return true
	}
	origin := c.Get(fiber.HeaderOrigin)
	return origin != "" && m.trustedOrigins[origin]
}

func (m *securityFilterMiddleware) blockResponse(c *fiber.Ctx, requestID string, verdict filterVerdict) error {
	threats := make([]fiber.Map, 0, len(verdict.result.Threats))
	for _, t := range verdict.result.Threats {
		threats = append(threats, fiber.Map{
			"category": t.Category,
			"severity": t.Severity,
		})
	}

	c.Set(headerSecurityBlock, "true")
	c.Set(headerRiskScore, strconv.Itoa(verdict.result.RiskScore))
	c.Set(headerThreatSeverity, string(verdict.result.Severity))

	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
		"error":     "request blocked",
		"message":   verdict.reason,
		"severity":  verdict.result.Severity,
		"riskScore": verdict.result.RiskScore,
		"threats":   threats,
		"requestId": requestID,
	})
}

func (m *securityFilterMiddleware) emitThreatEvent(c *fiber.Ctx, requestID string, verdict filterVerdict) {
	if m.telemetry == nil {
		return
	}

	// The fiber context is recycled once the handler returns, so every
	// request field is read here. Only the enrichment lookups run on the
	// worker goroutine, keeping store latency off the response path.
	clientIP := c.IP()
	userAgent := c.Get(fiber.HeaderUserAgent)
	acceptLanguage := c.Get(fiber.HeaderAcceptLanguage)
	payload := map[string]interface{}{
		"request_id": requestID,
		"client_ip":  reputation.MaskIP(clientIP),
		"method":     c.Method(),
		"path":       c.Path(),
		"blocked":    verdict.blocked,
		"reason":     verdict.reason,
		"severity":   verdict.result.Severity,
		"risk_score": verdict.result.RiskScore,
		"patterns":   verdict.result.BlockedPatterns,
	}

	rep := m.reputation
	m.telemetry.EmitFunc(func(ctx context.Context) *telemetry.Event {
		if rep != nil {
			payload["suspicious_origin"] = rep.IsSuspicious(ctx, clientIP)
		}
		if ua := utils.ParseUserAgent(userAgent, acceptLanguage); ua != nil {
			payload["device"] = ua.Device
			payload["os"] = ua.OS
			payload["browser"] = ua.Browser
			if ua.Locale != "" {
				payload["locale"] = ua.Locale
			}
		}
		return telemetry.NewEvent("security.threat_detected", payload)
	})
}

func observeScan(r types.ScanResult) {
	cacheLabel := "miss"
	if r.Metadata.CacheHit {
		cacheLabel = "hit"
	}
	prometheus.ScanLatency.WithLabelValues(cacheLabel).
		Observe(float64(r.Metadata.Duration) / float64(time.Millisecond))
	for _, t := range r.Threats {
		prometheus.ThreatsDetected.WithLabelValues(t.Category, string(t.Severity)).Inc()
	}
}
