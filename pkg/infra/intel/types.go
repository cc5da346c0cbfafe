package intel

import (
	"github.com/vigilsec/vigil/pkg/types"
)

// Indicator is a known-bad signal served by the threat-intelligence service.
// Pattern is matched against scanned text, as a case-insensitive substring or
// as a regular expression when IsRegex is set.
type Indicator struct {
	ID          string         `json:"id"`
	Pattern     string         `json:"pattern"`
	IsRegex     bool           `json:"is_regex"`
	Category    string         `json:"category"`
	Severity    types.Severity `json:"severity"`
	Confidence  float64        `json:"confidence"`
	Description string         `json:"description,omitempty"`
}

// Category is one entry of the service's threat taxonomy.
type Category struct {
	Name        string         `json:"name"`
	Severity    types.Severity `json:"severity"`
	Description string         `json:"description,omitempty"`
}

// IndicatorQuery filters the indicator listing.
type IndicatorQuery struct {
	Severities []types.Severity
	Categories []string
	PageSize   int
}

type indicatorsResponse struct {
	Indicators []Indicator `json:"indicators"`
	NextPage   int         `json:"next_page"`
}

type taxonomyResponse struct {
	Categories []Category `json:"categories"`
}
