package reputation

import "time"

// BlockReason classifies why an origin was blocked.
type BlockReason string

const (
	ReasonMalicious  BlockReason = "malicious"
	ReasonSuspicious BlockReason = "suspicious"
	ReasonManual     BlockReason = "manual"
	ReasonHoneypot   BlockReason = "honeypot"
)

// BlockedIPEntry is one origin's block record. A re-block overwrites the
// prior entry; records are never partially updated.
type BlockedIPEntry struct {
	IP                      string            `json:"ip"`
	Reason                  BlockReason       `json:"reason"`
	BlockedAt               time.Time         `json:"blocked_at"`
	BlockedUntil            *time.Time        `json:"blocked_until,omitempty"`
	Source                  string            `json:"source"`
	ConfidenceScore         float64           `json:"confidence_score"`
	RequestCountWhenBlocked int64             `json:"request_count_when_blocked"`
	Metadata                map[string]string `json:"metadata,omitempty"`
}

// SuspiciousIPEntry marks an origin for elevated scrutiny short of a block.
type SuspiciousIPEntry struct {
	IP       string            `json:"ip"`
	Source   string            `json:"source"`
	MarkedAt time.Time         `json:"marked_at"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// BlockStatus is the answer to an IsBlocked lookup.
type BlockStatus struct {
	IsBlocked    bool
	Reason       BlockReason
	BlockedUntil *time.Time
	Entry        *BlockedIPEntry
}

// BlockOptions carry the optional attributes of a block call.
type BlockOptions struct {
	ConfidenceScore float64
	RequestCount    int64
	TemporaryHours  int
	Metadata        map[string]string
}

// Classification of a reputation-feed finding.
const (
	ClassificationMalicious  = "malicious"
	ClassificationSuspicious = "suspicious"
	ClassificationBenign     = "benign"
)

// Finding is one entry of a bulk reputation-feed ingestion.
type Finding struct {
	IP             string            `json:"ip"`
	Classification string            `json:"classification"`
	Confidence     float64           `json:"confidence"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// BulkResult reports the outcome of a bulk ingestion.
type BulkResult struct {
	Blocked int `json:"blocked"`
	Skipped int `json:"skipped"`
	Marked  int `json:"marked"`
}

// Stats are read-only aggregates for operational visibility, never
// authoritative state.
type Stats struct {
	TotalBlocked int                 `json:"total_blocked"`
	Temporary    int                 `json:"temporary"`
	Permanent    int                 `json:"permanent"`
	ByReason     map[BlockReason]int `json:"by_reason"`
	Suspicious   int                 `json:"suspicious"`
}

type auditRecord struct {
	IP     string      `json:"ip"`
	Action string      `json:"action"`
	Reason BlockReason `json:"reason"`
	Source string      `json:"source,omitempty"`
	At     time.Time   `json:"at"`
}
