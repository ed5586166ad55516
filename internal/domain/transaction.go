package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Type enumerates the supported transaction kinds.
type Type string

const (
	TypeTransfer   Type = "transfer"
	TypePayment    Type = "payment"
	TypeWithdrawal Type = "withdrawal"
	TypeDeposit    Type = "deposit"
)

// Types lists every supported transaction type.
var Types = []Type{TypeTransfer, TypePayment, TypeWithdrawal, TypeDeposit}

// Valid reports whether t is one of the supported transaction types.
func (t Type) Valid() bool {
	switch t {
	case TypeTransfer, TypePayment, TypeWithdrawal, TypeDeposit:
		return true
	}
	return false
}

// ParseType normalizes raw into a Type. Unknown values are returned as-is so
// the processor can reject them with a descriptive message.
func ParseType(raw string) Type {
	return Type(strings.ToLower(strings.TrimSpace(raw)))
}

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusTimeout    Status = "TIMEOUT"
)

// Terminal reports whether no further automatic transition happens from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// Priority orders work in the queue. Lower values are dequeued first.
type Priority int

const (
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 2
	PriorityNormal   Priority = 3
	PriorityLow      Priority = 4
	PriorityBatch    Priority = 5
)

// Priorities lists every priority tier from highest to lowest.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow, PriorityBatch}

// Valid reports whether p is inside the CRITICAL..BATCH range.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityBatch
}

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	case PriorityBatch:
		return "BATCH"
	default:
		return fmt.Sprintf("PRIORITY(%d)", int(p))
	}
}

// ParsePriority accepts either a tier name or its numeric value.
func ParsePriority(raw string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", "NORMAL", "3":
		return PriorityNormal, nil
	case "CRITICAL", "1":
		return PriorityCritical, nil
	case "HIGH", "2":
		return PriorityHigh, nil
	case "LOW", "4":
		return PriorityLow, nil
	case "BATCH", "5":
		return PriorityBatch, nil
	}
	return 0, fmt.Errorf("unknown priority %q", raw)
}

// UnmarshalJSON accepts a tier number or a tier name.
func (p *Priority) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*p = Priority(n)
		return nil
	}
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return fmt.Errorf("priority must be a number or name: %w", err)
	}
	parsed, err := ParsePriority(name)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

const (
	// DefaultMaxRetries bounds processing attempts per transaction.
	DefaultMaxRetries = 3
	// DefaultTimeoutSeconds is advisory only; nothing enforces it.
	DefaultTimeoutSeconds = 300
)

// Transaction is the unit of work flowing through the queue.
type Transaction struct {
	ID                 string          `json:"transaction_id"`
	UserID             string          `json:"user_id"`
	SourceAccount      string          `json:"source_account"`
	DestinationAccount string          `json:"destination_account"`
	Type               Type            `json:"transaction_type"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	Metadata           map[string]any  `json:"metadata,omitempty"`
	Priority           Priority        `json:"priority"`
	TimeoutSeconds     int             `json:"timeout_seconds"`
	Checksum           string          `json:"checksum"`
	Status             Status          `json:"status"`
	ProcessingNode     string          `json:"processing_node,omitempty"`
	RetryCount         int             `json:"retry_count"`
	MaxRetries         int             `json:"max_retries"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	ProcessingTime     float64         `json:"processing_time,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
}

// RequiredCapabilities extracts metadata.required_capabilities as a string set.
// Both []string and []any (as decoded from JSON) are accepted.
func (t *Transaction) RequiredCapabilities() []string {
	if t.Metadata == nil {
		return nil
	}
	switch v := t.Metadata["required_capabilities"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return strings.Split(v, ",")
	}
	return nil
}

// Clone returns a copy that does not share the metadata map.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Metadata != nil {
		cp.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		cp.CompletedAt = &ts
	}
	return &cp
}
