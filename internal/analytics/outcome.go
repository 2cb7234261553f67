package analytics

import "time"

// Outcome is the terminal result of one relay attempt.
type Outcome struct {
	Network         string    `json:"network"`
	ApplicationID   string    `json:"applicationId"`
	CallerID        string    `json:"callerId,omitempty"`
	Success         bool      `json:"success"`
	TransactionHash string    `json:"transactionHash,omitempty"`
	BlockNumber     uint64    `json:"blockNumber,omitempty"`
	GasUsed         string    `json:"gasUsed,omitempty"`
	ErrorMessage    string    `json:"error,omitempty"`
	DurationMs      int64     `json:"durationMs"`
	Timestamp       time.Time `json:"timestamp"`
}
