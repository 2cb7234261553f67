package analytics

// HourlyBucket counts relays recorded during one hour of the day. Buckets
// are indexed by hour-of-day and are never cleared except by Reset, so the
// same slot accumulates across days.
type HourlyBucket struct {
	Relays   uint64 `json:"relays"`
	Failures uint64 `json:"failures"`
}

// NetworkStats is the per-network view. GasUsed is a base-10 integer.
type NetworkStats struct {
	Total   uint64 `json:"total"`
	Success uint64 `json:"success"`
	Failed  uint64 `json:"failed"`
	GasUsed string `json:"gasUsed"`
}

// ApplicationStats is the per-application view inside a Snapshot.
type ApplicationStats struct {
	Total         uint64 `json:"total"`
	Success       uint64 `json:"success"`
	Failed        uint64 `json:"failed"`
	UniqueCallers int    `json:"uniqueCallers"`
}

// Snapshot is a point-in-time copy of the metrics state.
type Snapshot struct {
	TotalRelays      uint64                      `json:"totalRelays"`
	SuccessfulRelays uint64                      `json:"successfulRelays"`
	FailedRelays     uint64                      `json:"failedRelays"`
	ByNetwork        map[string]NetworkStats     `json:"byNetwork"`
	ByApplication    map[string]ApplicationStats `json:"byApplication"`
	HourlyStats      [HoursPerDay]HourlyBucket   `json:"hourlyStats"`
}

// ApplicationView is the detailed view of one application.
type ApplicationView struct {
	ApplicationID string `json:"applicationId"`
	Total         uint64 `json:"total"`
	Success       uint64 `json:"success"`
	Failed        uint64 `json:"failed"`
	UniqueCallers int    `json:"uniqueCallers"`
	SuccessRate   string `json:"successRate"`
}

// ApplicationRank is one row of TopApplications.
type ApplicationRank struct {
	ApplicationID     string `json:"applicationId"`
	Total             uint64 `json:"total"`
	Success           uint64 `json:"success"`
	UniqueCallerCount int    `json:"uniqueCallerCount"`
}
