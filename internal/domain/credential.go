package domain

// CredentialStatus is a point-in-time view of one credential slot.
type CredentialStatus struct {
	Index     int    `json:"index"`
	Label     string `json:"label"`
	Exhausted bool   `json:"exhausted"`
	Requests  int64  `json:"requests"`
}

// PoolStatus summarises a credential pool for operators.
type PoolStatus struct {
	Provider      string             `json:"provider"`
	Total         int                `json:"total"`
	Available     int                `json:"available"`
	Exhausted     int                `json:"exhausted"`
	CurrentIndex  int                `json:"current_index"`
	TotalRequests int64              `json:"total_requests"`
	Slots         []CredentialStatus `json:"slots"`
}
