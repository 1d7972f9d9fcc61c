package models

// Response envelopes shared by all HTTP endpoints.

// RegisterResponse is returned by the key registration endpoint
type RegisterResponse struct {
	Success bool   `json:"success"`
	APIKey  string `json:"apiKey"`
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// ProxyResponse wraps an upstream reply together with its audit trail
type ProxyResponse struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data"`
	Audit   *AuditInfo  `json:"audit,omitempty"`
}

// AuditInfo describes how a proxied request was fingerprinted and anchored.
// Either TxHash or Error is set, never both.
type AuditInfo struct {
	TxHash      string `json:"txHash,omitempty"`
	Error       string `json:"error,omitempty"`
	APIKeyHash  string `json:"apiKeyHash"`
	RequestHash string `json:"requestHash"`
	Timestamp   int64  `json:"timestamp"`
	Tag         string `json:"tag"`
}

// UsageResponse is returned by the usage reporting endpoint
type UsageResponse struct {
	Success bool        `json:"success"`
	Data    UsageReport `json:"data"`
}

// UsageReport aggregates the usage view for one API key
type UsageReport struct {
	APIKey     string          `json:"apiKey"`
	TotalUsage int64           `json:"totalUsage"`
	RecentLogs []UsageLogEntry `json:"recentLogs"`
}

// APIError is the uniform error envelope
type APIError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}
