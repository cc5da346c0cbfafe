package common

type contextKey string

const (
	RequestIDContextKey  contextKey = "request_id"
	ScanResultContextKey contextKey = "scan_result"
)
