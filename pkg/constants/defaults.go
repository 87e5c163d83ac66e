package constants

import "time"

// Default values for server and replica operations
const (
	DefaultAddr              = "0.0.0.0:8091"
	DefaultURIPrefix         = "/rest/v1"
	DefaultReconnectInterval = 5 * time.Second
	DefaultReadyTimeout      = 2 * time.Second
	DefaultTxnTimeout        = 30 * time.Second
	DefaultPendingTTL        = 5 * time.Minute
	DefaultReapSchedule      = "@every 1m"
	DefaultStoreDriver       = "memory"
)
