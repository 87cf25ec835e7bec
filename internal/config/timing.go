package config

import "time"

// Default timing configurations used throughout the service
const (
	// DefaultCacheTTL is the default time-to-live for cached review results
	DefaultCacheTTL = 5 * time.Minute

	// DefaultSessionIdleTimeout is how long an idle session survives without activity
	DefaultSessionIdleTimeout = 5 * time.Minute

	// DefaultSessionSweepInterval is how often the session actor checks for expired sessions
	DefaultSessionSweepInterval = 30 * time.Second

	// DefaultSessionQueueSize is the bound on a session's outbound message queue
	DefaultSessionQueueSize = 64

	// DefaultReviewDeadline is the overall deadline for one orchestration
	DefaultReviewDeadline = 60 * time.Second

	// DefaultScannerTimeout is the per-scanner run timeout when the catalog sets none
	DefaultScannerTimeout = 30 * time.Second

	// DefaultProbeTimeout bounds a scanner's version invocation during refresh
	DefaultProbeTimeout = 5 * time.Second

	// DefaultWorkers is the size of the dispatcher worker pool
	DefaultWorkers = 4

	// DefaultDispatchQueueSize is the bound on queued dispatcher jobs
	DefaultDispatchQueueSize = 128

	// DefaultMaxParallel is the per-review scanner fan-out cap
	DefaultMaxParallel = 4

	// DefaultMaxInFlight is the global cap on concurrent scanner processes
	DefaultMaxInFlight = 8

	// DefaultDedupWindow is the line distance within which findings are merged
	DefaultDedupWindow = 1

	// DefaultKeepAliveInterval is how often push streams emit keep-alives
	DefaultKeepAliveInterval = 15 * time.Second

	// DefaultGracePeriod is how long Stop waits for a graceful exit before force-killing
	DefaultGracePeriod = 10 * time.Second

	// DefaultStopPollInterval is how often Stop checks whether the process exited
	DefaultStopPollInterval = 100 * time.Millisecond

	// DefaultShutdownTimeout bounds graceful shutdown of the listeners
	DefaultShutdownTimeout = 5 * time.Second

	// DefaultRateLimit is the sustained request submission rate (per second)
	DefaultRateLimit = 50.0

	// DefaultRateBurst is the submission burst size
	DefaultRateBurst = 100
)
