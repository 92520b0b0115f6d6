package constants

import (
	"time"
)

// File acceptance
const (
	// AcceptedMIMEType - the only MIME type accepted for parsing and upload
	AcceptedMIMEType = "text/csv"

	// DefaultMaxFileSize - largest file accepted (1 GiB)
	DefaultMaxFileSize = 1 * 1024 * 1024 * 1024
)

// Parsing
const (
	// DefaultParseChunkSize - decoded bytes consumed before a row batch is emitted (10 MiB)
	// Smaller batches give finer percentParsed updates at the cost of more events.
	DefaultParseChunkSize = 10 * 1024 * 1024

	// MinParseChunkSize - lower bound for the parse chunk size (64 KiB)
	MinParseChunkSize = 64 * 1024

	// ParseCompletionGrace - delay between the parser finishing and the completed-state
	// transition, so that an abort issued right before completion lands first
	ParseCompletionGrace = 300 * time.Millisecond
)

// Upload
const (
	// DefaultUploadChunkSize - bytes sent per tus PATCH request (8 MiB)
	// Pause and abort take effect immediately; the chunk size only bounds how much
	// a resumed upload may need to resend.
	DefaultUploadChunkSize = 8 * 1024 * 1024

	// MinUploadChunkSize - lower bound for the tus chunk size (256 KiB)
	MinUploadChunkSize = 256 * 1024

	// TerminateTimeout - timeout for the best-effort tus DELETE sent on abort (10 seconds)
	TerminateTimeout = 10 * time.Second
)

// Grid
const (
	// DefaultPageSize - rows per grid page (1000)
	DefaultPageSize = 1000
)

// Resume store
const (
	// MaxResumeAge - stored resume records older than this are pruned (7 days)
	// tus servers commonly expire incomplete uploads after a similar window.
	MaxResumeAge = 7 * 24 * time.Hour

	// ResumeStoreFileName - name of the resume record file inside the resume directory
	ResumeStoreFileName = "resume.json"
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000
)

// UI Updates
const (
	// ProgressRefreshInterval - refresh rate of the terminal progress bars (150ms)
	ProgressRefreshInterval = 150 * time.Millisecond

	// NotificationTruncateLength - longest notification body shown on the desktop
	NotificationTruncateLength = 160
)

// Existence check rate limiting
const (
	// ExistsRatePerSec - sustained existence checks per second
	ExistsRatePerSec = 2.0

	// ExistsBurstCapacity - checks allowed back to back before pacing kicks in
	ExistsBurstCapacity = 5.0

	// RateLimitWarningThreshold - delay threshold to show warning (2 seconds)
	RateLimitWarningThreshold = 2 * time.Second

	// RateLimitWarningInterval - minimum interval between warnings (10 seconds)
	RateLimitWarningInterval = 10 * time.Second
)

// API and Context Timeouts
const (
	// APIContextTimeout - default timeout for the existence check (30 seconds)
	APIContextTimeout = 30 * time.Second
)

// HTTP Client Timeouts
const (
	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake (60 seconds)
	HTTPTLSHandshakeTimeout = 60 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - timeout for establishing connection (30 seconds)
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - keep-alive period for dialer (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second

	// ProxyWarmupTimeout - timeout for the optional proxy warmup request (15 seconds)
	ProxyWarmupTimeout = 15 * time.Second
)
