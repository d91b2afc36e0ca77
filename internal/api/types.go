package api

import (
	"time"

	"website-extractor/internal/config"
	"website-extractor/internal/crawler"
	"website-extractor/pkg/types"
)

// DefaultDepth applies when a start request omits depth.
const DefaultDepth = 2

// StartCrawlRequest is the payload of POST /start_crawl.
type StartCrawlRequest struct {
	URL     string `json:"url"`
	Depth   *int   `json:"depth,omitempty"`
	Workers *int   `json:"workers,omitempty"`
	Render  *bool  `json:"render,omitempty"`
}

// StartCrawlResponse acknowledges an accepted crawl.
type StartCrawlResponse struct {
	Message string         `json:"message"`
	URL     string         `json:"url"`
	Depth   int            `json:"depth"`
	Session SessionSummary `json:"session"`
}

// LogsResponse is the payload of GET /logs.
type LogsResponse struct {
	Logs []string `json:"logs"`
}

// ErrorResponse carries a failure message.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SessionStatus captures the lifecycle stage of a session.
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusRunning    SessionStatus = "running"
	SessionStatusCancelling SessionStatus = "cancelling"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusCancelled  SessionStatus = "cancelled"
	SessionStatusFailed     SessionStatus = "failed"
)

// SessionSummary surfaces the high-level state of a crawl session.
type SessionSummary struct {
	SessionID   string        `json:"session_id"`
	SeedURL     string        `json:"seed_url"`
	Depth       int           `json:"depth"`
	Status      SessionStatus `json:"status"`
	Stats       types.Stats   `json:"stats"`
	Pending     int           `json:"pending"`
	LastURL     string        `json:"last_url,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Message     string        `json:"message,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// SessionDetail extends the summary with the effective configuration.
type SessionDetail struct {
	Session SessionSummary `json:"session"`
	Config  config.Config  `json:"config"`
}

// SSEEvent envelopes session state for Server-Sent Event clients.
type SSEEvent struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Session   SessionSummary         `json:"session"`
	Progress  *crawler.ProgressEvent `json:"progress,omitempty"`
}
