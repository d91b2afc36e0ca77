package types

import (
	"net/url"
	"time"
)

// TaskKind distinguishes pages, which are parsed for further links, from leaf sub-resources.
type TaskKind int

const (
	TaskPage TaskKind = iota
	TaskResource
)

func (k TaskKind) String() string {
	if k == TaskResource {
		return "resource"
	}
	return "page"
}

// TaskState tracks a CrawlTask through the orchestrator. A task sitting in
// the frontier is pending; states are reported from the moment a worker takes it.
type TaskState string

const (
	TaskFetching  TaskState = "fetching"
	TaskPersisted TaskState = "persisted"
	TaskSkipped   TaskState = "skipped"
	TaskFailed    TaskState = "failed"
)

// CrawlTask models a work item accepted by the frontier.
type CrawlTask struct {
	URL *url.URL
	// Depth is the remaining link budget. Page tasks always carry Depth >= 1,
	// resource tasks carry 0.
	Depth      int
	Kind       TaskKind
	Referrer   *url.URL
	EnqueuedAt time.Time
}

// Page represents fetched content.
type Page struct {
	URL             *url.URL
	FinalURL        *url.URL
	Body            []byte
	ContentType     string
	StatusCode      int
	FetchedAt       time.Time
	Rendered        bool
	ResponseLatency time.Duration
}

// StoredResource is the persisted form of a fetched URL.
type StoredResource struct {
	Path string
	Size int64
}

// Stats summarises a finished crawl.
type Stats struct {
	Enqueued  int64 `json:"enqueued"`
	Persisted int64 `json:"persisted"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
	Fallbacks int64 `json:"fallbacks"`
}
