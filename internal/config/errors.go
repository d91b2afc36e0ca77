package config

import "errors"

// Validation errors returned by Config.Validate. Callers match them with errors.Is.
var (
	ErrInvalidDepth       = errors.New("crawl.max_depth must be >= 0")
	ErrInvalidWorkers     = errors.New("crawl.workers must be between 1 and 8")
	ErrInvalidOriginLimit = errors.New("crawl.per_origin_concurrency must be > 0")
	ErrInvalidAttempts    = errors.New("fetch.max_attempts must be > 0")
	ErrInvalidBackoff     = errors.New("fetch backoff must be non-negative with multiplier >= 1")
	ErrInvalidDelay       = errors.New("fetch.min_delay must be >= 0 and <= fetch.max_delay")
	ErrInvalidBodyLimit   = errors.New("fetch.max_body_bytes must be > 0")
	ErrInvalidSettle      = errors.New("rendering.settle_min must be >= 0 and <= rendering.settle_max")
	ErrMissingOutputDir   = errors.New("crawl.output_dir must be set")
)
