package fetcher

import (
	"fmt"

	"website-extractor/pkg/types"
)

// OutcomeKind classifies a single fetch.
type OutcomeKind int

const (
	// OutcomeSuccess carries the fetched page.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRetryable means the retry budget ran out on a transient status.
	OutcomeRetryable
	// OutcomeBlocked means the server rejected this transport (403 and other non-retryable 4xx).
	OutcomeBlocked
	// OutcomeFatal is any other terminal failure.
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Failure classes used in log lines.
const (
	ClassTransientNetwork = "transient_network"
	ClassRateLimited      = "rate_limited"
	ClassBlocked          = "blocked"
	ClassRenderFailure    = "render_failure"
	ClassTransport        = "transport"
	ClassFatal            = "fatal"
)

// Outcome is the tagged result of a direct fetch.
type Outcome struct {
	Kind     OutcomeKind
	Page     *types.Page
	Status   int
	Reason   string
	Class    string
	Err      error
	Attempts int
	// Escalate marks a Fatal outcome caused by the transport itself (network-level
	// failure) rather than by the resource; the strategy hands those to the renderer.
	Escalate bool
}

func success(page *types.Page, attempts int) Outcome {
	return Outcome{Kind: OutcomeSuccess, Page: page, Status: page.StatusCode, Attempts: attempts}
}

func (o Outcome) Error() string {
	switch {
	case o.Err != nil:
		return o.Err.Error()
	case o.Reason != "":
		return o.Reason
	default:
		return o.Kind.String()
	}
}
