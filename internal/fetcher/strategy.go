package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"website-extractor/pkg/types"
)

// Direct is the lightweight transport contract.
type Direct interface {
	Fetch(ctx context.Context, target, referrer *url.URL) Outcome
}

// Transport names which stage produced a result.
type Transport string

const (
	TransportDirect Transport = "direct"
	TransportRender Transport = "render"
)

type action int

const (
	actionDone action = iota
	actionFail
	actionRender
)

// Result is the resolved two-stage fetch.
type Result struct {
	Page      *types.Page
	Outcome   Outcome
	Transport Transport
	Fallback  bool
	Err       error
}

// OK reports whether a page was obtained from either transport.
func (r Result) OK() bool {
	return r.Err == nil && r.Page != nil
}

// Strategy runs the direct transport and escalates to the renderer when the
// direct outcome says the transport itself is being rejected. Only page tasks
// escalate: a rendered DOM is never a stand-in for an image or a script.
type Strategy struct {
	direct   Direct
	renderer Renderer
	logger   *slog.Logger
}

// NewStrategy builds a strategy; renderer may be nil to disable the fallback.
func NewStrategy(direct Direct, renderer Renderer, logger *slog.Logger) *Strategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Strategy{direct: direct, renderer: renderer, logger: logger}
}

func dispatch(o Outcome, kind types.TaskKind) action {
	switch o.Kind {
	case OutcomeSuccess:
		return actionDone
	case OutcomeBlocked:
		if kind != types.TaskPage {
			return actionFail
		}
		return actionRender
	case OutcomeFatal:
		if o.Escalate && kind == types.TaskPage {
			return actionRender
		}
		return actionFail
	default:
		// Retryable here means the budget is spent; it is not a blocking signal.
		return actionFail
	}
}

// Fetch resolves target through the direct transport and, when dispatched, the renderer.
func (s *Strategy) Fetch(ctx context.Context, kind types.TaskKind, target, referrer *url.URL) Result {
	out := s.direct.Fetch(ctx, target, referrer)
	logger := s.logger.With("url", target.String())

	switch dispatch(out, kind) {
	case actionDone:
		return Result{Page: out.Page, Outcome: out, Transport: TransportDirect}
	case actionFail:
		if out.Kind == OutcomeBlocked {
			logger.Warn("Blocked, resource not rendered", "class", ClassBlocked, "status", out.Status, "kind", kind.String())
		}
		return Result{Outcome: out, Transport: TransportDirect, Err: fmt.Errorf("direct fetch: %w", out)}
	}

	if s.renderer == nil {
		logger.Warn("fallback unavailable", "class", out.Class, "status", out.Status, "reason", out.Error())
		return Result{Outcome: out, Transport: TransportDirect, Err: fmt.Errorf("direct fetch, no renderer: %w", out)}
	}

	if out.Kind == OutcomeBlocked {
		logger.Warn("Blocked, falling back to renderer", "class", ClassBlocked, "status", out.Status)
	} else {
		logger.Warn("transport failure, falling back to renderer", "class", out.Class, "reason", out.Error())
	}

	page, err := s.renderer.Render(ctx, target)
	if err != nil {
		logger.Error("render failed", "class", ClassRenderFailure, "error", err)
		return Result{Outcome: out, Transport: TransportRender, Fallback: true, Err: fmt.Errorf("render: %w", err)}
	}
	if page == nil {
		return Result{Outcome: out, Transport: TransportRender, Fallback: true, Err: errors.New("render returned no page")}
	}
	return Result{Page: page, Outcome: out, Transport: TransportRender, Fallback: true}
}
