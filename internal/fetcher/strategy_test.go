package fetcher

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"website-extractor/pkg/types"
)

type stubDirect struct {
	out   Outcome
	calls atomic.Int32
}

func (s *stubDirect) Fetch(ctx context.Context, target, referrer *url.URL) Outcome {
	s.calls.Add(1)
	return s.out
}

type fakeRenderer struct {
	err   error
	calls atomic.Int32
}

func (f *fakeRenderer) Render(ctx context.Context, target *url.URL) (*types.Page, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &types.Page{URL: target, FinalURL: target, Body: []byte("<html>rendered</html>"), ContentType: "text/html", StatusCode: 200, Rendered: true}, nil
}

func TestStrategyDispatch(t *testing.T) {
	t.Parallel()

	target, _ := url.Parse("https://example.com/")
	okPage := &types.Page{URL: target, Body: []byte("direct"), StatusCode: 200}

	tests := []struct {
		name         string
		out          Outcome
		wantRenders  int32
		wantOK       bool
		wantFallback bool
		wantBody     string
	}{
		{"success stays direct", Outcome{Kind: OutcomeSuccess, Page: okPage}, 0, true, false, "direct"},
		{"blocked renders", Outcome{Kind: OutcomeBlocked, Status: 403, Escalate: true}, 1, true, true, "<html>rendered</html>"},
		{"exhausted transient fails", Outcome{Kind: OutcomeRetryable, Status: 503}, 0, false, false, ""},
		{"transport fatal renders", Outcome{Kind: OutcomeFatal, Class: ClassTransport, Escalate: true}, 1, true, true, "<html>rendered</html>"},
		{"plain fatal fails", Outcome{Kind: OutcomeFatal, Status: 501}, 0, false, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			direct := &stubDirect{out: tt.out}
			renderer := &fakeRenderer{}
			res := NewStrategy(direct, renderer, slog.New(slog.DiscardHandler)).Fetch(context.Background(), types.TaskPage, target, nil)

			assert.Equal(t, int32(1), direct.calls.Load())
			assert.Equal(t, tt.wantRenders, renderer.calls.Load())
			assert.Equal(t, tt.wantOK, res.OK())
			assert.Equal(t, tt.wantFallback, res.Fallback)
			if tt.wantOK {
				assert.Equal(t, tt.wantBody, string(res.Page.Body))
			} else {
				assert.Error(t, res.Err)
			}
		})
	}
}

func TestStrategyBlockedLogsFallback(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	target, _ := url.Parse("https://example.com/secret")
	direct := &stubDirect{out: Outcome{Kind: OutcomeBlocked, Status: 403, Class: ClassBlocked, Escalate: true}}
	renderer := &fakeRenderer{}

	res := NewStrategy(direct, renderer, logger).Fetch(context.Background(), types.TaskPage, target, nil)
	require.True(t, res.OK())
	assert.Equal(t, TransportRender, res.Transport)
	assert.Contains(t, buf.String(), "Blocked, falling back to renderer")
	assert.Contains(t, buf.String(), "status=403")
}

func TestStrategyRenderFailure(t *testing.T) {
	t.Parallel()

	target, _ := url.Parse("https://example.com/")
	direct := &stubDirect{out: Outcome{Kind: OutcomeBlocked, Status: 403, Escalate: true}}
	renderer := &fakeRenderer{err: errors.New("browser missing")}

	res := NewStrategy(direct, renderer, slog.New(slog.DiscardHandler)).Fetch(context.Background(), types.TaskPage, target, nil)
	assert.False(t, res.OK())
	assert.True(t, res.Fallback)
	assert.ErrorContains(t, res.Err, "browser missing")
	assert.Equal(t, int32(1), renderer.calls.Load())
}

func TestStrategyResourcesNeverRender(t *testing.T) {
	t.Parallel()

	target, _ := url.Parse("https://example.com/logo.png")
	outcomes := []Outcome{
		{Kind: OutcomeBlocked, Status: 403, Class: ClassBlocked, Escalate: true},
		{Kind: OutcomeFatal, Class: ClassTransport, Escalate: true},
	}
	for _, o := range outcomes {
		var buf bytes.Buffer
		direct := &stubDirect{out: o}
		renderer := &fakeRenderer{}

		res := NewStrategy(direct, renderer, slog.New(slog.NewTextHandler(&buf, nil))).
			Fetch(context.Background(), types.TaskResource, target, nil)
		assert.False(t, res.OK())
		assert.False(t, res.Fallback)
		assert.Equal(t, TransportDirect, res.Transport)
		assert.Zero(t, renderer.calls.Load())

		var out Outcome
		require.True(t, errors.As(res.Err, &out))
		assert.Equal(t, o.Kind, out.Kind)
		if o.Kind == OutcomeBlocked {
			assert.Contains(t, buf.String(), "Blocked, resource not rendered")
		}
	}
}

func TestStrategyWithoutRenderer(t *testing.T) {
	t.Parallel()

	target, _ := url.Parse("https://example.com/")
	direct := &stubDirect{out: Outcome{Kind: OutcomeBlocked, Status: 403, Escalate: true}}

	res := NewStrategy(direct, nil, slog.New(slog.DiscardHandler)).Fetch(context.Background(), types.TaskPage, target, nil)
	assert.False(t, res.OK())
	assert.False(t, res.Fallback)

	var out Outcome
	require.True(t, errors.As(res.Err, &out))
	assert.Equal(t, OutcomeBlocked, out.Kind)
}
