// Package poll waits for the result of a submitted job by querying the status endpoint in a
// bounded, cancellable loop. A newer poll always supersedes an older one.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"docbridge/bus"
	"docbridge/clock"
	"docbridge/domain"
	"docbridge/fetch"
	"docbridge/normalize"
	"docbridge/obs"
	"docbridge/render"
)

// User-facing outcomes when no summary could be produced.
const (
	MsgNoSummary    = "No summary produced after multiple attempts."
	MsgUnparseable  = "Could not parse summary response after multiple attempts."
	MsgRenderFailed = "Received a response but failed to parse/render it."
	MsgFetchFailed  = "Could not fetch summary after multiple attempts."
)

// ErrSuperseded is the cancellation cause of a poll replaced by a newer one.
var (
	ErrSuperseded = errors.New("poll superseded")
	ErrStopped    = errors.New("poller stopped")
)

type State string

const (
	StateIdle      State = "idle"
	StatePolling   State = "polling"
	StateResolved  State = "resolved"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

type Options struct {
	URL               string
	MaxAttempts       int
	Interval          time.Duration
	RequestTimeout    time.Duration
	RetryableStatuses []int
}

func DefaultOptions(statusURL string) Options {
	return Options{
		URL:               statusURL,
		MaxAttempts:       30,
		Interval:          10 * time.Second,
		RequestTimeout:    30 * time.Second,
		RetryableStatuses: []int{http.StatusNotFound, http.StatusAccepted, http.StatusTooEarly},
	}
}

// Sink receives the visible transitions of the active poll. PollStarted runs under the poller's
// state lock; PollResolved and PollFailed run under its commit lock, which Stop also takes. A
// Sink must not call back into the Poller.
type Sink interface {
	PollStarted(id domain.JobID)
	PollResolved(id domain.JobID, normalized, html string)
	PollFailed(id domain.JobID, message string)
}

type IDStore interface {
	Save(ctx context.Context, id domain.JobID, createdAt time.Time) error
}

type Outcome struct {
	ID         domain.JobID
	Normalized string
	HTML       string
	// Message is the user-facing text when no result was produced.
	Message  string
	Attempts int
}

type Poller struct {
	opts     Options
	client   *http.Client
	renderer *render.Renderer
	ids      IDStore
	pub      bus.Publisher
	sink     Sink
	clock    clock.Clock
	logger   *slog.Logger

	// commitMu serializes the side effects of a finished poll with Stop, so nothing is written
	// once Stop returns. It is always taken before mu.
	commitMu sync.Mutex

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelCauseFunc
	state  State
}

type Deps struct {
	Client   *http.Client
	Renderer *render.Renderer
	IDs      IDStore
	Bus      bus.Publisher
	Sink     Sink
	Clock    clock.Clock
	Logger   *slog.Logger
}

func New(opts Options, deps Deps) *Poller {
	p := &Poller{
		opts:     opts,
		client:   deps.Client,
		renderer: deps.Renderer,
		ids:      deps.IDs,
		pub:      deps.Bus,
		sink:     deps.Sink,
		clock:    clock.OrReal(deps.Clock),
		logger:   deps.Logger,
		state:    StateIdle,
	}
	if p.client == nil {
		p.client = fetch.NewClient(nil)
	}
	if p.renderer == nil {
		p.renderer = render.New()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stop cancels the active poll, if any. Nothing it would have reported is delivered afterwards;
// a commit already in progress (store write, broadcast) is waited for.
func (p *Poller) Stop() {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	if p.cancel != nil {
		p.cancel(ErrStopped)
		p.cancel = nil
		p.state = StateCancelled
	}
}

// begin supersedes any running poll and returns the new generation with its context. It refuses
// when ctx is already done, so a caller that was itself cancelled cannot displace a newer poll.
func (p *Poller) begin(ctx context.Context) (uint64, context.Context, context.CancelCauseFunc, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx.Err() != nil {
		return 0, nil, nil, false
	}
	if p.cancel != nil {
		p.cancel(ErrSuperseded)
	}
	p.gen++
	pctx, cancel := context.WithCancelCause(ctx)
	p.cancel = cancel
	p.state = StatePolling
	return p.gen, pctx, cancel, true
}

func (p *Poller) end(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen == gen {
		p.cancel = nil
	}
}

// ifCurrent runs fn under the lock only if gen is still the active poll.
func (p *Poller) ifCurrent(gen uint64, fn func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return false
	}
	fn()
	return true
}

// Poll queries the status endpoint for id until a result is ready. It is PollAfter without an
// initial delay.
func (p *Poller) Poll(ctx context.Context, id domain.JobID) (Outcome, error) {
	return p.PollAfter(ctx, id, 0)
}

// PollAfter waits delay, then polls. The wait belongs to the poll, so a newer poll or Stop
// cancels it too.
//
// It returns domain.ErrCancelled when superseded, stopped or when ctx ends; the caller should
// drop that silently. A terminal status returns *domain.ServerError and exhaustion returns
// domain.ErrNoResultProduced, both with Outcome.Message set for display.
func (p *Poller) PollAfter(ctx context.Context, id domain.JobID, delay time.Duration) (Outcome, error) {
	if !id.Valid {
		return Outcome{}, domain.ErrNoJobID
	}
	gen, pctx, cancel, ok := p.begin(ctx)
	if !ok {
		return Outcome{}, domain.ErrCancelled
	}
	defer cancel(nil)
	defer p.end(gen)

	pctx, span := obs.Tracer("docbridge/poll").Start(pctx, "poll.until_ready")
	defer span.End()
	span.SetAttributes(attribute.Int64("job.id", id.Value))

	start := time.Now()
	log := p.logger.With("job_id", id.String(), "gen", gen)
	p.ifCurrent(gen, func() {
		if p.sink != nil {
			p.sink.PollStarted(id)
		}
	})

	if delay > 0 {
		if err := p.clock.Sleep(pctx, delay); err != nil {
			return p.cancelled(gen, start, log)
		}
	}

	out := Outcome{ID: id}
	var last attemptResult
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := p.clock.Sleep(pctx, p.opts.Interval); err != nil {
				return p.cancelled(gen, start, log)
			}
		}
		out.Attempts = attempt
		res := p.attempt(pctx, id)
		obs.RecordPollAttempt(res.kind.String())
		log.Debug("poll.attempt", "attempt", attempt, "result", res.kind.String(), "status", res.status)

		switch res.kind {
		case kindCancelled:
			return p.cancelled(gen, start, log)
		case kindResolved:
			out.Normalized, out.HTML = res.normalized, res.html
			if !p.resolve(pctx, gen, id, out) {
				return p.cancelled(gen, start, log)
			}
			span.SetAttributes(attribute.Int("poll.attempts", attempt))
			obs.RecordPoll(start, string(StateResolved))
			log.Info("poll.resolved", "attempts", attempt, "elapsed_ms", time.Since(start).Milliseconds())
			return out, nil
		case kindServer:
			out.Message = fmt.Sprintf("Server returned %d — aborting.", res.status)
			if !p.fail(gen, id, out.Message) {
				return p.cancelled(gen, start, log)
			}
			obs.RecordPoll(start, string(StateFailed))
			log.Warn("poll.terminal_status", "status", res.status, "attempts", attempt)
			return out, &domain.ServerError{Status: res.status}
		}
		last = res
	}

	out.Message = last.kind.exhaustedMessage()
	if !p.fail(gen, id, out.Message) {
		return p.cancelled(gen, start, log)
	}
	obs.RecordPoll(start, string(StateFailed))
	log.Warn("poll.exhausted", "attempts", out.Attempts, "last", last.kind.String(), "error", last.err)
	return out, domain.ErrNoResultProduced
}

func (p *Poller) cancelled(gen uint64, start time.Time, log *slog.Logger) (Outcome, error) {
	p.ifCurrent(gen, func() { p.state = StateCancelled })
	obs.RecordPoll(start, string(StateCancelled))
	log.Debug("poll.cancelled")
	return Outcome{}, domain.ErrCancelled
}

// commit checks the generation and records state under mu, then runs fn holding only commitMu:
// State stays responsive during a slow store write or broadcast, while Stop and other commits
// wait for it.
func (p *Poller) commit(gen uint64, state State, fn func()) bool {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()
	if !p.ifCurrent(gen, func() { p.state = state }) {
		return false
	}
	fn()
	return true
}

// resolve re-affirms the identifier and reports the result. A superseded poll commits nothing.
func (p *Poller) resolve(ctx context.Context, gen uint64, id domain.JobID, out Outcome) bool {
	return p.commit(gen, StateResolved, func() {
		if p.ids != nil {
			if err := p.ids.Save(context.WithoutCancel(ctx), id, p.clock.Now()); err != nil {
				p.logger.Error("poll.persist_error", "job_id", id.String(), "error", err)
			}
		}
		if p.pub != nil {
			p.pub.Publish(bus.JobIDChanged{ID: id})
		}
		if p.sink != nil {
			p.sink.PollResolved(id, out.Normalized, out.HTML)
		}
	})
}

func (p *Poller) fail(gen uint64, id domain.JobID, msg string) bool {
	return p.commit(gen, StateFailed, func() {
		if p.sink != nil {
			p.sink.PollFailed(id, msg)
		}
	})
}

type attemptKind int

const (
	kindNotReady attemptKind = iota
	kindResolved
	kindDecodeError
	kindRenderError
	kindNetwork
	kindServer
	kindCancelled
)

func (k attemptKind) String() string {
	switch k {
	case kindResolved:
		return "ok"
	case kindDecodeError:
		return "decode_error"
	case kindRenderError:
		return "render_error"
	case kindNetwork:
		return "network_error"
	case kindServer:
		return "server_error"
	case kindCancelled:
		return "cancelled"
	}
	return "not_ready"
}

func (k attemptKind) exhaustedMessage() string {
	switch k {
	case kindDecodeError:
		return MsgUnparseable
	case kindRenderError:
		return MsgRenderFailed
	case kindNetwork:
		return MsgFetchFailed
	}
	return MsgNoSummary
}

type attemptResult struct {
	kind       attemptKind
	status     int
	normalized string
	html       string
	err        error
}

func (p *Poller) retryable(status int) bool {
	for _, s := range p.opts.RetryableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (p *Poller) attempt(ctx context.Context, id domain.JobID) attemptResult {
	endpoint, err := statusURL(p.opts.URL, id)
	if err != nil {
		return attemptResult{kind: kindNetwork, err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return attemptResult{kind: kindNetwork, err: err}
	}
	req.Header.Set("Accept", "application/json, text/plain;q=0.9, */*;q=0.8")

	resp, err := fetch.Do(ctx, p.client, req, p.opts.RequestTimeout, "status", p.logger)
	if err != nil {
		if errors.Is(err, domain.ErrCancelled) {
			return attemptResult{kind: kindCancelled, err: err}
		}
		return attemptResult{kind: kindNetwork, err: err}
	}
	if p.retryable(resp.StatusCode) {
		return attemptResult{kind: kindNotReady, status: resp.StatusCode, err: domain.ErrNotReadyYet}
	}
	if !resp.OK() {
		return attemptResult{kind: kindServer, status: resp.StatusCode}
	}

	raw, err := normalize.FromBody(resp.ContentType(), resp.Body)
	if err != nil {
		return attemptResult{kind: kindDecodeError, status: resp.StatusCode, err: err}
	}
	if normalize.Empty(normalize.Candidate(raw)) {
		return attemptResult{kind: kindNotReady, status: resp.StatusCode, err: domain.ErrNotReadyYet}
	}
	normalized := normalize.Normalize(raw)
	if strings.TrimSpace(normalized) == "" {
		return attemptResult{kind: kindNotReady, status: resp.StatusCode, err: domain.ErrNotReadyYet}
	}
	html, err := p.renderer.Render(normalized)
	if err != nil {
		return attemptResult{kind: kindRenderError, status: resp.StatusCode, err: err}
	}
	return attemptResult{kind: kindResolved, status: resp.StatusCode, normalized: normalized, html: html}
}

func statusURL(raw string, id domain.JobID) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse status url: %w", err)
	}
	q := u.Query()
	q.Set("id", id.String())
	u.RawQuery = q.Encode()
	return u.String(), nil
}
