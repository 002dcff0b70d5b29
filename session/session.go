// Package session drives one user's document flow: upload, wait for the summary, resume or clear
// a saved job. It owns the Job lifecycle and the view state shown by the presentation layer.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"docbridge/bus"
	"docbridge/domain"
	"docbridge/poll"
	"docbridge/render"
	"docbridge/store"
	"docbridge/submit"
)

// MsgNoIdentifier is shown when the upload was accepted without a usable job id.
const MsgNoIdentifier = "Upload succeeded but could not extract a numeric ID."

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseUploading Phase = "uploading"
	PhaseWaiting   Phase = "waiting"
	PhaseReady     Phase = "ready"
	PhaseError     Phase = "error"
)

// View is what the presentation layer renders. HTML is always safe markup, whether it holds the
// summary or a message.
type View struct {
	Phase      Phase
	JobID      domain.JobID
	Locale     domain.Locale
	Message    string
	Normalized string
	HTML       string
}

type Submitter interface {
	Submit(ctx context.Context, doc submit.Document, lang domain.Locale) (domain.JobID, error)
}

type Poller interface {
	PollAfter(ctx context.Context, id domain.JobID, delay time.Duration) (poll.Outcome, error)
	Stop()
}

type Deps struct {
	Submitter Submitter
	IDs       *store.JobIDStore
	Bus       *bus.Bus
	Renderer  *render.Renderer
	// Grace is the wait between a successful upload and the first status request.
	Grace  time.Duration
	Logger *slog.Logger
}

type Session struct {
	sub      Submitter
	ids      *store.JobIDStore
	bus      *bus.Bus
	renderer *render.Renderer
	grace    time.Duration
	logger   *slog.Logger
	poller   Poller

	mu        sync.Mutex
	job       domain.Job
	view      View
	observers map[int]func(View)
	nextObs   int
	// opGen identifies the running upload or resume; opCancel aborts it.
	opGen    uint64
	opCancel context.CancelCauseFunc
}

var errSuperseded = errors.New("superseded by a newer upload or resume")

func New(deps Deps) *Session {
	s := &Session{
		sub:       deps.Submitter,
		ids:       deps.IDs,
		bus:       deps.Bus,
		renderer:  deps.Renderer,
		grace:     deps.Grace,
		logger:    deps.Logger,
		observers: make(map[int]func(View)),
		view:      View{Phase: PhaseIdle, Locale: domain.DefaultLocale},
	}
	if s.renderer == nil {
		s.renderer = render.New()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Bind attaches the poller. The poller must have been built with this session as its Sink.
func (s *Session) Bind(p Poller) { s.poller = p }

// Observe registers fn for every view change. fn runs with the session lock held and must not
// call back into the session.
func (s *Session) Observe(fn func(View)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *Session) Job() domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job
}

// setView must be called with s.mu held.
func (s *Session) setView(v View) {
	v.Locale = s.view.Locale
	s.view = v
	for _, fn := range s.observers {
		fn(v)
	}
}

func (s *Session) messageView(phase Phase, id domain.JobID, msg string) View {
	return View{Phase: phase, JobID: id, Message: msg, HTML: s.renderer.Message(msg)}
}

func (s *Session) locale() domain.Locale {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.Locale
}

// Restore loads the saved job and locale and broadcasts the id so every observer starts from the
// same value.
func (s *Session) Restore(ctx context.Context) (domain.Job, bool, error) {
	locale, err := s.ids.LoadLocale(ctx)
	if err != nil {
		s.logger.Warn("session.locale_load_error", "error", err)
	}
	job, ok, err := s.ids.Load(ctx)
	if err != nil {
		return domain.Job{}, false, err
	}
	s.mu.Lock()
	s.view.Locale = locale
	if ok {
		s.job = job
		s.setView(View{Phase: PhaseIdle, JobID: job.ID})
	}
	s.mu.Unlock()

	s.publish(job.ID)
	return job, ok, nil
}

func (s *Session) SetLocale(ctx context.Context, l domain.Locale) error {
	if err := s.ids.SaveLocale(ctx, l); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.Locale = l
	return nil
}

// beginOp aborts the upload or resume in flight and makes the caller the current one. The
// returned func releases the handle.
func (s *Session) beginOp(ctx context.Context) (uint64, context.Context, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supersedeLocked()
	gen := s.opGen
	octx, cancel := context.WithCancelCause(ctx)
	s.opCancel = cancel
	return gen, octx, func() {
		cancel(nil)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.opGen == gen {
			s.opCancel = nil
		}
	}
}

// supersedeLocked must be called with s.mu held.
func (s *Session) supersedeLocked() {
	if s.opCancel != nil {
		s.opCancel(errSuperseded)
		s.opCancel = nil
	}
	s.opGen++
}

func (s *Session) stopPoller() {
	if s.poller != nil {
		s.poller.Stop()
	}
}

// Upload submits doc and waits for its summary. A newer Upload, Resume or Clear supersedes it:
// its submit and poll are cancelled and it returns domain.ErrCancelled without touching the view.
// Validation failures and terminal errors end up in the view as messages and are also returned.
func (s *Session) Upload(ctx context.Context, doc submit.Document) error {
	locale := s.locale()
	if doc.Name == "" && len(doc.Data) == 0 {
		s.mu.Lock()
		s.setView(s.messageView(PhaseError, domain.JobID{}, locale.SelectFileFirst()))
		s.mu.Unlock()
		return domain.ErrNoFileSelected
	}

	gen, octx, done := s.beginOp(ctx)
	defer done()

	s.stopPoller()
	if err := s.ids.Clear(octx); err != nil {
		s.logger.Warn("session.clear_error", "error", err)
	}
	s.publish(domain.JobID{})

	s.mu.Lock()
	if s.opGen != gen {
		s.mu.Unlock()
		return domain.ErrCancelled
	}
	s.job = domain.Job{}
	if err := s.job.Advance(domain.JobStateSubmitting); err != nil {
		s.mu.Unlock()
		return err
	}
	s.setView(View{Phase: PhaseUploading})
	s.mu.Unlock()

	id, err := s.sub.Submit(octx, doc, locale)

	s.mu.Lock()
	if s.opGen != gen {
		s.mu.Unlock()
		s.logger.Debug("session.upload_superseded", "job_id", id.String())
		return domain.ErrCancelled
	}
	if err != nil {
		if errors.Is(err, domain.ErrCancelled) {
			s.mu.Unlock()
			return err
		}
		msg := "Error: " + err.Error()
		if errors.Is(err, domain.ErrNoIdentifierReturned) {
			msg = MsgNoIdentifier
		}
		if aerr := s.job.Advance(domain.JobStateFailed); aerr != nil {
			s.mu.Unlock()
			return errors.Join(err, aerr)
		}
		s.setView(s.messageView(PhaseError, domain.JobID{}, msg))
		s.mu.Unlock()
		s.logger.Warn("session.upload_failed", "error", err)
		return err
	}

	s.job.ID = id
	s.job.CreatedAt = time.Now()
	if err := s.job.Advance(domain.JobStateSubmitted); err != nil {
		s.mu.Unlock()
		return err
	}
	s.setView(s.messageView(PhaseWaiting, id, locale.UploadAccepted()))
	s.mu.Unlock()

	return s.await(octx, gen, id, s.grace)
}

// Resume polls again for the saved job, without the post-upload grace delay. Like Upload it
// supersedes any upload or resume in flight.
func (s *Session) Resume(ctx context.Context) error {
	gen, octx, done := s.beginOp(ctx)
	defer done()

	job, ok, err := s.ids.Load(octx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.opGen != gen {
		s.mu.Unlock()
		return domain.ErrCancelled
	}
	if !ok {
		s.setView(s.messageView(PhaseError, domain.JobID{}, s.view.Locale.SelectFileFirst()))
		s.mu.Unlock()
		return domain.ErrNoJobID
	}
	s.job = job
	s.setView(View{Phase: PhaseWaiting, JobID: job.ID})
	s.mu.Unlock()
	return s.await(octx, gen, job.ID, 0)
}

// await hands the job to the poller. A superseded caller's ctx is already cancelled, and the
// poller refuses to start under a cancelled ctx, so it cannot displace the newer poll.
func (s *Session) await(ctx context.Context, gen uint64, id domain.JobID, delay time.Duration) error {
	s.mu.Lock()
	if s.opGen != gen {
		s.mu.Unlock()
		return domain.ErrCancelled
	}
	err := s.job.Advance(domain.JobStatePolling)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = s.poller.PollAfter(ctx, id, delay)
	return err
}

// Clear forgets the saved job, cancels any poll and tells every observer the id is gone.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.supersedeLocked()
	s.mu.Unlock()
	s.stopPoller()
	if err := s.ids.Clear(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.job = domain.Job{}
	s.setView(View{Phase: PhaseIdle})
	s.mu.Unlock()
	s.publish(domain.JobID{})
	return nil
}

// Close is the teardown hook: no poll may update the session afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	s.supersedeLocked()
	s.mu.Unlock()
	s.stopPoller()
}

func (s *Session) publish(id domain.JobID) {
	if s.bus != nil {
		s.bus.Publish(bus.JobIDChanged{ID: id})
	}
}

// PollStarted, PollResolved and PollFailed make the session the poller's Sink. Each checks the
// job it belongs to and the state machine, so a late report for an old or finished job is
// dropped.

func (s *Session) PollStarted(id domain.JobID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job.ID != id || s.view.Phase == PhaseWaiting {
		return
	}
	s.setView(View{Phase: PhaseWaiting, JobID: id, Message: s.view.Message, HTML: s.view.HTML})
}

func (s *Session) PollResolved(id domain.JobID, normalized, html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job.ID != id {
		return
	}
	if err := s.job.Advance(domain.JobStateResolved); err != nil {
		s.logger.Debug("session.stale_result", "job_id", id.String(), "error", err)
		return
	}
	s.setView(View{Phase: PhaseReady, JobID: id, Normalized: normalized, HTML: html})
}

func (s *Session) PollFailed(id domain.JobID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job.ID != id {
		return
	}
	if err := s.job.Advance(domain.JobStateFailed); err != nil {
		s.logger.Debug("session.stale_failure", "job_id", id.String(), "error", err)
		return
	}
	s.setView(s.messageView(PhaseError, id, message))
}
