package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"docbridge/bus"
	"docbridge/domain"
	"docbridge/poll"
	"docbridge/render"
	"docbridge/store"
	"docbridge/submit"
)

type instantClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *instantClock) Now() time.Time { return time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC) }

func (c *instantClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

type fixture struct {
	mu     sync.Mutex
	sess   *Session
	kv     *store.MemoryKV
	ids    *store.JobIDStore
	events []bus.JobIDChanged
	phases []Phase
	clock  *instantClock
}

func newFixture(t *testing.T, upload, status http.HandlerFunc) *fixture {
	t.Helper()
	up := httptest.NewServer(upload)
	st := httptest.NewServer(status)
	t.Cleanup(up.Close)
	t.Cleanup(st.Close)

	f := &fixture{kv: store.NewMemoryKV(), clock: &instantClock{}}
	f.ids = store.NewJobIDStore(f.kv)
	b := bus.New()
	b.Subscribe(func(ev bus.JobIDChanged) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, ev)
	})

	subOpts := submit.DefaultOptions(up.URL)
	subOpts.Backoff = time.Millisecond
	sub := submit.New(subOpts, up.Client(), f.ids, b, f.clock, nil)

	r := render.New()
	f.sess = New(Deps{Submitter: sub, IDs: f.ids, Bus: b, Renderer: r, Grace: time.Minute})
	p := poll.New(poll.DefaultOptions(st.URL), poll.Deps{
		Client:   st.Client(),
		Renderer: r,
		IDs:      f.ids,
		Bus:      b,
		Sink:     f.sess,
		Clock:    f.clock,
	})
	f.sess.Bind(p)
	f.sess.Observe(func(v View) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.phases = append(f.phases, v.Phase)
	})
	return f
}

func jsonHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

var doc = submit.Document{Name: "jaarrekening.pdf", Data: []byte("%PDF")}

func TestUploadResolves(t *testing.T) {
	f := newFixture(t, jsonHandler(`{"id": 42}`), jsonHandler(`{"summary": "Revenue is **up**"}`))
	if err := f.sess.Upload(context.Background(), doc); err != nil {
		t.Fatalf("upload: %v", err)
	}
	v := f.sess.View()
	if v.Phase != PhaseReady || !strings.Contains(v.HTML, "<strong>up</strong>") || v.JobID.Value != 42 {
		t.Fatalf("view %+v", v)
	}
	if f.sess.Job().State != domain.JobStateResolved {
		t.Fatalf("job %+v", f.sess.Job())
	}
	want := []Phase{PhaseUploading, PhaseWaiting, PhaseReady}
	if len(f.phases) != len(want) {
		t.Fatalf("phases %v", f.phases)
	}
	for i := range want {
		if f.phases[i] != want[i] {
			t.Fatalf("phases %v", f.phases)
		}
	}
	// cleared at start, set by the upload, re-affirmed by the poll
	if len(f.events) != 3 || f.events[0].ID.Valid || f.events[1].ID.Value != 42 || f.events[2].ID.Value != 42 {
		t.Fatalf("events %+v", f.events)
	}
	if job, ok, _ := f.ids.Load(context.Background()); !ok || job.ID.Value != 42 {
		t.Fatalf("id not kept after success")
	}
	if f.clock.sleeps[0] != time.Minute {
		t.Fatalf("grace delay missing: %v", f.clock.sleeps)
	}
}

func TestUploadWithoutFile(t *testing.T) {
	f := newFixture(t, jsonHandler(`{"id": 1}`), jsonHandler(`{}`))
	_ = f.kv.Set(context.Background(), store.KeyJobID, "5")

	err := f.sess.Upload(context.Background(), submit.Document{})
	if !errors.Is(err, domain.ErrNoFileSelected) {
		t.Fatalf("got %v", err)
	}
	if v := f.sess.View(); v.Phase != PhaseError || v.Message != "Selecteer eerst een PDF-bestand" {
		t.Fatalf("view %+v", v)
	}
	if _, ok, _ := f.ids.Load(context.Background()); !ok {
		t.Fatalf("validation failure must not clear the saved id")
	}
}

func TestUploadServerError(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, jsonHandler(`{}`))
	_ = f.sess.SetLocale(context.Background(), domain.LocaleFR)

	err := f.sess.Upload(context.Background(), doc)
	var se *domain.ServerError
	if !errors.As(err, &se) {
		t.Fatalf("got %v", err)
	}
	v := f.sess.View()
	if v.Phase != PhaseError || v.Message != "Error: Server error: 503" || v.Locale != domain.LocaleFR {
		t.Fatalf("view %+v", v)
	}
	if f.sess.Job().State != domain.JobStateFailed {
		t.Fatalf("job %+v", f.sess.Job())
	}
}

func TestUploadNoIdentifier(t *testing.T) {
	f := newFixture(t, jsonHandler(`{"ok": true}`), jsonHandler(`{}`))
	err := f.sess.Upload(context.Background(), doc)
	if !errors.Is(err, domain.ErrNoIdentifierReturned) {
		t.Fatalf("got %v", err)
	}
	if v := f.sess.View(); v.Message != MsgNoIdentifier {
		t.Fatalf("view %+v", v)
	}
}

func TestResumeAndStaleReports(t *testing.T) {
	f := newFixture(t, jsonHandler(`{"id": 1}`), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	ctx := context.Background()
	if err := f.sess.Resume(ctx); !errors.Is(err, domain.ErrNoJobID) {
		t.Fatalf("resume without id: %v", err)
	}

	_ = f.ids.Save(ctx, domain.NewJobID(7), time.Now())
	if err := f.sess.Resume(ctx); err == nil {
		t.Fatalf("expected terminal status error")
	}
	v := f.sess.View()
	if v.Phase != PhaseError || v.Message != "Server returned 400 — aborting." {
		t.Fatalf("view %+v", v)
	}
	if len(f.clock.sleeps) != 0 {
		t.Fatalf("resume should not wait: %v", f.clock.sleeps)
	}

	// a late result for the failed job and one for another job are both dropped
	f.sess.PollResolved(domain.NewJobID(7), "late", "<p>late</p>")
	f.sess.PollResolved(domain.NewJobID(8), "other", "<p>other</p>")
	if got := f.sess.View(); got.Phase != PhaseError {
		t.Fatalf("terminal state overwritten: %+v", got)
	}
}

func TestClear(t *testing.T) {
	f := newFixture(t, jsonHandler(`{"id": 3}`), jsonHandler(`{"output": "done"}`))
	ctx := context.Background()
	if err := f.sess.Upload(ctx, doc); err != nil {
		t.Fatalf("upload: %v", err)
	}
	f.events = nil
	if err := f.sess.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := f.ids.Load(ctx); ok {
		t.Fatalf("id survived clear")
	}
	if len(f.events) != 1 || f.events[0].ID.Valid {
		t.Fatalf("events %+v", f.events)
	}
	if f.sess.View().Phase != PhaseIdle {
		t.Fatalf("view %+v", f.sess.View())
	}
}

func TestRestoreBroadcasts(t *testing.T) {
	f := newFixture(t, jsonHandler(`{}`), jsonHandler(`{}`))
	ctx := context.Background()
	_ = f.ids.Save(ctx, domain.NewJobID(11), time.Now())
	_ = f.ids.SaveLocale(ctx, domain.LocaleFR)

	job, ok, err := f.sess.Restore(ctx)
	if err != nil || !ok || job.ID.Value != 11 {
		t.Fatalf("restore %+v %v %v", job, ok, err)
	}
	if len(f.events) != 1 || f.events[0].ID.Value != 11 {
		t.Fatalf("events %+v", f.events)
	}
	if v := f.sess.View(); v.Locale != domain.LocaleFR || v.JobID.Value != 11 {
		t.Fatalf("view %+v", v)
	}
}

func TestOverlappingUploadsLatestWins(t *testing.T) {
	var uploads int32
	arrived := make(chan int32, 2)
	release := make(chan struct{})
	upload := func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&uploads, 1)
		arrived <- n
		if n == 1 {
			select {
			case <-release:
			case <-r.Context().Done():
				return
			}
		}
		jsonHandler(fmt.Sprintf(`{"id": %d}`, n))(w, r)
	}
	status := func(w http.ResponseWriter, r *http.Request) {
		jsonHandler(fmt.Sprintf(`{"summary": "job %s"}`, r.URL.Query().Get("id")))(w, r)
	}
	f := newFixture(t, upload, status)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- f.sess.Upload(ctx, doc) }()
	<-arrived

	if err := f.sess.Upload(ctx, doc); err != nil {
		t.Fatalf("second upload: %v", err)
	}
	close(release)
	if err := <-first; !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("first upload should be superseded, got %v", err)
	}

	v := f.sess.View()
	if v.Phase != PhaseReady || v.JobID.Value != 2 || v.Normalized != "job 2" {
		t.Fatalf("view %+v", v)
	}
	if job := f.sess.Job(); job.ID.Value != 2 || job.State != domain.JobStateResolved {
		t.Fatalf("job %+v", job)
	}
	if job, ok, _ := f.ids.Load(ctx); !ok || job.ID.Value != 2 {
		t.Fatalf("stored job %+v", job)
	}
	f.mu.Lock()
	last := f.events[len(f.events)-1]
	f.mu.Unlock()
	if last.ID.Value != 2 {
		t.Fatalf("last broadcast %+v", last)
	}
}

func TestClearSupersedesUpload(t *testing.T) {
	arrived := make(chan struct{})
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-r.Context().Done()
	}, jsonHandler(`{}`))
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() { errc <- f.sess.Upload(ctx, doc) }()
	<-arrived
	if err := f.sess.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := <-errc; !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("got %v", err)
	}
	if v := f.sess.View(); v.Phase != PhaseIdle {
		t.Fatalf("superseded upload touched the view: %+v", v)
	}
}
