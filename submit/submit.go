// Package submit uploads a document to the processing service and returns the job identifier it
// assigns.
package submit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"docbridge/bus"
	"docbridge/clock"
	"docbridge/domain"
	"docbridge/fetch"
	"docbridge/normalize"
	"docbridge/obs"
)

// FileField is the multipart field the upload endpoint reads the document from.
const FileField = "data"

type Document struct {
	Name string
	Data []byte
}

func (d Document) empty() bool { return strings.TrimSpace(d.Name) == "" && len(d.Data) == 0 }

func (d Document) contentType() string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(d.Name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

type Options struct {
	URL     string
	Timeout time.Duration
	// Retries is the number of additional attempts after the first.
	Retries int
	Backoff time.Duration
}

func DefaultOptions(uploadURL string) Options {
	return Options{
		URL:     uploadURL,
		Timeout: 120 * time.Second,
		Retries: 2,
		Backoff: time.Second,
	}
}

// IDStore is the part of the persisted state the submitter writes.
type IDStore interface {
	Save(ctx context.Context, id domain.JobID, createdAt time.Time) error
}

type Submitter struct {
	opts   Options
	client *http.Client
	ids    IDStore
	pub    bus.Publisher
	clock  clock.Clock
	logger *slog.Logger
}

func New(opts Options, client *http.Client, ids IDStore, pub bus.Publisher, clk clock.Clock, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = fetch.NewClient(nil)
	}
	return &Submitter{opts: opts, client: client, ids: ids, pub: pub, clock: clock.OrReal(clk), logger: logger}
}

// Submit uploads doc with the response locale lang. It validates before touching the network,
// retries transport and server failures up to the configured budget, and treats a successful
// response without a usable identifier as terminal. On success the identifier is persisted and
// broadcast.
func (s *Submitter) Submit(ctx context.Context, doc Document, lang domain.Locale) (domain.JobID, error) {
	if doc.empty() {
		return domain.JobID{}, domain.ErrNoFileSelected
	}

	ctx, span := obs.Tracer("docbridge/submit").Start(ctx, "submit.upload")
	defer span.End()
	span.SetAttributes(attribute.String("doc.name", doc.Name), attribute.Int("doc.bytes", len(doc.Data)))

	if lang == "" {
		lang = domain.DefaultLocale
	}
	endpoint, err := withQuery(s.opts.URL, "lang", string(lang))
	if err != nil {
		return domain.JobID{}, err
	}

	attempt := 0
	op := func() (domain.JobID, error) {
		attempt++
		id, err := s.attempt(ctx, endpoint, doc)
		obs.RecordSubmitAttempt(err)
		if err != nil {
			s.logger.Warn("submit.attempt_failed", "attempt", attempt, "error", err)
		}
		return id, err
	}

	id, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(s.opts.Backoff)),
		backoff.WithMaxTries(uint(s.opts.Retries+1)),
	)
	if err != nil {
		err = s.finalError(ctx, err)
		if !errors.Is(err, domain.ErrCancelled) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return domain.JobID{}, err
	}

	if ctx.Err() != nil {
		return domain.JobID{}, domain.ErrCancelled
	}
	now := s.clock.Now()
	if s.ids != nil {
		if err := s.ids.Save(ctx, id, now); err != nil {
			s.logger.Error("submit.persist_error", "job_id", id.String(), "error", err)
		}
	}
	if s.pub != nil {
		s.pub.Publish(bus.JobIDChanged{ID: id})
	}
	span.SetAttributes(attribute.Int64("job.id", id.Value))
	s.logger.Info("submit.ok", "job_id", id.String(), "attempts", attempt)
	return id, nil
}

func (s *Submitter) finalError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, domain.ErrCancelled) {
		return domain.ErrCancelled
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	return err
}

func (s *Submitter) attempt(ctx context.Context, endpoint string, doc Document) (domain.JobID, error) {
	body, contentType, err := multipartBody(doc)
	if err != nil {
		return domain.JobID{}, backoff.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return domain.JobID{}, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := fetch.Do(ctx, s.client, req, s.opts.Timeout, "upload", s.logger)
	if err != nil {
		if errors.Is(err, domain.ErrCancelled) {
			return domain.JobID{}, backoff.Permanent(err)
		}
		return domain.JobID{}, err
	}
	if !resp.OK() {
		return domain.JobID{}, &domain.ServerError{Status: resp.StatusCode}
	}

	raw, err := normalize.FromBody(resp.ContentType(), resp.Body)
	if err != nil {
		// A JSON reply that does not decode carries no identifier, even if its text holds digits.
		s.logger.Warn("submit.bad_json", "error", err, "bytes", len(resp.Body))
		return domain.JobID{}, backoff.Permanent(domain.ErrNoIdentifierReturned)
	}
	id, ok := normalize.ExtractID(raw)
	if !ok {
		s.logger.Warn("submit.no_identifier", "content_type", resp.ContentType(), "bytes", len(resp.Body))
		return domain.JobID{}, backoff.Permanent(domain.ErrNoIdentifierReturned)
	}
	return id, nil
}

// multipartBody is rebuilt for every attempt since a request body can only be read once.
func multipartBody(doc Document) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     FileField,
		"filename": filepath.Base(doc.Name),
	}))
	h.Set("Content-Type", doc.contentType())
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(doc.Data); err != nil {
		return nil, "", fmt.Errorf("write multipart part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func withQuery(raw, key, value string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
