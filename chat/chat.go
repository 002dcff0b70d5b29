// Package chat sends single follow-up questions about a processed document and keeps the
// resulting conversation.
package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"docbridge/bus"
	"docbridge/clock"
	"docbridge/domain"
	"docbridge/fetch"
	"docbridge/normalize"
	"docbridge/obs"
)

// NoJSONReturned is the answer when the reply body is not a JSON value.
const NoJSONReturned = "No JSON returned"

type Options struct {
	URL     string
	Timeout time.Duration
}

func DefaultOptions(chatURL string) Options {
	return Options{URL: chatURL, Timeout: 120 * time.Second}
}

// Dispatcher sends one chat turn per question, without retries. It follows the current job
// identifier through the bus rather than reading the store on every turn.
type Dispatcher struct {
	opts   Options
	client *http.Client
	logger *slog.Logger
	log    *Log

	mu     sync.Mutex
	id     domain.JobID
	locale domain.Locale
}

func New(opts Options, client *http.Client, clk clock.Clock, logger *slog.Logger) *Dispatcher {
	if client == nil {
		client = fetch.NewClient(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		opts:   opts,
		client: client,
		logger: logger,
		log:    NewLog(clk),
		locale: domain.DefaultLocale,
	}
}

// Track keeps the dispatcher's job identifier in sync with broadcast changes.
func (d *Dispatcher) Track(b *bus.Bus) (unsubscribe func()) {
	return b.Subscribe(func(ev bus.JobIDChanged) { d.SetJobID(ev.ID) })
}

func (d *Dispatcher) SetJobID(id domain.JobID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.id = id
}

func (d *Dispatcher) JobID() domain.JobID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id
}

func (d *Dispatcher) SetLocale(l domain.Locale) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locale = l
}

func (d *Dispatcher) Log() *Log { return d.log }

// Send records question with a pending answer, asks the service and fills in the answer. Blank
// questions are ignored. On cancellation the entry stays pending and ErrCancelled is returned.
func (d *Dispatcher) Send(ctx context.Context, question string) (domain.ChatEntry, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return domain.ChatEntry{}, domain.ErrValidation
	}
	entry := d.log.Append(q)

	d.mu.Lock()
	id, locale := d.id, d.locale
	d.mu.Unlock()

	answer, err := d.Answer(ctx, id, locale, q)
	if err != nil {
		return entry, err
	}
	d.log.Resolve(entry.ID, answer)
	entry.Answer = answer
	return entry, nil
}

// Answer performs one chat turn for job id. Every outcome other than cancellation is a
// displayable answer: a missing id yields the locale's instruction without a network call and
// transport failures are reported in the answer text.
func (d *Dispatcher) Answer(ctx context.Context, id domain.JobID, locale domain.Locale, question string) (string, error) {
	if !id.Valid {
		obs.RecordChatTurn("no_job")
		return locale.SelectFileFirst(), nil
	}

	body, contentType, err := formBody(id, question)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.opts.URL, body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := fetch.Do(ctx, d.client, req, d.opts.Timeout, "chat", d.logger)
	if errors.Is(err, domain.ErrCancelled) {
		return "", err
	}
	if err != nil {
		obs.RecordChatTurn("error")
		return "Error: " + err.Error(), nil
	}

	raw, err := normalize.Decode(resp.Body)
	if err != nil || raw == nil {
		obs.RecordChatTurn("no_json")
		d.logger.Warn("chat.no_json", "job_id", id.String(), "status", resp.StatusCode, "bytes", len(resp.Body))
		return NoJSONReturned, nil
	}
	obs.RecordChatTurn("ok")
	if m, ok := raw.(map[string]any); ok {
		if out, ok := m["output"]; ok {
			return normalize.Chat(out), nil
		}
	}
	return normalize.Chat(raw), nil
}

func formBody(id domain.JobID, question string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"chatInput", question},
		{"messages[0][role]", "user"},
		{"messages[0][content]", question},
		{"executionId", id.String()},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f[0], err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
