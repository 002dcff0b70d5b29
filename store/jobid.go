package store

import (
	"context"
	"fmt"
	"time"

	"docbridge/domain"
)

const (
	KeyJobID     = "nn_summary_id"
	KeyCreatedAt = "nn_summary_created_at"
	KeyLocale    = "selectedLanguage"
)

type batchSetter interface {
	SetMany(ctx context.Context, kv map[string]string) error
}

// JobIDStore is the persisted view of the current job. Writers are the submitter (new upload)
// and the poller (re-affirming on success); nothing clears it except an explicit Clear.
type JobIDStore struct {
	kv KV
}

func NewJobIDStore(kv KV) *JobIDStore {
	return &JobIDStore{kv: kv}
}

func (s *JobIDStore) Save(ctx context.Context, id domain.JobID, createdAt time.Time) error {
	if !id.Valid {
		return domain.ErrNoJobID
	}
	vals := map[string]string{
		KeyJobID:     id.String(),
		KeyCreatedAt: createdAt.UTC().Format(time.RFC3339Nano),
	}
	if b, ok := s.kv.(batchSetter); ok {
		if err := b.SetMany(ctx, vals); err != nil {
			return fmt.Errorf("save job id: %w", err)
		}
		return nil
	}
	for _, k := range []string{KeyJobID, KeyCreatedAt} {
		if err := s.kv.Set(ctx, k, vals[k]); err != nil {
			return fmt.Errorf("save %s: %w", k, err)
		}
	}
	return nil
}

// Load returns the stored job, restored at Submitted. A missing or unparseable id is reported
// as ok=false; a missing timestamp leaves CreatedAt zero.
func (s *JobIDStore) Load(ctx context.Context) (domain.Job, bool, error) {
	raw, ok, err := s.kv.Get(ctx, KeyJobID)
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("load job id: %w", err)
	}
	if !ok {
		return domain.Job{}, false, nil
	}
	id, ok := domain.ParseJobID(raw)
	if !ok {
		return domain.Job{}, false, nil
	}
	var createdAt time.Time
	if ts, ok, err := s.kv.Get(ctx, KeyCreatedAt); err != nil {
		return domain.Job{}, false, fmt.Errorf("load created at: %w", err)
	} else if ok {
		createdAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return domain.NewRestoredJob(id, createdAt), true, nil
}

func (s *JobIDStore) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, KeyJobID, KeyCreatedAt); err != nil {
		return fmt.Errorf("clear job id: %w", err)
	}
	return nil
}

// LoadLocale falls back to the default locale when nothing valid is stored.
func (s *JobIDStore) LoadLocale(ctx context.Context) (domain.Locale, error) {
	raw, ok, err := s.kv.Get(ctx, KeyLocale)
	if err != nil {
		return domain.DefaultLocale, fmt.Errorf("load locale: %w", err)
	}
	if !ok {
		return domain.DefaultLocale, nil
	}
	l, _ := domain.ParseLocale(raw)
	return l, nil
}

func (s *JobIDStore) SaveLocale(ctx context.Context, l domain.Locale) error {
	return s.kv.Set(ctx, KeyLocale, string(l))
}
