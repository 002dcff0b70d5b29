package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"docbridge/domain"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadWith("", envMap(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	po := cfg.PollOptions()
	if po.MaxAttempts != 30 || po.Interval != 10*time.Second || po.RequestTimeout != 30*time.Second {
		t.Fatalf("poll options %+v", po)
	}
	if len(po.RetryableStatuses) != 3 {
		t.Fatalf("retryable %v", po.RetryableStatuses)
	}
	so := cfg.SubmitOptions()
	if so.Retries != 2 || so.Backoff != time.Second || so.Timeout != 2*time.Minute || so.URL != DefaultUploadURL {
		t.Fatalf("submit options %+v", so)
	}
	if cfg.Grace() != time.Minute || cfg.DefaultLocale() != domain.LocaleNL {
		t.Fatalf("grace %v locale %v", cfg.Grace(), cfg.DefaultLocale())
	}
}

func TestFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docbridge.yaml")
	yml := `
endpoints:
  status: https://example.test/status
locale: FR
poll:
  max_attempts: 10
  retryable_statuses: [404]
store:
  backend: redis
  redis_addr: localhost:6379
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadWith(path, envMap(map[string]string{
		"POLL_MAX_ATTEMPTS":       "5",
		"POLL_RETRYABLE_STATUSES": "404, 202",
		"UPLOAD_RETRIES":          "-1",
		"BUS_MIRROR":              "true",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Endpoints.Status != "https://example.test/status" || cfg.Endpoints.Upload != DefaultUploadURL {
		t.Fatalf("endpoints %+v", cfg.Endpoints)
	}
	if cfg.Poll.MaxAttempts != 5 {
		t.Fatalf("env should win over file: %d", cfg.Poll.MaxAttempts)
	}
	if got := cfg.Poll.RetryableStatuses; len(got) != 2 || got[0] != 404 || got[1] != 202 {
		t.Fatalf("statuses %v", got)
	}
	if cfg.Upload.Retries != 2 {
		t.Fatalf("negative env value should be ignored: %d", cfg.Upload.Retries)
	}
	if cfg.DefaultLocale() != domain.LocaleFR || cfg.Store.Backend != "redis" || !cfg.Store.MirrorBus {
		t.Fatalf("cfg %+v", cfg)
	}
}

func TestInvalid(t *testing.T) {
	if _, err := LoadWith("", envMap(map[string]string{"DOCBRIDGE_LANG": "DE"})); err == nil {
		t.Fatalf("unsupported locale accepted")
	}
	if _, err := LoadWith(filepath.Join(t.TempDir(), "missing.yaml"), envMap(nil)); err == nil {
		t.Fatalf("missing file accepted")
	}
}

func TestBadStatusListFallsBack(t *testing.T) {
	cfg, err := LoadWith("", envMap(map[string]string{"POLL_RETRYABLE_STATUSES": "404,abc"}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Poll.RetryableStatuses) != 3 {
		t.Fatalf("got %v", cfg.Poll.RetryableStatuses)
	}
}
