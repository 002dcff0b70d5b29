package domain

import (
	"errors"
	"testing"
	"time"
)

func TestJobAdvanceForwardOnly(t *testing.T) {
	var j Job
	for _, s := range []JobState{JobStateSubmitting, JobStateSubmitted, JobStatePolling, JobStateResolved} {
		if err := j.Advance(s); err != nil {
			t.Fatalf("advance to %s: %v", s, err)
		}
	}
	if err := j.Advance(JobStateFailed); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("terminal job moved: err=%v state=%s", err, j.State)
	}
	if j.State != JobStateResolved {
		t.Fatalf("state changed after rejected transition: %s", j.State)
	}
}

func TestJobCannotSkipSubmitted(t *testing.T) {
	j := Job{State: JobStateSubmitting}
	if err := j.Advance(JobStatePolling); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestRestoredJobCanPoll(t *testing.T) {
	j := NewRestoredJob(NewJobID(7), time.Now())
	if err := j.Advance(JobStatePolling); err != nil {
		t.Fatalf("restored job should poll: %v", err)
	}
}

func TestParseJobID(t *testing.T) {
	if id, ok := ParseJobID("42"); !ok || id.Value != 42 || !id.Valid {
		t.Fatalf("got %+v ok=%v", id, ok)
	}
	for _, in := range []string{"", "abc", "4.2"} {
		if id, ok := ParseJobID(in); ok || id.Valid {
			t.Fatalf("%q: expected absent id, got %+v", in, id)
		}
	}
	if (JobID{}).String() != "" {
		t.Fatalf("absent id must not render as 0")
	}
}

func TestParseLocale(t *testing.T) {
	if l, ok := ParseLocale(" fr "); !ok || l != LocaleFR {
		t.Fatalf("got %s ok=%v", l, ok)
	}
	if l, ok := ParseLocale("de"); ok || l != LocaleNL {
		t.Fatalf("got %s ok=%v", l, ok)
	}
}
