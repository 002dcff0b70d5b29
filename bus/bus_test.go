package bus

import (
	"testing"

	"docbridge/domain"
)

func TestPublishReachesEverySubscriber(t *testing.T) {
	b := New()
	var got []string
	b.Subscribe(func(ev JobIDChanged) { got = append(got, "a:"+ev.ID.String()) })
	b.Subscribe(func(ev JobIDChanged) { got = append(got, "b:"+ev.ID.String()) })

	b.Publish(JobIDChanged{ID: domain.NewJobID(9)})
	if len(got) != 2 || got[0] != "a:9" || got[1] != "b:9" {
		t.Fatalf("got %v", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	calls := 0
	unsub := b.Subscribe(func(JobIDChanged) { calls++ })
	b.Publish(JobIDChanged{})
	unsub()
	b.Publish(JobIDChanged{})
	if calls != 1 {
		t.Fatalf("calls=%d", calls)
	}
}

func TestHandlerMayPublish(t *testing.T) {
	b := New()
	var seen []domain.JobID
	b.Subscribe(func(ev JobIDChanged) {
		seen = append(seen, ev.ID)
		if ev.ID.Valid && ev.ID.Value == 1 {
			b.Publish(JobIDChanged{})
		}
	})
	b.Publish(JobIDChanged{ID: domain.NewJobID(1)})
	if len(seen) != 2 || seen[1].Valid {
		t.Fatalf("got %+v", seen)
	}
}

func TestWireEventKeepsAbsence(t *testing.T) {
	b, err := encodeEvent(JobIDChanged{}, "o1")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(b) != `{"id":null,"origin":"o1"}` {
		t.Fatalf("got %s", b)
	}
	ev, err := decodeEvent(`{"id":12,"origin":"o2"}`)
	if err != nil || !ev.ID.Valid || ev.ID.Value != 12 || ev.Origin != "o2" {
		t.Fatalf("got %+v %v", ev, err)
	}
}
