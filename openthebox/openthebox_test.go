package openthebox

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"docbridge/domain"
)

func TestNormalizeVAT(t *testing.T) {
	if v, err := NormalizeVAT(" be0123456789 "); err != nil || v != "BE0123456789" {
		t.Fatalf("got %q %v", v, err)
	}
	for _, bad := range []string{"", "BE123", "NL0123456789", "BE01234567890"} {
		if _, err := NormalizeVAT(bad); !errors.Is(err, domain.ErrInvalidVAT) {
			t.Fatalf("%q: got %v", bad, err)
		}
	}
}

func TestLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/companies/BE0123456789":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"name": "Acme NV"}`))
		case "/api/companies/BE0123456789/annual-accounts/most-recent":
			_, _ = w.Write([]byte(`not json`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	res, err := New(srv.URL+"/api/companies", srv.Client(), nil).Lookup(context.Background(), "be0123456789")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	m, ok := res.Company.(map[string]any)
	if !ok || m["name"] != "Acme NV" {
		t.Fatalf("company %+v", res.Company)
	}
	if res.AnnualAccounts != nil {
		t.Fatalf("non-JSON accounts should be nil, got %v", res.AnnualAccounts)
	}
}

func TestLookupReportsCompanyFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("nope"))
	}))
	defer srv.Close()

	_, err := New(srv.URL, srv.Client(), nil).Lookup(context.Background(), "BE0123456789")
	var le *LookupError
	if !errors.As(err, &le) || le.Part != "Company" || le.Status != 404 {
		t.Fatalf("got %v", err)
	}
	if err.Error() != "Company fetch failed: nope" {
		t.Fatalf("message %q", err.Error())
	}
}

func TestLookupInvalidVATSkipsNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	if _, err := New(srv.URL, srv.Client(), nil).Lookup(context.Background(), "BE12"); !errors.Is(err, domain.ErrInvalidVAT) {
		t.Fatalf("got %v", err)
	}
	if called {
		t.Fatalf("network touched")
	}
}
