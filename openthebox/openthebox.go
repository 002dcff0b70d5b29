// Package openthebox looks up Belgian company data and the most recent annual accounts for a
// VAT number.
package openthebox

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"docbridge/domain"
	"docbridge/fetch"
	"docbridge/normalize"
)

const DefaultBaseURL = "https://openthebox.be/api/companies"

var vatPattern = regexp.MustCompile(`^BE\d{10}$`)

// NormalizeVAT upper-cases v and checks it is BE followed by ten digits.
func NormalizeVAT(v string) (string, error) {
	vat := strings.ToUpper(strings.TrimSpace(v))
	if !vatPattern.MatchString(vat) {
		return "", domain.ErrInvalidVAT
	}
	return vat, nil
}

// LookupError reports a non-2xx answer for one half of the lookup.
type LookupError struct {
	Part   string
	Status int
	Body   string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s fetch failed: %s", e.Part, e.Body)
}

// Result holds the decoded payloads; a body that is not JSON is kept as nil.
type Result struct {
	Company        any `json:"company"`
	AnnualAccounts any `json:"annualAccounts"`
}

type Client struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

func New(baseURL string, client *http.Client, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = fetch.NewClient(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		timeout: 30 * time.Second,
		logger:  logger,
	}
}

// Lookup fetches the company record and its most recent annual accounts concurrently. A failed
// company lookup is reported before a failed accounts lookup.
func (c *Client) Lookup(ctx context.Context, vat string) (*Result, error) {
	vat, err := NormalizeVAT(vat)
	if err != nil {
		return nil, err
	}

	var company, accounts *fetch.Response
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		company, err = c.get(gctx, c.baseURL+"/"+vat)
		return err
	})
	g.Go(func() error {
		var err error
		accounts, err = c.get(gctx, c.baseURL+"/"+vat+"/annual-accounts/most-recent")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !company.OK() {
		return nil, &LookupError{Part: "Company", Status: company.StatusCode, Body: string(company.Body)}
	}
	if !accounts.OK() {
		return nil, &LookupError{Part: "Accounts", Status: accounts.StatusCode, Body: string(accounts.Body)}
	}

	res := &Result{}
	if v, err := normalize.Decode(company.Body); err == nil {
		res.Company = v
	}
	if v, err := normalize.Decode(accounts.Body); err == nil {
		res.AnnualAccounts = v
	}
	c.logger.Info("openthebox.lookup.ok", "vat", vat)
	return res, nil
}

func (c *Client) get(ctx context.Context, url string) (*fetch.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return fetch.Do(ctx, c.client, req, c.timeout, "lookup", c.logger)
}
