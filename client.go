package adpulse

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// Source is the remote metrics service as seen by the coordinator.
type Source interface {
	// Campaigns returns the validated campaign list.
	Campaigns(ctx context.Context) ([]Campaign, error)

	// Snapshot returns the validated delta for campaign id at the given
	// 0-based iteration.
	Snapshot(ctx context.Context, id int64, iteration int) (Snapshot, error)
}

// Client talks to the remote service over HTTP.
type Client struct {
	base       *url.URL
	fetcher    *Fetcher
	listPolicy RetryPolicy
	pollPolicy RetryPolicy
}

// NewClient creates a Client rooted at baseURL.
func NewClient(baseURL string, fetcher *Fetcher, listPolicy, pollPolicy RetryPolicy) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	if fetcher == nil {
		fetcher = NewFetcher(nil, nil)
	}
	return &Client{
		base:       base,
		fetcher:    fetcher,
		listPolicy: listPolicy,
		pollPolicy: pollPolicy,
	}, nil
}

// Campaigns fetches GET /campaigns.
func (c *Client) Campaigns(ctx context.Context) ([]Campaign, error) {
	target := c.base.JoinPath("campaigns").String()

	body, err := c.fetcher.FetchWithRetry(ctx, target, c.listPolicy)
	if err != nil {
		return nil, err
	}

	campaigns, err := ValidateCampaignList(body)
	if err != nil {
		return nil, invalidPayload(target, err)
	}
	return campaigns, nil
}

// Snapshot fetches GET /campaigns/{id}?number={iteration}.
func (c *Client) Snapshot(ctx context.Context, id int64, iteration int) (Snapshot, error) {
	u := c.base.JoinPath("campaigns", strconv.FormatInt(id, 10))
	q := u.Query()
	q.Set("number", strconv.Itoa(iteration))
	u.RawQuery = q.Encode()
	target := u.String()

	body, err := c.fetcher.FetchWithRetry(ctx, target, c.pollPolicy)
	if err != nil {
		return Snapshot{}, err
	}

	snap, err := ValidateSnapshot(body)
	if err != nil {
		return Snapshot{}, invalidPayload(target, err)
	}
	return snap, nil
}

func invalidPayload(target string, err error) error {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	return &FetchError{Endpoint: target, Kind: KindValidation, Attempts: 1, Err: ve}
}

// Compile-time check.
var _ Source = (*Client)(nil)
