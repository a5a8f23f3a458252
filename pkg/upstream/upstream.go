// Package upstream performs the actual network fetches on behalf of the
// fetch strategies.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stefanjohn16/edgecache/pkg/cachestore"
)

// maxBodySize caps how much of an upstream body is buffered. Responses over
// the cap fail the fetch instead of exhausting memory.
const maxBodySize = 16 << 20

// Response is a fully buffered upstream response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports whether the response has a success status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status <= 299
}

// Entry converts the response to a cache entry stored at now.
func (r *Response) Entry(now time.Time) *cachestore.Entry {
	return &cachestore.Entry{
		Status:   r.Status,
		Header:   r.Header,
		Body:     r.Body,
		StoredAt: now,
	}
}

// FromEntry rebuilds a response from a cache entry.
func FromEntry(e *cachestore.Entry) *Response {
	return &Response{
		Status: e.Status,
		Header: e.Header,
		Body:   e.Body,
	}
}

// Upstream exchanges one request for one buffered response.
type Upstream interface {
	Do(ctx context.Context, req *http.Request) (*Response, error)
}

type HTTPUpstream struct {
	client *http.Client
}

// NewHTTPUpstream wraps client, or http.DefaultClient when client is nil.
// Redirects are not followed: the gateway caches exactly what the origin
// answered for each URL, redirect responses included.
func NewHTTPUpstream(client *http.Client) *HTTPUpstream {
	if client == nil {
		client = &http.Client{}
	}
	c := *client
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &HTTPUpstream{client: &c}
}

func (u *HTTPUpstream) Do(ctx context.Context, req *http.Request) (*Response, error) {
	resp, err := u.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("upstream body exceeds %d bytes", maxBodySize)
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, nil
}
