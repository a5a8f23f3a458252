// Package cachestore defines the storage abstraction behind the gateway's
// named cache partitions. A Store owns any number of named partitions, each
// a key-value map from a normalized request identity to a stored response
// snapshot.
package cachestore

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CapturedAtHeader is the synthetic header that carries the capture
// timestamp of AI-content entries, RFC 3339 with nanoseconds.
const CapturedAtHeader = "X-Edgecache-Captured-At"

// Entry is a stored response snapshot.
type Entry struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// Clone returns a deep copy of e.
func (e *Entry) Clone() *Entry {
	c := &Entry{
		Status:   e.Status,
		Header:   make(http.Header, len(e.Header)),
		Body:     make([]byte, len(e.Body)),
		StoredAt: e.StoredAt,
	}
	for k, vs := range e.Header {
		c.Header[k] = append([]string(nil), vs...)
	}
	copy(c.Body, e.Body)
	return c
}

// Stamp records t as the entry's capture timestamp.
func (e *Entry) Stamp(t time.Time) {
	if e.Header == nil {
		e.Header = make(http.Header)
	}
	e.Header.Set(CapturedAtHeader, t.Format(time.RFC3339Nano))
}

// CapturedAt returns the capture timestamp, falling back to StoredAt when
// the entry was never stamped.
func (e *Entry) CapturedAt() time.Time {
	if s := e.Header.Get(CapturedAtHeader); s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
	}
	return e.StoredAt
}

// Partition is one named key-value partition. Implementations must make a
// single Put atomic with respect to concurrent Puts and Gets of the same
// key: readers see either the previous entry or the new one, never a mix.
// Concurrent writers race last-write-wins, which the gateway accepts.
type Partition interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Put(ctx context.Context, key string, e *Entry) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Len() int
}

// Store owns named partitions.
type Store interface {
	// OpenPartition returns the partition with the given name, creating it
	// if needed. Opening the same name twice returns the same partition.
	OpenPartition(name string) (Partition, error)

	// Partitions lists the names of all existing partitions.
	Partitions(ctx context.Context) ([]string, error)

	// DropPartition deletes a whole partition and its entries.
	DropPartition(ctx context.Context, name string) error

	io.Closer
}

// Key normalizes a request identity to a stable partition key. The fragment
// never reaches the server and is dropped; a default port and a trailing
// slash on the root path are normalized away so equivalent URLs share one
// entry.
func Key(method string, u *url.URL) string {
	host := u.Host
	switch u.Scheme {
	case "http":
		host = strings.TrimSuffix(host, ":80")
	case "https":
		host = strings.TrimSuffix(host, ":443")
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	b := strings.Builder{}
	b.Grow(len(method) + len(host) + len(path) + len(u.RawQuery) + 16)
	b.WriteString(strings.ToUpper(method))
	b.WriteByte(' ')
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(strings.ToLower(host))
	b.WriteString(path)
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	return b.String()
}
