package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/stefanjohn16/edgecache/pkg/router"
	"github.com/stefanjohn16/edgecache/pkg/upstream"
)

// maxMutationBody caps a queued mutation payload.
const maxMutationBody = 1 << 20

// hopHeaders are stripped before forwarding, per RFC 9110.
var hopHeaders = []string{
	"Connection", "Proxy-Connection", "Keep-Alive", "Te",
	"Trailer", "Transfer-Encoding", "Upgrade",
}

// ServeHTTP is the fetch entry point: classify, dispatch to a strategy,
// write the outcome. Each request's follow-up work (cache writes,
// background refreshes) is tracked so shutdown waits for it.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	outbound, body, err := w.outboundRequest(req)
	if err != nil {
		w.opts.Logger.Warn("bad inbound request", zap.Error(err))
		http.Error(rw, "bad request", http.StatusBadRequest)
		return
	}

	class := w.opts.Router.Classify(outbound)
	ctx := req.Context()

	switch class {
	case router.ClassPassThrough:
		w.passThrough(ctx, rw, outbound)
	case router.ClassNavigation:
		writeResponse(rw, w.opts.Strategies.Navigation(ctx, outbound))
	case router.ClassAIContent:
		writeResponse(rw, w.opts.Strategies.AIContent(ctx, outbound))
	case router.ClassStaticAsset:
		resp, err := w.opts.Strategies.StaticAsset(ctx, outbound)
		if err != nil {
			http.Error(rw, "upstream unavailable", http.StatusBadGateway)
			return
		}
		writeResponse(rw, resp)
	case router.ClassAPI:
		w.serveAPI(ctx, rw, outbound, body)
	}
}

func (w *Worker) serveAPI(ctx context.Context, rw http.ResponseWriter, req *http.Request, body []byte) {
	resp, err := w.opts.Strategies.API(ctx, req)
	if err == nil {
		writeResponse(rw, resp)
		return
	}

	// The strategy's job ended at "could not reach the network". For
	// known mutation endpoints the application layer queues the payload
	// for later delivery instead of losing it.
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		if queue, ok := w.queueFor(req.URL.Path); ok && w.opts.Outbox != nil {
			rec, qerr := w.opts.Outbox.Enqueue(ctx, queue, "", normalizeJSON(body))
			if qerr != nil {
				w.opts.Logger.Error("mutation lost: enqueue failed",
					zap.String("queue", queue), zap.Error(qerr))
				http.Error(rw, "upstream unavailable", http.StatusBadGateway)
				return
			}
			w.opts.Logger.Info("mutation queued for later delivery",
				zap.String("queue", queue), zap.String("id", rec.ID))
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(rw).Encode(map[string]interface{}{
				"queued": true,
				"id":     rec.ID,
				"queue":  queue,
			})
			return
		}
	}

	http.Error(rw, "upstream unavailable", http.StatusBadGateway)
}

func (w *Worker) queueFor(path string) (string, bool) {
	for prefix, queue := range w.opts.QueueRoutes {
		if strings.HasPrefix(path, prefix) {
			return queue, true
		}
	}
	return "", false
}

func (w *Worker) passThrough(ctx context.Context, rw http.ResponseWriter, req *http.Request) {
	resp, err := w.opts.Upstream.Do(ctx, req)
	if err != nil {
		w.opts.Logger.Warn("pass-through failed",
			zap.String("host", req.URL.Host), zap.Error(err))
		http.Error(rw, "upstream unavailable", http.StatusBadGateway)
		return
	}
	writeResponse(rw, resp)
}

// outboundRequest rewrites the inbound request to its upstream target. The
// body is fully buffered so it can be replayed into the outbox when
// delivery fails.
func (w *Worker) outboundRequest(req *http.Request) (*http.Request, []byte, error) {
	target := &url.URL{
		Scheme:   w.opts.Origin.Scheme,
		Host:     w.opts.Origin.Host,
		Path:     req.URL.Path,
		RawQuery: req.URL.RawQuery,
	}
	// Foreign hosts keep their own authority; only the gateway's origin
	// is rewritten to the configured upstream address.
	if host := req.Host; host != "" && !strings.EqualFold(hostOnly(host), hostOnly(w.opts.Origin.Host)) {
		target.Scheme = "https"
		target.Host = host
	}

	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		b, err := io.ReadAll(io.LimitReader(req.Body, maxMutationBody+1))
		if err != nil {
			return nil, nil, err
		}
		body = b
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	outbound, err := http.NewRequestWithContext(req.Context(), req.Method, target.String(), reader)
	if err != nil {
		return nil, nil, err
	}

	outbound.Header = req.Header.Clone()
	for _, h := range hopHeaders {
		outbound.Header.Del(h)
	}
	return outbound, body, nil
}

func hostOnly(host string) string {
	if i := strings.LastIndexByte(host, ':'); i >= 0 && !strings.Contains(host[i:], "]") {
		return host[:i]
	}
	return host
}

func writeResponse(rw http.ResponseWriter, resp *upstream.Response) {
	h := rw.Header()
	for k, vs := range resp.Header {
		h[k] = vs
	}
	rw.WriteHeader(resp.Status)
	_, _ = rw.Write(resp.Body)
}

func normalizeJSON(b []byte) json.RawMessage {
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	// Non-JSON bodies are wrapped so the outbox always stores JSON.
	wrapped, _ := json.Marshal(map[string]string{"raw": string(b)})
	return json.RawMessage(wrapped)
}
