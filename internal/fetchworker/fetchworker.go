// Package fetchworker runs the fixed-size pool of workers that pull tasks
// off the fetch coordinator's queue: download from upstream, verify the
// SHA-256 digest against the index's authoritative checksum, persist into
// the content store, and release every waiting subscriber.
package fetchworker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cratesmirror/mirror/internal/coordinator"
	"github.com/cratesmirror/mirror/internal/crate"
	"github.com/cratesmirror/mirror/internal/metrics"
	"github.com/cratesmirror/mirror/internal/store"
)

// ErrUpstreamFetch wraps any failure to retrieve the tarball from
// upstream (network error or non-200 status).
var ErrUpstreamFetch = errors.New("fetchworker: upstream fetch failed")

// ErrChecksumMismatch names the failure where the downloaded bytes'
// SHA-256 does not match the index's checksum for the task. The pool
// logs that case with the expected and actual hex; it does not return
// or wrap this value.
var ErrChecksumMismatch = errors.New("fetchworker: checksum mismatch")

// ErrStoreError names a failure persisting verified bytes into the
// content store. The pool logs the store's own error for that case; it
// does not return or wrap this value.
var ErrStoreError = errors.New("fetchworker: store error")

// URLTemplate renders the upstream download URL for a crate, given the
// configured template containing {crate} and {version} placeholders.
type URLTemplate struct {
	template string
}

// NewURLTemplate validates that template contains both required
// placeholders and that substituting sample values yields a valid URI.
// Called at startup; a failure here is fatal.
func NewURLTemplate(template string) (URLTemplate, error) {
	t := URLTemplate{template: template}
	if !strings.Contains(template, "{crate}") || !strings.Contains(template, "{version}") {
		return URLTemplate{}, fmt.Errorf("fetchworker: upstream_dl template %q must contain {crate} and {version}", template)
	}
	sample := t.Render("sample-crate", "0.0.0")
	if _, err := http.NewRequest(http.MethodGet, sample, nil); err != nil {
		return URLTemplate{}, fmt.Errorf("fetchworker: upstream_dl template %q is not a valid URI: %w", template, err)
	}
	return t, nil
}

// Render substitutes the crate name and version into the template.
func (t URLTemplate) Render(name, version string) string {
	out := strings.ReplaceAll(t.template, "{crate}", name)
	out = strings.ReplaceAll(out, "{version}", version)
	return out
}

// Pool runs N long-lived workers consuming tasks from a coordinator.
type Pool struct {
	n       int
	store   *store.Store
	coord   *coordinator.Coordinator
	client  *http.Client
	tmpl    URLTemplate
	timeout time.Duration
}

// NewPool builds a worker pool. The HTTP client deliberately disables
// transparent response decompression: the tarball body is itself gzip,
// and some upstream CDNs set content-encoding: gzip on an already-gzipped
// payload, so Go's default transparent gunzip would hand workers the
// extracted archive and silently break checksum verification.
func NewPool(n int, st *store.Store, coord *coordinator.Coordinator, tmpl URLTemplate, timeout time.Duration) *Pool {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   n * 2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    true,
	}
	return &Pool{
		n:       n,
		store:   st,
		coord:   coord,
		client:  &http.Client{Transport: transport, Timeout: timeout},
		tmpl:    tmpl,
		timeout: timeout,
	}
}

// Run starts the N workers and blocks until ctx is canceled. Workers
// stop at cancellation; tasks still queued in the coordinator are not
// drained.
func (p *Pool) Run(ctx context.Context) {
	for i := 0; i < p.n; i++ {
		go p.worker(ctx, i)
	}
	<-ctx.Done()
}

func (p *Pool) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.coord.Tasks():
			if !ok {
				return
			}
			p.process(ctx, task)
		}
	}
}

func (p *Pool) process(ctx context.Context, task coordinator.Task) {
	meta := task.Meta
	start := time.Now()
	slog.Info("fetch task start", "crate", meta.String())

	// Quick recheck: the artifact may have been inserted while this task
	// sat in queue, e.g. by a pre-fetch pass that raced ahead of us.
	if _, ok := p.store.Get(meta.Checksum); ok {
		slog.Info("fetch task skip: already cached", "crate", meta.String())
		task.Pub.Finish()
		p.coord.Unregister(meta)
		metrics.FetchSkipped.Inc()
		return
	}

	body, err := p.download(ctx, meta)
	if err != nil {
		slog.Error("fetch task failed: upstream", "crate", meta.String(), "err", err)
		metrics.FetchFailed.WithLabelValues("upstream").Inc()
		task.Pub.Finish()
		p.coord.Unregister(meta)
		return
	}

	actual := crate.Checksum(sha256.Sum256(body))
	if actual != meta.Checksum {
		slog.Error("fetch task failed: checksum mismatch", "crate", meta.String(), "expected", meta.Checksum.String(), "actual", actual.String())
		metrics.FetchFailed.WithLabelValues("checksum").Inc()
		task.Pub.Finish()
		p.coord.Unregister(meta)
		return
	}

	if _, err := p.store.Put(meta.Checksum, body); err != nil {
		slog.Error("fetch task failed: store", "crate", meta.String(), "err", err)
		metrics.FetchFailed.WithLabelValues("store").Inc()
		task.Pub.Finish()
		p.coord.Unregister(meta)
		return
	}

	dur := time.Since(start)
	slog.Info("fetch task done", "crate", meta.String(), "size", crate.BytesSize(len(body)).String(), "elapsed", dur.String())
	metrics.FetchSucceeded.Inc()
	metrics.FetchBytes.Add(float64(len(body)))
	metrics.FetchDuration.Observe(dur.Seconds())

	task.Pub.Finish()
	p.coord.Unregister(meta)
}

func (p *Pool) download(ctx context.Context, meta crate.Metadata) ([]byte, error) {
	url := p.tmpl.Render(meta.Name, meta.Version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFetch, err)
	}
	req.Header.Set("User-Agent", "cratesmirror/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d for %s", ErrUpstreamFetch, resp.StatusCode, url)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrUpstreamFetch, err)
	}
	return buf.Bytes(), nil
}
