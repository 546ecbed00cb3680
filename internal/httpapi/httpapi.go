// Package httpapi exposes the mirror's single public route: downloading
// a crate tarball by name and version, verified against the checksum the
// index assigns to that release, coalescing concurrent misses through the
// fetch coordinator.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cratesmirror/mirror/internal/coordinator"
	"github.com/cratesmirror/mirror/internal/crate"
	"github.com/cratesmirror/mirror/internal/index"
	"github.com/cratesmirror/mirror/internal/metrics"
	"github.com/cratesmirror/mirror/internal/store"
)

// Server wires the index, content store, and fetch coordinator behind
// the download endpoint.
type Server struct {
	idx   *index.Store
	st    *store.Store
	coord *coordinator.Coordinator
}

// New builds a Server.
func New(idx *index.Store, st *store.Store, coord *coordinator.Coordinator) *Server {
	return &Server{idx: idx, st: st, coord: coord}
}

// Handler returns the mux Run/serve can hand to an http.Server. Uses the
// Go 1.22+ ServeMux method+wildcard pattern syntax, the same router the
// teacher reaches for in its own metrics/health endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/crates/{name}/{version}/download", s.handleDownload)
	return mux
}

// handleDownload: identity parse, index lookup (404 on miss), store
// read (200 on hit), otherwise submit to the coordinator (500 on
// overload), await the fetch, and re-read the store (200 on success,
// 500 if it's still missing).
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	version := r.PathValue("version")
	id := crate.Identity{Name: name, Version: version}

	checksum, ok := s.idx.Lookup(id)
	if !ok {
		metrics.RequestNotFound.Inc()
		http.Error(w, "crate not found in index", http.StatusNotFound)
		return
	}

	if data, ok := s.st.Get(checksum); ok {
		metrics.RequestHits.Inc()
		s.writeTarball(w, data)
		return
	}

	metrics.RequestMisses.Inc()
	meta := crate.Metadata{Identity: id, Checksum: checksum}
	sub, err := s.coord.Submit(meta)
	if err != nil {
		if errors.Is(err, coordinator.ErrOverloaded) {
			http.Error(w, "mirror overloaded, try again shortly", http.StatusInternalServerError)
			return
		}
		slog.Error("httpapi: submit failed", "crate", meta.String(), "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()
	if err := sub.Wait(ctx); err != nil {
		http.Error(w, "timed out waiting for fetch", http.StatusInternalServerError)
		return
	}

	data, ok := s.st.Get(checksum)
	if !ok {
		// The fetch finished but produced nothing usable (upstream
		// error, checksum mismatch): the worker already logged why.
		http.Error(w, "fetch failed", http.StatusInternalServerError)
		return
	}
	s.writeTarball(w, data)
}

func (s *Server) writeTarball(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/gzip")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
