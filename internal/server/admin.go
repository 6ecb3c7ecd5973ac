package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/reservoir-ai/reservoir/internal/apierror"
	"github.com/reservoir-ai/reservoir/pkg/memory"
)

// maxImportLine bounds a single JSON line in an import stream.
const maxImportLine = 4 << 20 // 4 MiB

// handleView returns the last {n} messages of a scope, oldest first.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	partition, instance := scope(r)
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || n <= 0 {
		s.fail(w, r, apierror.New(apierror.KindBadRequest, "view count must be a positive integer"))
		return
	}

	msgs, err := s.store.Recent(r.Context(), partition, instance, n)
	if err != nil {
		s.fail(w, r, apierror.Wrap(apierror.KindStorageUnavailable, err, "list recent messages"))
		return
	}

	// Recent returns newest first; a transcript reads oldest first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	writeJSON(w, msgs)
}

// handleSearch finds up to {n} scope messages matching the term query
// parameter. With semantic=true the term is embedded and matched against the
// vector index; otherwise a case-insensitive substring search runs.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	partition, instance := scope(r)
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || n <= 0 {
		s.fail(w, r, apierror.New(apierror.KindBadRequest, "search count must be a positive integer"))
		return
	}
	term := r.URL.Query().Get("term")
	if term == "" {
		s.fail(w, r, apierror.New(apierror.KindBadRequest, "missing term query parameter"))
		return
	}

	if r.URL.Query().Get("semantic") == "true" {
		vec, err := s.embedder.Embed(r.Context(), term)
		if err != nil {
			s.fail(w, r, apierror.Wrap(apierror.KindEmbeddingUnavailable, err, "embed search term"))
			return
		}
		scored, err := s.store.Similar(r.Context(), partition, instance, vec, n, 0)
		if err != nil {
			s.fail(w, r, apierror.Wrap(apierror.KindStorageUnavailable, err, "semantic search"))
			return
		}
		writeJSON(w, scored)
		return
	}

	msgs, err := s.store.SearchText(r.Context(), partition, instance, term, n)
	if err != nil {
		s.fail(w, r, apierror.Wrap(apierror.KindStorageUnavailable, err, "text search"))
		return
	}
	writeJSON(w, msgs)
}

// handleThread walks synapse links outward from one message and returns the
// conversational thread it belongs to, oldest first.
func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		s.fail(w, r, apierror.New(apierror.KindBadRequest, "missing message id"))
		return
	}

	msgs, err := s.store.ThreadOf(r.Context(), id, s.threadHops)
	if err != nil {
		s.fail(w, r, apierror.Wrap(apierror.KindStorageUnavailable, err, "walk thread"))
		return
	}
	writeJSON(w, msgs)
}

// handleExport streams the whole store as JSON lines, one message per line.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.Export(r.Context())
	if err != nil {
		s.fail(w, r, apierror.Wrap(apierror.KindStorageUnavailable, err, "export store"))
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	for _, m := range msgs {
		if err := enc.Encode(m); err != nil {
			return
		}
	}
}

// handleImport reads JSON lines of messages and stores them. Existing
// messages are skipped by the store's idempotency key, so re-importing an
// export is safe.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 64*1024), maxImportLine)

	var msgs []memory.Message
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var m memory.Message
		if err := json.Unmarshal(raw, &m); err != nil {
			s.fail(w, r, apierror.Wrap(apierror.KindBadRequest, err, "import line %d", line))
			return
		}
		msgs = append(msgs, m)
	}
	if err := scanner.Err(); err != nil {
		s.fail(w, r, apierror.Wrap(apierror.KindBadRequest, err, "read import stream"))
		return
	}

	created, err := s.store.Import(r.Context(), msgs)
	if err != nil {
		s.fail(w, r, apierror.Wrap(apierror.KindStorageUnavailable, err, "import messages"))
		return
	}
	writeJSON(w, map[string]int{"received": len(msgs), "created": created})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
