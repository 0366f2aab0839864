package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/solacehq/solace/internal/model"
)

// HandleBrowseVerses handles GET /v1/verses?book=&chapter=&limit=.
func (h *Handlers) HandleBrowseVerses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	book := strings.TrimSpace(q.Get("book"))

	var chapter *int
	if raw := q.Get("chapter"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeServiceError(w, r, fmt.Errorf("%w: chapter must be a positive integer", model.ErrValidation))
			return
		}
		if book == "" {
			h.writeServiceError(w, r, fmt.Errorf("%w: chapter requires book", model.ErrValidation))
			return
		}
		chapter = &n
	}

	verses, err := h.verses.BrowseVerses(r.Context(), book, chapter, queryInt(r, "limit", 0))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if verses == nil {
		verses = []model.Verse{}
	}
	writeJSON(w, r, http.StatusOK, verses)
}

// HandleSearchVerses handles POST /v1/verses/search.
func (h *Handlers) HandleSearchVerses(w http.ResponseWriter, r *http.Request) {
	var req model.SearchVersesRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	req, err := req.Normalize()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	result, err := h.retriever.Retrieve(r.Context(), req.Query, req.Limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.VerseSearchResponse{
		Verses: result.Verses,
		Tier:   result.Tier,
		Query:  req.Query,
	})
}

// HandleImportVerses handles POST /v1/admin/verses.
func (h *Handlers) HandleImportVerses(w http.ResponseWriter, r *http.Request) {
	var req model.ImportVersesRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	n, err := h.corpus.Import(r.Context(), req.Verses)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.ImportVersesResponse{Imported: n})
}

// HandleEmbedVerses handles POST /v1/admin/verses/embed.
func (h *Handlers) HandleEmbedVerses(w http.ResponseWriter, r *http.Request) {
	resp, err := h.corpus.Backfill(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}
