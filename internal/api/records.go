package api

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/cromap-crawler/internal/crawler"
	"github.com/JakeFAU/cromap-crawler/internal/hash/sha256"
)

const (
	defaultRecordLimit = 100
	maxRecordLimit     = 1000
)

type recordDTO struct {
	Fingerprint string         `json:"fingerprint"`
	Record      crawler.Record `json:"record"`
}

// listRecords handles GET /v1/records?region=&limit=&offset=. Records are
// ordered by fingerprint so pages are stable across calls.
func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeError(w, http.StatusServiceUnavailable, "record index unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRecordLimit, maxRecordLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	region := strings.TrimSpace(r.URL.Query().Get("region"))

	all := s.records.Export()
	keys := make([]string, 0, len(all))
	for fp, rec := range all {
		if region != "" && rec.Region != region {
			continue
		}
		keys = append(keys, fp)
	}
	sort.Strings(keys)

	total := len(keys)
	if offset > total {
		offset = total
	}
	end := min(offset+limit, total)
	page := make([]recordDTO, 0, end-offset)
	for _, fp := range keys[offset:end] {
		page = append(page, recordDTO{Fingerprint: fp, Record: all[fp]})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   total,
		"records": page,
	})
}

// getRecord handles GET /v1/records/{fingerprint}.
func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeError(w, http.StatusServiceUnavailable, "record index unavailable")
		return
	}
	fp := strings.TrimSpace(chi.URLParam(r, "fingerprint"))
	if !sha256.Valid(fp) {
		writeError(w, http.StatusBadRequest, "malformed fingerprint")
		return
	}
	rec, ok := s.records.Export()[fp]
	if !ok {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	writeJSON(w, http.StatusOK, recordDTO{Fingerprint: fp, Record: rec})
}

func parseLimitOffset(r *http.Request, defLimit, maxLimit int) (int, int, error) {
	limit, err := parseNonNegative(r.URL.Query().Get("limit"), defLimit)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid limit: %w", err)
	}
	if limit == 0 {
		limit = defLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset, err := parseNonNegative(r.URL.Query().Get("offset"), 0)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid offset: %w", err)
	}
	return limit, offset, nil
}

func parseNonNegative(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", raw, err)
	}
	if v < 0 {
		return 0, errors.New("must be >= 0")
	}
	return v, nil
}
