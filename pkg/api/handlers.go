package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aigrc/pipeline/pkg/auth"
	"github.com/aigrc/pipeline/pkg/events"
	"github.com/aigrc/pipeline/pkg/store"
)

// maxListLimit caps one page of the query surface.
const maxListLimit = 100

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": s.service})
}

// handleEvents dispatches the collection endpoint: POST ingests one
// event, GET lists stored events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleIngest(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		WriteMethodNotAllowed(w)
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	orgID := auth.MustGetOrgID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, syncBodyLimit)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.countRejected(r.Context(), events.CodeIDInvalid)
		WriteError(w, http.StatusBadRequest, events.CodeIDInvalid, "unable to read request body")
		return
	}

	raw, derr := events.Decode(data)
	if derr != nil {
		s.countRejected(r.Context(), derr.Code)
		WriteCoded(w, http.StatusBadRequest, derr)
		return
	}
	res := s.validator.Validate(raw)
	if !res.Valid {
		s.countRejected(r.Context(), res.Errors[0].Code)
		WriteCoded(w, http.StatusBadRequest, res.Errors[0])
		return
	}
	e, err := events.FromMap(raw)
	if err != nil {
		WriteInternal(w, fmt.Errorf("decode validated event: %w", err))
		return
	}
	if e.OrgID != orgID {
		s.countRejected(r.Context(), events.CodeOrgMismatch)
		WriteForbidden(w, "")
		return
	}

	stored, inserted, err := s.store.Insert(r.Context(), e)
	if err != nil {
		WriteInternal(w, fmt.Errorf("store event %s: %w", e.ID, err))
		return
	}
	s.accepted(r.Context(), stored, inserted)

	status := http.StatusOK
	if inserted {
		status = http.StatusCreated
	}
	writeJSON(w, status, events.IngestResponse{
		ID:         stored.ID,
		Status:     events.StatusAccepted,
		ReceivedAt: *stored.ReceivedAt,
	})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	orgID := auth.MustGetOrgID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, batchBodyLimit)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, events.CodeSchemaInvalid, "unable to read request body")
		return
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		WriteError(w, http.StatusBadRequest, events.CodeSchemaInvalid, "batch body is not valid JSON")
		return
	}
	elements, ok := parsed.([]any)
	if !ok || dec.More() {
		WriteError(w, http.StatusBadRequest, events.CodeSchemaInvalid, "batch body must be a JSON array of events")
		return
	}
	if len(elements) > s.maxBatch {
		WriteError(w, http.StatusRequestEntityTooLarge, events.CodeBatchTooLarge,
			fmt.Sprintf("batch of %d events exceeds the %d element limit", len(elements), s.maxBatch))
		return
	}

	resp := &events.BatchResponse{Results: make([]events.BatchResult, 0, len(elements))}
	for _, element := range elements {
		resp.Append(s.ingestElement(r.Context(), orgID, element))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ingestElement runs one batch element through the same validate,
// scope, and store steps as the sync channel. A failing element never
// affects its peers.
func (s *Server) ingestElement(ctx context.Context, orgID string, element any) events.BatchResult {
	raw, ok := element.(map[string]any)
	if !ok {
		return s.rejected(ctx, "", events.Errf(events.CodeIDInvalid, "", "batch element must be a JSON object"))
	}
	id, _ := raw["id"].(string)

	res := s.validator.Validate(raw)
	if !res.Valid {
		return s.rejected(ctx, id, res.Errors[0])
	}
	e, err := events.FromMap(raw)
	if err != nil {
		s.logger.Error("decode validated batch element", "id", id, "error", err)
		return s.rejected(ctx, id, events.Errf(events.CodeInternal, "", "event could not be processed"))
	}
	if e.OrgID != orgID {
		return s.rejected(ctx, id, events.Errf(events.CodeOrgMismatch, "orgId",
			"event orgId does not match the authenticated organization"))
	}

	stored, inserted, err := s.store.Insert(ctx, e)
	if err != nil {
		s.logger.Error("store batch element", "id", e.ID, "error", err)
		return s.rejected(ctx, id, events.Errf(events.CodeInternal, "", "event could not be stored"))
	}
	s.accepted(ctx, stored, inserted)

	status := events.StatusDuplicate
	if inserted {
		status = events.StatusCreated
	}
	return events.BatchResult{ID: stored.ID, Status: status, ReceivedAt: stored.ReceivedAt}
}

func (s *Server) rejected(ctx context.Context, id string, e *events.Error) events.BatchResult {
	s.countRejected(ctx, e.Code)
	return events.BatchResult{ID: id, Status: events.StatusRejected, Error: e}
}

// countRejected feeds the rejection counter when metrics are wired.
func (s *Server) countRejected(ctx context.Context, code events.Code) {
	if s.metrics != nil {
		s.metrics.EventRejected(ctx, code)
	}
}

// accepted fires the post-acceptance hooks. Only first-time writes
// reach the OnAccepted callback; duplicates are counted and dropped.
func (s *Server) accepted(ctx context.Context, e *events.Event, inserted bool) {
	if s.metrics != nil {
		if inserted {
			s.metrics.EventAccepted(ctx, e)
		} else {
			s.metrics.EventDuplicate(ctx, e)
		}
	}
	if inserted && s.onAccepted != nil {
		s.onAccepted(ctx, e)
	}
}

// ListResponse is one page of the query surface.
type ListResponse struct {
	Events  []*events.Event `json:"events"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
	HasMore bool            `json:"hasMore"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	orgID := auth.MustGetOrgID(r.Context())
	vals := r.URL.Query()

	q := store.Query{
		OrgID:   orgID,
		AssetID: vals.Get("asset_id"),
		Type:    vals.Get("type"),
	}
	if c := vals.Get("criticality"); c != "" {
		crit := events.Criticality(c)
		if !crit.Valid() {
			WriteError(w, http.StatusBadRequest, events.CodeSchemaInvalid,
				"criticality must be one of normal, high, critical")
			return
		}
		q.Criticality = crit
	}
	if since := vals.Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			WriteError(w, http.StatusBadRequest, events.CodeSchemaInvalid,
				"since must be an RFC3339 timestamp")
			return
		}
		q.ProducedSince = ts
	}
	limit, offset, ok := pageWindow(w, vals.Get("limit"), vals.Get("offset"))
	if !ok {
		return
	}
	q.Limit, q.Offset = limit, offset

	page, err := s.store.Query(r.Context(), q)
	if err != nil {
		WriteInternal(w, fmt.Errorf("query events: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{
		Events:  page.Events,
		Total:   page.Total,
		Limit:   page.Limit,
		Offset:  page.Offset,
		HasMore: int64(page.Offset+len(page.Events)) < page.Total,
	})
}

func (s *Server) handleEventByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	orgID := auth.MustGetOrgID(r.Context())

	id := strings.TrimPrefix(r.URL.Path, "/v1/events/")
	if id == "" || strings.Contains(id, "/") {
		WriteNotFound(w, "event not found")
		return
	}

	e, err := s.store.Get(r.Context(), orgID, id)
	if errors.Is(err, store.ErrNotFound) {
		WriteNotFound(w, "event not found")
		return
	}
	if err != nil {
		WriteInternal(w, fmt.Errorf("get event %s: %w", id, err))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	orgID := auth.MustGetOrgID(r.Context())
	vals := r.URL.Query()

	limit, offset, ok := pageWindow(w, vals.Get("limit"), vals.Get("offset"))
	if !ok {
		return
	}
	page, err := s.store.Assets(r.Context(), orgID, limit, offset)
	if err != nil {
		WriteInternal(w, fmt.Errorf("query assets: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// pageWindow parses limit/offset query parameters, clamping limit to
// the API page cap. It writes the 400 itself and reports ok=false.
func pageWindow(w http.ResponseWriter, limitStr, offsetStr string) (limit, offset int, ok bool) {
	limit = maxListLimit
	if limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, events.CodeSchemaInvalid, "limit must be a non-negative integer")
			return 0, 0, false
		}
		if n > 0 && n < maxListLimit {
			limit = n
		}
	}
	if offsetStr != "" {
		n, err := strconv.Atoi(offsetStr)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, events.CodeSchemaInvalid, "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}
