package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"catalogd/services/access"
	"catalogd/services/blueprints"
)

func notFoundMessage(id uuid.UUID) string {
	return fmt.Sprintf("Couldn't find Blueprint with 'id'=%s", id)
}

func (a *API) handleListBlueprints(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, access.BlueprintsCollectionRead) {
		return
	}

	page, err := parsePage(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	expand := expandsResources(r.URL.Query().Get("expand"))

	items, total, err := a.store.List(r.Context(), page)
	if err != nil {
		a.internalError(w, r, err)
		return
	}

	resources := make([]any, 0, len(items))
	for _, bp := range items {
		if expand {
			resources = append(resources, a.viewOf(r, bp))
		} else {
			resources = append(resources, refView{Href: a.hrefFor(r, bp.ID)})
		}
	}

	body := collectionView{Name: "blueprints", Count: total, Subcount: len(items), Resources: resources}
	if page.Limit > 0 {
		pages := int((total + int64(page.Limit) - 1) / int64(page.Limit))
		body.Pages = &pages
	}
	respondJSON(w, http.StatusOK, body)
}

func parsePage(r *http.Request) (blueprints.Page, error) {
	var page blueprints.Page
	q := r.URL.Query()
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return page, fmt.Errorf("invalid offset %q", v)
		}
		page.Offset = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return page, fmt.Errorf("invalid limit %q", v)
		}
		page.Limit = n
	}
	return page, nil
}

func expandsResources(v string) bool {
	for _, part := range strings.Split(v, ",") {
		if strings.TrimSpace(part) == "resources" {
			return true
		}
	}
	return false
}

func (a *API) handleGetBlueprint(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, access.BlueprintsResourceRead) {
		return
	}
	id, ok := blueprintIDParam(w, r)
	if !ok {
		return
	}

	bp, err := a.store.Get(r.Context(), id)
	if err != nil {
		a.storeError(w, r, id, err)
		return
	}
	respondJSON(w, http.StatusOK, a.viewOf(r, bp))
}

func (a *API) handleDeleteBlueprint(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r, access.BlueprintsResourceDelete) {
		return
	}
	id, ok := blueprintIDParam(w, r)
	if !ok {
		return
	}

	if err := a.store.Delete(r.Context(), id); err != nil {
		observe("delete", "failed", 1)
		a.storeError(w, r, id, err)
		return
	}
	observe("delete", "ok", 1)
	w.WriteHeader(http.StatusNoContent)
}

// handleBlueprintsCollection dispatches POST /api/blueprints by action. The capability for
// the action is checked before the body is parsed any further.
func (a *API) handleBlueprintsCollection(w http.ResponseWriter, r *http.Request) {
	env, err := readEnvelope(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	capability, err := collectionCapability(env.action)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if !a.authorize(w, r, capability) {
		return
	}

	req, err := parseCollectionRequest(env)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	switch req := req.(type) {
	case createRequest:
		a.createBlueprints(w, r, req)
	case editRequest:
		a.editBlueprints(w, r, req)
	case deleteRequest:
		a.deleteBlueprints(w, r, req)
	case publishRequest:
		a.publishBlueprints(w, r, req)
	default:
		respondError(w, http.StatusBadRequest, unsupportedAction(req.collectionAction()))
	}
}

func (a *API) createBlueprints(w http.ResponseWriter, r *http.Request, req createRequest) {
	drafts := make([]blueprints.Draft, 0, len(req.items))
	for _, item := range req.items {
		drafts = append(drafts, item.draft())
	}

	created, err := a.store.Create(r.Context(), drafts)
	if err != nil {
		observe("create", "failed", len(drafts))
		a.internalError(w, r, err)
		return
	}
	observe("create", "ok", len(created))

	results := make([]any, 0, len(created))
	for _, bp := range created {
		results = append(results, a.viewOf(r, bp))
	}
	respondJSON(w, http.StatusOK, resultsView{Results: results})
}

func (a *API) editBlueprints(w http.ResponseWriter, r *http.Request, req editRequest) {
	results := make([]any, 0, len(req.items))
	for _, item := range req.items {
		bp, err := a.store.Update(r.Context(), item.id, item.fields.patch())
		if err != nil {
			observe("edit", "failed", 1)
			results = append(results, a.failedResult(r, item.id, err))
			continue
		}
		observe("edit", "ok", 1)
		results = append(results, a.viewOf(r, bp))
	}
	respondJSON(w, http.StatusOK, resultsView{Results: results})
}

func (a *API) deleteBlueprints(w http.ResponseWriter, r *http.Request, req deleteRequest) {
	results := make([]any, 0, len(req.ids))
	for _, id := range req.ids {
		if err := a.store.Delete(r.Context(), id); err != nil {
			observe("delete", "failed", 1)
			results = append(results, a.failedResult(r, id, err))
			continue
		}
		observe("delete", "ok", 1)
		results = append(results, a.deletedResult(r, id))
	}
	respondJSON(w, http.StatusOK, resultsView{Results: results})
}

func (a *API) publishBlueprints(w http.ResponseWriter, r *http.Request, req publishRequest) {
	results := make([]any, 0, len(req.ids))
	for _, id := range req.ids {
		bp, err := a.publisher.Publish(r.Context(), id)
		if err != nil {
			observe("publish", "failed", 1)
			results = append(results, a.failedResult(r, id, err))
			continue
		}
		observe("publish", "ok", 1)
		results = append(results, actionResult{
			Success: true,
			Message: fmt.Sprintf("Published Blueprint id: %s", bp.ID),
			Href:    a.hrefFor(r, bp.ID),
			ID:      bp.ID.String(),
			Status:  string(bp.Status),
		})
	}
	respondJSON(w, http.StatusOK, resultsView{Results: results})
}

// handleBlueprintAction dispatches POST /api/blueprints/{id} by action.
func (a *API) handleBlueprintAction(w http.ResponseWriter, r *http.Request) {
	env, err := readEnvelope(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	capability, err := resourceCapability(env.action)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if !a.authorize(w, r, capability) {
		return
	}
	id, ok := blueprintIDParam(w, r)
	if !ok {
		return
	}

	req, err := parseResourceRequest(env, id)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	switch req := req.(type) {
	case itemEdit:
		bp, err := a.store.Update(r.Context(), id, req.fields.patch())
		if err != nil {
			observe("edit", "failed", 1)
			a.storeError(w, r, id, err)
			return
		}
		observe("edit", "ok", 1)
		respondJSON(w, http.StatusOK, a.viewOf(r, bp))
	case itemDelete:
		if err := a.store.Delete(r.Context(), id); err != nil {
			observe("delete", "failed", 1)
			a.storeError(w, r, id, err)
			return
		}
		observe("delete", "ok", 1)
		respondJSON(w, http.StatusOK, a.deletedResult(r, id))
	case itemPublish:
		bp, err := a.publisher.Publish(r.Context(), id)
		var perr *blueprints.PublishError
		switch {
		case errors.As(err, &perr):
			observe("publish", "failed", 1)
			respondError(w, http.StatusBadRequest, errors.New("Failed to publish blueprint - "+perr.Reason))
			return
		case err != nil:
			observe("publish", "failed", 1)
			a.storeError(w, r, id, err)
			return
		}
		observe("publish", "ok", 1)
		respondJSON(w, http.StatusOK, a.viewOf(r, bp))
	default:
		respondError(w, http.StatusBadRequest, unsupportedAction(req.resourceAction()))
	}
}

func blueprintIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "blueprintID")
	id, err := uuid.Parse(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid blueprint id %q", raw))
		return uuid.Nil, false
	}
	return id, true
}

// storeError answers not found for ErrNotFound and internal server error otherwise.
func (a *API) storeError(w http.ResponseWriter, r *http.Request, id uuid.UUID, err error) {
	if errors.Is(err, blueprints.ErrNotFound) {
		respondError(w, http.StatusNotFound, errors.New(notFoundMessage(id)))
		return
	}
	a.internalError(w, r, err)
}

func (a *API) deletedResult(r *http.Request, id uuid.UUID) actionResult {
	return actionResult{
		Success: true,
		Message: fmt.Sprintf("Deleted Blueprint id: %s", id),
		Href:    a.hrefFor(r, id),
		ID:      id.String(),
	}
}

// failedResult describes a bulk entry that could not be processed. Unexpected errors are
// logged and reported without detail.
func (a *API) failedResult(r *http.Request, id uuid.UUID, err error) actionResult {
	var perr *blueprints.PublishError
	var message string
	switch {
	case errors.Is(err, blueprints.ErrNotFound):
		message = notFoundMessage(id)
	case errors.As(err, &perr):
		message = "Failed to publish blueprint - " + perr.Reason
	default:
		a.log.Error().Err(err).
			Str("blueprint_id", id.String()).
			Str("request_id", requestID(r)).
			Msg("bulk blueprint action failed")
		message = "internal server error"
	}
	return actionResult{Success: false, Message: message, ID: id.String()}
}
