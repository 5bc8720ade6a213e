package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"catalogd/services/blueprints"
)

type blueprintView struct {
	Href         string         `json:"href"`
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	UIProperties map[string]any `json:"ui_properties"`
	Status       string         `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type refView struct {
	Href string `json:"href"`
}

type collectionView struct {
	Name      string `json:"name"`
	Count     int64  `json:"count"`
	Subcount  int    `json:"subcount"`
	Pages     *int   `json:"pages,omitempty"`
	Resources []any  `json:"resources"`
}

type actionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Href    string `json:"href,omitempty"`
	ID      string `json:"id"`
	Status  string `json:"status,omitempty"`
}

type resultsView struct {
	Results []any `json:"results"`
}

func (a *API) baseURL(r *http.Request) string {
	if a.config.APIBase != "" {
		return strings.TrimSuffix(a.config.APIBase, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0]))
	}
	return scheme + "://" + r.Host
}

func (a *API) hrefFor(r *http.Request, id uuid.UUID) string {
	return a.baseURL(r) + "/api/blueprints/" + id.String()
}

func (a *API) viewOf(r *http.Request, bp blueprints.Blueprint) blueprintView {
	props := bp.UIProperties
	if props == nil {
		props = map[string]any{}
	}
	return blueprintView{
		Href:         a.hrefFor(r, bp.ID),
		ID:           bp.ID.String(),
		Name:         bp.Name,
		Description:  bp.Description,
		UIProperties: props,
		Status:       string(bp.Status),
		CreatedAt:    bp.CreatedAt,
		UpdatedAt:    bp.UpdatedAt,
	}
}
