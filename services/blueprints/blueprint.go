package blueprints

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the publication state of a blueprint.
type Status string

const (
	StatusUnpublished Status = "unpublished"
	StatusPublished   Status = "published"
)

// Keys of ui_properties understood by the publisher.
const (
	PropServiceCatalog      = "service_catalog"
	PropServiceDialog       = "service_dialog"
	PropAutomateEntrypoints = "automate_entrypoints"
	PropChartDataModel      = "chart_data_model"

	// PropAutomateEntryPoints is the spelling older clients send.
	PropAutomateEntryPoints = "automate_entry_points"
)

// ErrNotFound is returned when a blueprint id does not resolve to a stored row.
var ErrNotFound = errors.New("blueprint not found")

// ErrStale is returned when a blueprint changed between provisioning and publishing it.
var ErrStale = errors.New("blueprint changed while publishing")

// Blueprint is a stored description of a service offering that can be published.
type Blueprint struct {
	ID           uuid.UUID      `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	UIProperties map[string]any `json:"ui_properties"`
	Status       Status         `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Draft carries the client supplied fields of a blueprint being created.
type Draft struct {
	Name         string
	Description  string
	UIProperties map[string]any
}

// Patch lists the fields to change on an existing blueprint. Nil fields are left alone.
type Patch struct {
	Name         *string
	Description  *string
	UIProperties map[string]any
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.UIProperties == nil
}

// Page bounds a list query. A zero Limit returns every row after Offset.
type Page struct {
	Offset int
	Limit  int
}

type actorKey struct{}

// WithActor records who is acting so audit rows can name them.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor stored by WithActor, or "system".
func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return "system"
}
