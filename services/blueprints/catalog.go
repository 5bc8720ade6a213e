package blueprints

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"catalogd/pkg/db"
)

// ErrNoEntry is returned when a catalog lookup finds nothing.
var ErrNoEntry = errors.New("catalog entry not found")

// Dialog is the form presented to users ordering a bundle.
type Dialog struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Label       string    `db:"label" json:"label"`
	Description string    `db:"description" json:"description"`
}

// ServiceCatalog groups published bundles.
type ServiceCatalog struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
}

// ServiceTemplate is a provisionable item a blueprint chart node points at.
type ServiceTemplate struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	ProvType    string    `db:"prov_type" json:"prov_type"`
}

// Catalog reads and seeds the dialog, catalog and template tables with raw SQL.
type Catalog struct {
	pool *pgxpool.Pool
}

// NewCatalog returns a Catalog backed by pool.
func NewCatalog(pool *pgxpool.Pool) (*Catalog, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &Catalog{pool: pool}, nil
}

// Dialog loads a dialog by id.
func (c *Catalog) Dialog(ctx context.Context, id uuid.UUID) (Dialog, error) {
	var d Dialog
	err := db.Get(ctx, c.pool, &d, `SELECT id, label, COALESCE(description, '') AS description FROM dialogs WHERE id = $1`, id.String())
	if db.IsNotFound(err) {
		return Dialog{}, ErrNoEntry
	}
	if err != nil {
		return Dialog{}, fmt.Errorf("load dialog %s: %w", id, err)
	}
	return d, nil
}

// ServiceCatalog loads a service catalog by id.
func (c *Catalog) ServiceCatalog(ctx context.Context, id uuid.UUID) (ServiceCatalog, error) {
	var sc ServiceCatalog
	err := db.Get(ctx, c.pool, &sc, `SELECT id, name, COALESCE(description, '') AS description FROM service_catalogs WHERE id = $1`, id.String())
	if db.IsNotFound(err) {
		return ServiceCatalog{}, ErrNoEntry
	}
	if err != nil {
		return ServiceCatalog{}, fmt.Errorf("load service catalog %s: %w", id, err)
	}
	return sc, nil
}

// Templates loads the service templates among ids that exist. Missing ids are simply absent.
func (c *Catalog) Templates(ctx context.Context, ids []uuid.UUID) ([]ServiceTemplate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, id.String())
	}

	var templates []ServiceTemplate
	if err := db.Select(ctx, c.pool, &templates, `
        SELECT id, name, COALESCE(description, '') AS description, COALESCE(prov_type, '') AS prov_type
        FROM service_templates
        WHERE id = ANY($1::uuid[])
        ORDER BY name
    `, raw); err != nil {
		return nil, fmt.Errorf("load service templates: %w", err)
	}
	return templates, nil
}

// AddDialog inserts a dialog.
func (c *Catalog) AddDialog(ctx context.Context, label, description string) (Dialog, error) {
	var d Dialog
	err := db.Get(ctx, c.pool, &d, `
        INSERT INTO dialogs (id, label, description, created_at)
        VALUES ($1, $2, $3, now())
        RETURNING id, label, COALESCE(description, '') AS description
    `, uuid.New().String(), label, description)
	if err != nil {
		return Dialog{}, fmt.Errorf("insert dialog: %w", err)
	}
	return d, nil
}

// AddServiceCatalog inserts a service catalog, reusing an existing row with the same name.
func (c *Catalog) AddServiceCatalog(ctx context.Context, name, description string) (ServiceCatalog, error) {
	var sc ServiceCatalog
	err := db.Get(ctx, c.pool, &sc, `
        INSERT INTO service_catalogs (id, name, description, created_at)
        VALUES ($1, $2, $3, now())
        ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
        RETURNING id, name, COALESCE(description, '') AS description
    `, uuid.New().String(), name, description)
	if err != nil {
		return ServiceCatalog{}, fmt.Errorf("insert service catalog: %w", err)
	}
	return sc, nil
}

// AddTemplate inserts a service template.
func (c *Catalog) AddTemplate(ctx context.Context, name, description, provType string) (ServiceTemplate, error) {
	var st ServiceTemplate
	err := db.Get(ctx, c.pool, &st, `
        INSERT INTO service_templates (id, name, description, prov_type, created_at)
        VALUES ($1, $2, $3, $4, now())
        RETURNING id, name, COALESCE(description, '') AS description, COALESCE(prov_type, '') AS prov_type
    `, uuid.New().String(), name, description, provType)
	if err != nil {
		return ServiceTemplate{}, fmt.Errorf("insert service template: %w", err)
	}
	return st, nil
}

// RemoveTemplate deletes a service template by id.
func (c *Catalog) RemoveTemplate(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Exec(ctx, c.pool, `DELETE FROM service_templates WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("delete service template %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoEntry
	}
	return nil
}
