package blueprints

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"catalogd/pkg/db"
)

// Store persists blueprints, their published bundles and the audit trail through gorm.
type Store struct {
	orm *gorm.DB
	now func() time.Time
}

// NewStore wraps an open gorm session.
func NewStore(orm *gorm.DB) (*Store, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	return &Store{orm: orm, now: func() time.Time { return time.Now().UTC() }}, nil
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, db.DefaultTimeout)
}

// List returns one page of blueprints ordered by name together with the total row count.
func (s *Store) List(ctx context.Context, page Page) ([]Blueprint, int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	orm := s.orm.WithContext(ctx)

	var total int64
	if err := orm.Model(&blueprintModel{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count blueprints: %w", err)
	}

	query := orm.Order("name ASC").Order("id ASC")
	if page.Offset > 0 {
		query = query.Offset(page.Offset)
	}
	if page.Limit > 0 {
		query = query.Limit(page.Limit)
	}

	var models []blueprintModel
	if err := query.Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("list blueprints: %w", err)
	}

	items := make([]Blueprint, 0, len(models))
	for _, model := range models {
		items = append(items, model.toDomain())
	}
	return items, total, nil
}

// Get loads one blueprint by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Blueprint, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var model blueprintModel
	switch err := s.orm.WithContext(ctx).First(&model, "id = ?", id).Error; {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Blueprint{}, ErrNotFound
	case err != nil:
		return Blueprint{}, fmt.Errorf("get blueprint %s: %w", id, err)
	}
	return model.toDomain(), nil
}

// Create inserts every draft in one transaction. Either all drafts are stored or none.
func (s *Store) Create(ctx context.Context, drafts []Draft) ([]Blueprint, error) {
	if len(drafts) == 0 {
		return nil, errors.New("no blueprints to create")
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := s.now()
	models := make([]blueprintModel, 0, len(drafts))
	for _, d := range drafts {
		models = append(models, blueprintModel{
			ID:           uuid.New(),
			Name:         strings.TrimSpace(d.Name),
			Description:  d.Description,
			UIProperties: toJSONMap(d.UIProperties),
			Status:       string(StatusUnpublished),
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&models).Error; err != nil {
			return err
		}
		for _, m := range models {
			if err := recordAudit(ctx, tx, "blueprint.create", m.ID, map[string]any{"name": m.Name}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create blueprints: %w", err)
	}

	items := make([]Blueprint, 0, len(models))
	for _, m := range models {
		items = append(items, m.toDomain())
	}
	return items, nil
}

// Update applies patch to the blueprint and returns the stored result.
func (s *Store) Update(ctx context.Context, id uuid.UUID, patch Patch) (Blueprint, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var existing blueprintModel
	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&existing, "id = ?", id).Error; err != nil {
			return err
		}
		if patch.Empty() {
			return nil
		}

		updates := map[string]any{"updated_at": s.now()}
		changed := make([]string, 0, 3)
		if patch.Name != nil {
			updates["name"] = strings.TrimSpace(*patch.Name)
			changed = append(changed, "name")
		}
		if patch.Description != nil {
			updates["description"] = *patch.Description
			changed = append(changed, "description")
		}
		if patch.UIProperties != nil {
			updates["ui_properties"] = toJSONMap(patch.UIProperties)
			changed = append(changed, "ui_properties")
		}

		if err := tx.Model(&existing).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.First(&existing, "id = ?", id).Error; err != nil {
			return err
		}
		return recordAudit(ctx, tx, "blueprint.edit", id, map[string]any{"fields": changed})
	})
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Blueprint{}, ErrNotFound
	case err != nil:
		return Blueprint{}, fmt.Errorf("update blueprint %s: %w", id, err)
	}
	return existing.toDomain(), nil
}

// Delete removes the blueprint. Its bundle goes with it through the foreign key.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&blueprintModel{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return recordAudit(ctx, tx, "blueprint.delete", id, nil)
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete blueprint %s: %w", id, err)
	}
	return err
}

// MarkPublished replaces the blueprint's bundle with b and flips its status to published.
// The blueprint row is locked for the transaction; ErrStale is returned when its
// updated_at no longer equals seen, the revision b was provisioned from.
func (s *Store) MarkPublished(ctx context.Context, b Bundle, seen time.Time) (Blueprint, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var model blueprintModel
	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
			First(&model, "id = ?", b.BlueprintID).Error; err != nil {
			return err
		}
		if !model.UpdatedAt.Equal(seen) {
			return ErrStale
		}
		bundle := newBundleModel(b)
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "blueprint_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"id", "name", "description", "catalog_id", "dialog_id", "entry_points", "members", "published_at",
			}),
		}).Create(&bundle).Error; err != nil {
			return err
		}
		if err := tx.Model(&model).Updates(map[string]any{
			"status":     string(StatusPublished),
			"updated_at": s.now(),
		}).Error; err != nil {
			return err
		}
		if err := tx.First(&model, "id = ?", b.BlueprintID).Error; err != nil {
			return err
		}
		return recordAudit(ctx, tx, "blueprint.publish", b.BlueprintID, map[string]any{
			"bundle_id": b.ID.String(),
			"members":   len(b.Members),
		})
	})
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Blueprint{}, ErrNotFound
	case errors.Is(err, ErrStale):
		return Blueprint{}, ErrStale
	case err != nil:
		return Blueprint{}, fmt.Errorf("publish blueprint %s: %w", b.BlueprintID, err)
	}
	return model.toDomain(), nil
}

// Bundle returns the bundle produced by the last successful publish of a blueprint.
func (s *Store) Bundle(ctx context.Context, blueprintID uuid.UUID) (Bundle, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var model bundleModel
	switch err := s.orm.WithContext(ctx).First(&model, "blueprint_id = ?", blueprintID).Error; {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Bundle{}, ErrNotFound
	case err != nil:
		return Bundle{}, fmt.Errorf("get bundle for %s: %w", blueprintID, err)
	}
	return model.toDomain(), nil
}

func recordAudit(ctx context.Context, tx *gorm.DB, action string, obj uuid.UUID, details map[string]any) error {
	entry := auditModel{
		Actor:   ActorFrom(ctx),
		Action:  action,
		Obj:     obj.String(),
		Details: toJSONMap(details),
	}
	return tx.Create(&entry).Error
}

func toJSONMap(m map[string]any) datatypes.JSONMap {
	if m == nil {
		return datatypes.JSONMap{}
	}
	return datatypes.JSONMap(m)
}
