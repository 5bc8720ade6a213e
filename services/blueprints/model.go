package blueprints

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type blueprintModel struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Name         string            `gorm:"type:text;not null"`
	Description  string            `gorm:"type:text"`
	UIProperties datatypes.JSONMap `gorm:"column:ui_properties;type:jsonb"`
	Status       string            `gorm:"type:text;not null"`
	CreatedAt    time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt    time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (blueprintModel) TableName() string { return "blueprints" }

func (m blueprintModel) toDomain() Blueprint {
	props := map[string]any(m.UIProperties)
	if props == nil {
		props = map[string]any{}
	}
	return Blueprint{
		ID:           m.ID,
		Name:         m.Name,
		Description:  m.Description,
		UIProperties: props,
		Status:       Status(m.Status),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

type bundleModel struct {
	ID          uuid.UUID                         `gorm:"type:uuid;primaryKey"`
	BlueprintID uuid.UUID                         `gorm:"type:uuid;not null"`
	Name        string                            `gorm:"type:text;not null"`
	Description string                            `gorm:"type:text"`
	CatalogID   *uuid.UUID                        `gorm:"type:uuid"`
	DialogID    uuid.UUID                         `gorm:"type:uuid;not null"`
	EntryPoints datatypes.JSONMap                 `gorm:"type:jsonb"`
	Members     datatypes.JSONSlice[BundleMember] `gorm:"type:jsonb"`
	PublishedAt time.Time                         `gorm:"type:timestamptz;not null"`
}

func (bundleModel) TableName() string { return "service_bundles" }

func newBundleModel(b Bundle) bundleModel {
	entryPoints := datatypes.JSONMap{}
	for k, v := range b.EntryPoints {
		entryPoints[k] = v
	}
	return bundleModel{
		ID:          b.ID,
		BlueprintID: b.BlueprintID,
		Name:        b.Name,
		Description: b.Description,
		CatalogID:   b.CatalogID,
		DialogID:    b.DialogID,
		EntryPoints: entryPoints,
		Members:     datatypes.JSONSlice[BundleMember](b.Members),
		PublishedAt: b.PublishedAt,
	}
}

func (m bundleModel) toDomain() Bundle {
	entryPoints := make(map[string]string, len(m.EntryPoints))
	for k, v := range m.EntryPoints {
		if s, ok := v.(string); ok {
			entryPoints[k] = s
		}
	}
	return Bundle{
		ID:          m.ID,
		BlueprintID: m.BlueprintID,
		Name:        m.Name,
		Description: m.Description,
		CatalogID:   m.CatalogID,
		DialogID:    m.DialogID,
		EntryPoints: entryPoints,
		Members:     []BundleMember(m.Members),
		PublishedAt: m.PublishedAt,
	}
}

type auditModel struct {
	ID      int64             `gorm:"type:bigserial;primaryKey"`
	Actor   string            `gorm:"type:text;not null"`
	Action  string            `gorm:"type:text;not null"`
	Obj     string            `gorm:"type:text"`
	Details datatypes.JSONMap `gorm:"type:jsonb"`
	At      time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (auditModel) TableName() string { return "audit" }
