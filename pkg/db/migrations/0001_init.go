package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Blueprint struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Name         string            `gorm:"type:text;not null"`
	Description  string            `gorm:"type:text"`
	UIProperties datatypes.JSONMap `gorm:"column:ui_properties;type:jsonb"`
	Status       string            `gorm:"type:text;not null;default:'unpublished';index"`
	CreatedAt    time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt    time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type ServiceCatalog struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name        string    `gorm:"type:text;uniqueIndex;not null"`
	Description string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

type Dialog struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Label       string    `gorm:"type:text;not null"`
	Description string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

type ServiceTemplate struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name        string    `gorm:"type:text;not null"`
	Description string    `gorm:"type:text"`
	ProvType    string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

type ServiceBundle struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey"`
	BlueprintID uuid.UUID         `gorm:"type:uuid;uniqueIndex;not null"`
	Name        string            `gorm:"type:text;not null"`
	Description string            `gorm:"type:text"`
	CatalogID   *uuid.UUID        `gorm:"type:uuid"`
	DialogID    uuid.UUID         `gorm:"type:uuid;not null"`
	EntryPoints datatypes.JSONMap `gorm:"type:jsonb"`
	Members     datatypes.JSON    `gorm:"type:jsonb"`
	PublishedAt time.Time         `gorm:"type:timestamptz;not null;default:now()"`
	Blueprint   Blueprint         `gorm:"foreignKey:BlueprintID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Catalog     *ServiceCatalog   `gorm:"foreignKey:CatalogID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
	Dialog      Dialog            `gorm:"foreignKey:DialogID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

type Audit struct {
	ID      int64             `gorm:"type:bigserial;primaryKey"`
	Actor   string            `gorm:"type:text;not null"`
	Action  string            `gorm:"type:text;not null"`
	Obj     string            `gorm:"type:text"`
	Details datatypes.JSONMap `gorm:"type:jsonb"`
	At      time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (Audit) TableName() string { return "audit" }

func openTx(tx *sql.Tx) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&Blueprint{},
		&ServiceCatalog{},
		&Dialog{},
		&ServiceTemplate{},
		&ServiceBundle{},
		&Audit{},
	); err != nil {
		return err
	}

	m := gormDB.WithContext(ctx).Migrator()
	for _, rel := range []string{"Blueprint", "Catalog", "Dialog"} {
		if m.HasConstraint(&ServiceBundle{}, rel) {
			continue
		}
		if err := m.CreateConstraint(&ServiceBundle{}, rel); err != nil {
			return err
		}
	}

	return nil
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&Audit{},
		&ServiceBundle{},
		&ServiceTemplate{},
		&Dialog{},
		&ServiceCatalog{},
		&Blueprint{},
	)
}
