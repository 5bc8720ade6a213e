package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
)

func init() {
	goose.AddMigrationContext(upAccess, downAccess)
}

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name         string    `gorm:"type:text;uniqueIndex;not null"`
	PasswordHash string    `gorm:"type:text;not null"`
	CreatedAt    time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt    time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
	Roles        []Role    `gorm:"many2many:user_roles"`
}

type Role struct {
	ID           uint                        `gorm:"primaryKey;autoIncrement"`
	Name         string                      `gorm:"type:text;uniqueIndex;not null"`
	Capabilities datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	CreatedAt    time.Time                   `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt    time.Time                   `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type UserRole struct {
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	RoleID    uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	User      User      `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID"`
	Role      Role      `gorm:"constraint:OnDelete:CASCADE;foreignKey:RoleID;references:ID"`
}

func upAccess(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}

	if err := gormDB.SetupJoinTable(&User{}, "Roles", &UserRole{}); err != nil {
		return err
	}

	return gormDB.WithContext(ctx).AutoMigrate(&User{}, &Role{}, &UserRole{})
}

func downAccess(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(&UserRole{}, &Role{}, &User{})
}
