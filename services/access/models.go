package access

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type userModel struct {
	ID           uuid.UUID   `gorm:"type:uuid;primaryKey"`
	Name         string      `gorm:"type:text;uniqueIndex;not null"`
	PasswordHash string      `gorm:"type:text;not null"`
	CreatedAt    time.Time   `gorm:"autoCreateTime"`
	UpdatedAt    time.Time   `gorm:"autoUpdateTime"`
	Roles        []roleModel `gorm:"many2many:user_roles;joinForeignKey:UserID;joinReferences:RoleID"`
}

func (userModel) TableName() string { return "users" }

type roleModel struct {
	ID           uint                        `gorm:"primaryKey;autoIncrement"`
	Name         string                      `gorm:"type:text;uniqueIndex;not null"`
	Capabilities datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	CreatedAt    time.Time                   `gorm:"autoCreateTime"`
	UpdatedAt    time.Time                   `gorm:"autoUpdateTime"`
}

func (roleModel) TableName() string { return "roles" }

// Role is a named set of capability grants.
type Role struct {
	Name   string   `json:"name"`
	Grants []string `json:"grants"`
}

func (m roleModel) toRole() Role {
	return Role{Name: m.Name, Grants: append([]string(nil), m.Capabilities...)}
}
