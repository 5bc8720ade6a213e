package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const queryTimeout = 5 * time.Second

var (
	// ErrInvalidCredentials covers unknown users and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnknownRole is returned when assigning a role that has not been created.
	ErrUnknownRole = errors.New("unknown role")
)

// Caller is an authenticated principal and the grants of all its roles.
type Caller struct {
	ID     uuid.UUID
	Name   string
	Roles  []string
	Grants []string
}

// Service authenticates users and answers capability checks from the roles tables.
type Service struct {
	orm  *gorm.DB
	cost int
}

// New returns a Service using bcrypt.DefaultCost for new password hashes.
func New(orm *gorm.DB) (*Service, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	return &Service{orm: orm, cost: bcrypt.DefaultCost}, nil
}

// Authenticate checks name and password and returns the matching caller.
func (s *Service) Authenticate(ctx context.Context, name, password string) (Caller, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var user userModel
	switch err := s.orm.WithContext(ctx).Preload("Roles").First(&user, "name = ?", name).Error; {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Caller{}, rejectUnknown(password)
	case err != nil:
		return Caller{}, fmt.Errorf("load user: %w", err)
	}
	return verify(user, password)
}

// Allowed reports whether caller holds capability.
func (s *Service) Allowed(_ context.Context, caller Caller, capability string) (bool, error) {
	return Match(caller.Grants, capability), nil
}

// SeedRoles creates DefaultRoles, resetting their grants if they already exist.
func (s *Service) SeedRoles(ctx context.Context) error {
	names := make([]string, 0, len(DefaultRoles))
	for name := range DefaultRoles {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.PutRole(ctx, name, DefaultRoles[name]...); err != nil {
			return err
		}
	}
	return nil
}

// PutRole creates or replaces a role.
func (s *Service) PutRole(ctx context.Context, name string, grants ...string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("role name is required")
	}
	for _, g := range grants {
		if !ValidGrant(g) {
			return fmt.Errorf("invalid grant %q", g)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	role := roleModel{Name: name, Capabilities: grants}
	err := s.orm.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"capabilities", "updated_at"}),
		}).
		Create(&role).Error
	if err != nil {
		return fmt.Errorf("put role %s: %w", name, err)
	}
	return nil
}

// Roles lists every role ordered by name.
func (s *Service) Roles(ctx context.Context) ([]Role, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var models []roleModel
	if err := s.orm.WithContext(ctx).Order("name ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	roles := make([]Role, 0, len(models))
	for _, m := range models {
		roles = append(roles, m.toRole())
	}
	return roles, nil
}

// PutUser creates the user or resets its password, then replaces its role assignments.
func (s *Service) PutUser(ctx context.Context, name, password string, roles ...string) (Caller, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Caller{}, errors.New("user name is required")
	}
	if password == "" {
		return Caller{}, errors.New("password is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Caller{}, fmt.Errorf("hash password: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var user userModel
	err = s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var assigned []roleModel
		if len(roles) > 0 {
			if err := tx.Where("name IN ?", roles).Find(&assigned).Error; err != nil {
				return err
			}
			if len(assigned) != len(uniq(roles)) {
				return fmt.Errorf("%w: %s", ErrUnknownRole, strings.Join(missingRoles(roles, assigned), ", "))
			}
		}

		switch err := tx.First(&user, "name = ?", name).Error; {
		case errors.Is(err, gorm.ErrRecordNotFound):
			user = userModel{ID: uuid.New(), Name: name, PasswordHash: string(hash)}
			if err := tx.Omit("Roles").Create(&user).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if err := tx.Model(&user).Update("password_hash", string(hash)).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&user).Association("Roles").Replace(assigned); err != nil {
			return err
		}
		user.Roles = assigned
		return nil
	})
	if err != nil {
		return Caller{}, fmt.Errorf("put user %s: %w", name, err)
	}
	return callerFor(user), nil
}

// unknownUserHash is compared against for names with no user row, so that
// unknown and known names cost the same bcrypt work.
var unknownUserHash = sync.OnceValue(func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("catalogd unknown user"), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("hash unknown user password: %v", err))
	}
	return hash
})

func rejectUnknown(password string) error {
	_ = bcrypt.CompareHashAndPassword(unknownUserHash(), []byte(password))
	return ErrInvalidCredentials
}

func verify(user userModel, password string) (Caller, error) {
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Caller{}, ErrInvalidCredentials
	}
	return callerFor(user), nil
}

func callerFor(user userModel) Caller {
	c := Caller{ID: user.ID, Name: user.Name}
	for _, r := range user.Roles {
		c.Roles = append(c.Roles, r.Name)
		c.Grants = append(c.Grants, r.Capabilities...)
	}
	return c
}

func uniq(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func missingRoles(want []string, found []roleModel) []string {
	have := make(map[string]struct{}, len(found))
	for _, r := range found {
		have[r.Name] = struct{}{}
	}
	var missing []string
	for _, name := range uniq(want) {
		if _, ok := have[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
