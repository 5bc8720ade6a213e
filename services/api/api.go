package api

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"catalogd/services/access"
	"catalogd/services/blueprints"
)

const (
	defaultRequestTimeout = 60 * time.Second
	defaultRateLimit      = 100
)

// BlueprintStore is the persistence layer behind the blueprints collection.
type BlueprintStore interface {
	List(ctx context.Context, page blueprints.Page) ([]blueprints.Blueprint, int64, error)
	Get(ctx context.Context, id uuid.UUID) (blueprints.Blueprint, error)
	Create(ctx context.Context, drafts []blueprints.Draft) ([]blueprints.Blueprint, error)
	Update(ctx context.Context, id uuid.UUID, patch blueprints.Patch) (blueprints.Blueprint, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Publisher provisions a blueprint. Failures the client can fix come back as *blueprints.PublishError.
type Publisher interface {
	Publish(ctx context.Context, id uuid.UUID) (blueprints.Blueprint, error)
}

// Authenticator resolves basic credentials to a caller.
type Authenticator interface {
	Authenticate(ctx context.Context, name, password string) (access.Caller, error)
}

// AccessControl decides whether a caller holds a capability.
type AccessControl interface {
	Allowed(ctx context.Context, caller access.Caller, capability string) (bool, error)
}

// Config controls runtime behaviour for the API handlers. APIBase prefixes every href and
// is derived from the request when empty. RateLimit is requests per minute per client IP;
// a negative value disables limiting.
type Config struct {
	APIBase        string
	AllowedOrigins []string
	RateLimit      int
	RequestTimeout time.Duration
}

// Deps are the collaborators the handlers delegate to. Ready backs /readyz; nil means
// always ready.
type Deps struct {
	Store     BlueprintStore
	Publisher Publisher
	Auth      Authenticator
	Access    AccessControl
	Ready     func(ctx context.Context) error
	Logger    zerolog.Logger
}

// API serves the blueprints collection.
type API struct {
	store     BlueprintStore
	publisher Publisher
	auth      Authenticator
	access    AccessControl
	ready     func(ctx context.Context) error
	log       zerolog.Logger
	config    Config
}

// New validates deps and applies defaults to cfg.
func New(deps Deps, cfg Config) (*API, error) {
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.Publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if deps.Auth == nil {
		return nil, errors.New("authenticator is required")
	}
	if deps.Access == nil {
		return nil, errors.New("access control is required")
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}

	return &API{
		store:     deps.Store,
		publisher: deps.Publisher,
		auth:      deps.Auth,
		access:    deps.Access,
		ready:     deps.Ready,
		log:       deps.Logger,
		config:    cfg,
	}, nil
}
