package blueprints

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"catalogd/pkg/s3"
)

const (
	// PublishedSubject carries one event per successful publish.
	PublishedSubject = "catalogd.blueprints.published"

	// EventStream is the JetStream stream holding blueprint events.
	EventStream = "CATALOGD_BLUEPRINTS"

	EntryPointProvision   = "Provision"
	EntryPointReconfigure = "Reconfigure"
	EntryPointRetirement  = "Retirement"

	defaultProvisionEntryPoint  = "/Service/Provisioning/StateMachines/ServiceProvision_Template/CatalogItemInitialization"
	defaultRetirementEntryPoint = "/Service/Retirement/StateMachines/ServiceRetirement/Default"

	publishAttempts = 3
)

var publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "catalogd_blueprint_publish_total",
	Help: "Blueprint publish attempts by result.",
}, []string{"result"})

// PublishError explains why a blueprint could not be provisioned. Nothing is changed
// when it is returned.
type PublishError struct {
	Reason string
}

func (e *PublishError) Error() string { return e.Reason }

func publishErrorf(format string, args ...any) error {
	return &PublishError{Reason: fmt.Sprintf(format, args...)}
}

// Bundle is the provisioned service offering derived from a published blueprint.
type Bundle struct {
	ID          uuid.UUID         `json:"id" yaml:"id"`
	BlueprintID uuid.UUID         `json:"blueprint_id" yaml:"blueprint_id"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	CatalogID   *uuid.UUID        `json:"catalog_id,omitempty" yaml:"catalog_id,omitempty"`
	DialogID    uuid.UUID         `json:"dialog_id" yaml:"dialog_id"`
	EntryPoints map[string]string `json:"entry_points" yaml:"entry_points"`
	Members     []BundleMember    `json:"members" yaml:"members"`
	PublishedAt time.Time         `json:"published_at" yaml:"published_at"`
}

// BundleMember is one service template included in a bundle.
type BundleMember struct {
	TemplateID   uuid.UUID `json:"template_id" yaml:"template_id"`
	TemplateName string    `json:"template_name" yaml:"template_name"`
	Tags         []string  `json:"tags" yaml:"tags"`
}

// PublishedEvent is emitted on PublishedSubject after the bundle is committed.
type PublishedEvent struct {
	BlueprintID uuid.UUID `json:"blueprint_id"`
	BundleID    uuid.UUID `json:"bundle_id"`
	Name        string    `json:"name"`
	Members     int       `json:"members"`
	ManifestKey string    `json:"manifest_key,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// Lookup resolves the catalog entries a blueprint references.
type Lookup interface {
	Dialog(ctx context.Context, id uuid.UUID) (Dialog, error)
	ServiceCatalog(ctx context.Context, id uuid.UUID) (ServiceCatalog, error)
	Templates(ctx context.Context, ids []uuid.UUID) ([]ServiceTemplate, error)
}

// BundleStore is the persistence the publisher needs.
type BundleStore interface {
	Get(ctx context.Context, id uuid.UUID) (Blueprint, error)
	MarkPublished(ctx context.Context, b Bundle, seen time.Time) (Blueprint, error)
}

// EventPublisher is satisfied by *bus.Bus.
type EventPublisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// ObjectPutter is satisfied by *s3.Client.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, sha256 string, opts ...s3.PutOption) error
}

// PublisherOptions holds the optional collaborators of a Publisher.
type PublisherOptions struct {
	Events  EventPublisher
	Objects ObjectPutter
	Bucket  string
	// Recipients, when set, seal archived manifests with age.
	Recipients []age.Recipient
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Publisher turns blueprints into service bundles.
type Publisher struct {
	store      BundleStore
	catalog    Lookup
	events     EventPublisher
	objects    ObjectPutter
	bucket     string
	recipients []age.Recipient
	log        zerolog.Logger
	now        func() time.Time
}

// NewPublisher wires a Publisher. Events and object archiving are skipped when unset.
func NewPublisher(store BundleStore, catalog Lookup, opts PublisherOptions) (*Publisher, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if catalog == nil {
		return nil, errors.New("catalog is required")
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	objects := opts.Objects
	if opts.Bucket == "" {
		objects = nil
	}
	return &Publisher{
		store:      store,
		catalog:    catalog,
		events:     opts.Events,
		objects:    objects,
		bucket:     opts.Bucket,
		recipients: opts.Recipients,
		log:        opts.Logger,
		now:        now,
	}, nil
}

// Publish provisions the blueprint identified by id and marks it published. A
// *PublishError reports a blueprint that cannot be provisioned; ErrNotFound an unknown id.
// Publishing an already published blueprint provisions it again and replaces its bundle.
func (p *Publisher) Publish(ctx context.Context, id uuid.UUID) (Blueprint, error) {
	ctx, span := otel.Tracer("catalogd/blueprints").Start(ctx, "blueprints.publish")
	defer span.End()
	span.SetAttributes(attribute.String("blueprint.id", id.String()))

	var (
		bp        Blueprint
		bundle    Bundle
		published Blueprint
	)
	for attempt := 1; ; attempt++ {
		var err error
		bp, bundle, err = p.provision(ctx, id)
		if err != nil {
			var perr *PublishError
			switch {
			case errors.As(err, &perr):
				publishTotal.WithLabelValues("rejected").Inc()
				span.SetStatus(codes.Error, perr.Reason)
			case errors.Is(err, ErrNotFound):
				publishTotal.WithLabelValues("not_found").Inc()
			default:
				publishTotal.WithLabelValues("error").Inc()
				span.RecordError(err)
				span.SetStatus(codes.Error, "publish failed")
			}
			return Blueprint{}, err
		}

		published, err = p.store.MarkPublished(ctx, bundle, bp.UpdatedAt)
		if errors.Is(err, ErrStale) && attempt < publishAttempts {
			p.log.Debug().Str("blueprint_id", id.String()).Int("attempt", attempt).Msg("blueprint changed during publish, provisioning again")
			continue
		}
		if errors.Is(err, ErrStale) {
			publishTotal.WithLabelValues("rejected").Inc()
			span.SetStatus(codes.Error, "blueprint changed")
			return Blueprint{}, publishErrorf("blueprint %s changed while publishing, retry", id)
		}
		if err != nil {
			publishTotal.WithLabelValues("error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "persist bundle")
			return Blueprint{}, err
		}
		break
	}
	publishTotal.WithLabelValues("published").Inc()

	p.announce(ctx, bp, bundle)
	return published, nil
}

func (p *Publisher) provision(ctx context.Context, id uuid.UUID) (Blueprint, Bundle, error) {
	bp, err := p.store.Get(ctx, id)
	if err != nil {
		return Blueprint{}, Bundle{}, err
	}

	props := bp.UIProperties

	dialogID, err := refID(props, PropServiceDialog)
	if err != nil {
		return Blueprint{}, Bundle{}, err
	}
	if dialogID == nil {
		return Blueprint{}, Bundle{}, publishErrorf("service dialog is required")
	}
	if _, err := p.catalog.Dialog(ctx, *dialogID); err != nil {
		if errors.Is(err, ErrNoEntry) {
			return Blueprint{}, Bundle{}, publishErrorf("service dialog %s does not exist", dialogID)
		}
		return Blueprint{}, Bundle{}, err
	}

	catalogID, err := refID(props, PropServiceCatalog)
	if err != nil {
		return Blueprint{}, Bundle{}, err
	}
	if catalogID != nil {
		if _, err := p.catalog.ServiceCatalog(ctx, *catalogID); err != nil {
			if errors.Is(err, ErrNoEntry) {
				return Blueprint{}, Bundle{}, publishErrorf("service catalog %s does not exist", catalogID)
			}
			return Blueprint{}, Bundle{}, err
		}
	}

	nodes, err := chartNodes(props)
	if err != nil {
		return Blueprint{}, Bundle{}, err
	}
	members, err := p.resolveMembers(ctx, nodes)
	if err != nil {
		return Blueprint{}, Bundle{}, err
	}

	entryPoints, err := automateEntryPoints(props)
	if err != nil {
		return Blueprint{}, Bundle{}, err
	}

	return bp, Bundle{
		ID:          uuid.New(),
		BlueprintID: bp.ID,
		Name:        bp.Name,
		Description: bp.Description,
		CatalogID:   catalogID,
		DialogID:    *dialogID,
		EntryPoints: entryPoints,
		Members:     members,
		PublishedAt: p.now(),
	}, nil
}

func (p *Publisher) resolveMembers(ctx context.Context, nodes []chartNode) ([]BundleMember, error) {
	ids := make([]uuid.UUID, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.id)
	}

	templates, err := p.catalog.Templates(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]ServiceTemplate, len(templates))
	for _, t := range templates {
		byID[t.ID] = t
	}

	var missing []string
	members := make([]BundleMember, 0, len(nodes))
	for _, n := range nodes {
		t, ok := byID[n.id]
		if !ok {
			missing = append(missing, n.id.String())
			continue
		}
		members = append(members, BundleMember{TemplateID: t.ID, TemplateName: t.Name, Tags: n.tags})
	}
	if len(missing) > 0 {
		return nil, publishErrorf("service templates do not exist: %s", strings.Join(missing, ", "))
	}
	return members, nil
}

func (p *Publisher) announce(ctx context.Context, bp Blueprint, bundle Bundle) {
	event := PublishedEvent{
		BlueprintID: bp.ID,
		BundleID:    bundle.ID,
		Name:        bundle.Name,
		Members:     len(bundle.Members),
		PublishedAt: bundle.PublishedAt,
	}

	if p.objects != nil {
		key, err := p.archive(ctx, bp, bundle)
		if err != nil {
			p.log.Warn().Err(err).Str("blueprint_id", bp.ID.String()).Msg("archive bundle manifest")
		} else {
			event.ManifestKey = key
		}
	}

	if p.events != nil {
		if err := p.events.Publish(ctx, PublishedSubject, event); err != nil {
			p.log.Warn().Err(err).Str("blueprint_id", bp.ID.String()).Msg("emit publish event")
		}
	}
}

func (p *Publisher) archive(ctx context.Context, bp Blueprint, bundle Bundle) (string, error) {
	encoded, err := EncodeManifest(bp, bundle)
	if err != nil {
		return "", err
	}
	data, err := CompressManifest(encoded)
	if err != nil {
		return "", err
	}
	sealed := len(p.recipients) > 0
	put := []s3.PutOption{s3.WithContentType(ManifestContentType), s3.WithContentEncoding(ManifestContentEncoding)}
	if sealed {
		if data, err = SealManifest(data, p.recipients...); err != nil {
			return "", err
		}
		put = []s3.PutOption{s3.WithContentType(SealedManifestContentType)}
	}
	sum := sha256.Sum256(data)
	key := ArchiveKey(bp.ID, bundle.ID, sealed)
	if err := p.objects.PutObject(ctx, p.bucket, key, bytes.NewReader(data), int64(len(data)), hex.EncodeToString(sum[:]), put...); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}

type chartNode struct {
	id   uuid.UUID
	tags []string
}

// refID reads ui_properties[key].id. A missing section or id yields nil.
func refID(props map[string]any, key string) (*uuid.UUID, error) {
	section, ok := props[key]
	if !ok || section == nil {
		return nil, nil
	}
	m, ok := section.(map[string]any)
	if !ok {
		return nil, publishErrorf("%s must be an object", humanize(key))
	}
	raw, ok := m["id"]
	if !ok || raw == nil {
		return nil, nil
	}
	id, err := parseID(raw)
	if err != nil {
		return nil, publishErrorf("%s id %v is invalid", humanize(key), raw)
	}
	return &id, nil
}

func chartNodes(props map[string]any) ([]chartNode, error) {
	chart, _ := props[PropChartDataModel].(map[string]any)
	rawNodes, _ := chart["nodes"].([]any)
	if len(rawNodes) == 0 {
		return nil, publishErrorf("chart data model must reference at least one service template")
	}

	nodes := make([]chartNode, 0, len(rawNodes))
	seen := make(map[uuid.UUID]struct{}, len(rawNodes))
	for i, raw := range rawNodes {
		node, ok := raw.(map[string]any)
		if !ok {
			return nil, publishErrorf("chart node %d must be an object", i)
		}
		id, err := parseID(node["id"])
		if err != nil {
			return nil, publishErrorf("chart node %d has an invalid service template id", i)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		tags := []string{}
		if rawTags, ok := node["tags"].([]any); ok {
			for _, t := range rawTags {
				s, ok := t.(string)
				if !ok {
					return nil, publishErrorf("chart node %d tags must be strings", i)
				}
				tags = append(tags, s)
			}
		}
		nodes = append(nodes, chartNode{id: id, tags: tags})
	}
	return nodes, nil
}

func automateEntryPoints(props map[string]any) (map[string]string, error) {
	raw, ok := props[PropAutomateEntrypoints]
	if !ok || raw == nil {
		raw = props[PropAutomateEntryPoints]
	}

	entryPoints := map[string]string{}
	if m, ok := raw.(map[string]any); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch k {
			case EntryPointProvision, EntryPointReconfigure, EntryPointRetirement:
			default:
				return nil, publishErrorf("unknown automate entry point %q", k)
			}
			s, ok := m[k].(string)
			if !ok {
				return nil, publishErrorf("automate entry point %s must be a string", k)
			}
			if s = strings.TrimSpace(s); s != "" {
				entryPoints[k] = s
			}
		}
	} else if raw != nil {
		return nil, publishErrorf("automate entry points must be an object")
	}

	if _, ok := entryPoints[EntryPointProvision]; !ok {
		entryPoints[EntryPointProvision] = defaultProvisionEntryPoint
	}
	if _, ok := entryPoints[EntryPointRetirement]; !ok {
		entryPoints[EntryPointRetirement] = defaultRetirementEntryPoint
	}
	return entryPoints, nil
}

func parseID(raw any) (uuid.UUID, error) {
	s, ok := raw.(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("id must be a string, got %T", raw)
	}
	return uuid.Parse(strings.TrimSpace(s))
}

func humanize(key string) string {
	return strings.ReplaceAll(key, "_", " ")
}
