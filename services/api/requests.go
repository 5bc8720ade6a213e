package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"catalogd/services/access"
	"catalogd/services/blueprints"
)

const maxBodyBytes = 1 << 20

type action string

const (
	actionCreate  action = "create"
	actionEdit    action = "edit"
	actionDelete  action = "delete"
	actionPublish action = "publish"
)

var errIDOrHref = errors.New("resource id or href should not be specified for creating new blueprints")

// envelope is a decoded POST body split into its action discriminator and remaining fields.
type envelope struct {
	action action
	fields map[string]json.RawMessage
}

func readEnvelope(w http.ResponseWriter, r *http.Request) (envelope, error) {
	if r.Body == nil {
		return envelope{}, errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		if errors.Is(err, io.EOF) {
			return envelope{}, errors.New("request body required")
		}
		return envelope{}, fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return envelope{}, errors.New("invalid request body: unexpected data after JSON object")
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}

	env := envelope{fields: fields}
	if raw, ok := fields["action"]; ok {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return envelope{}, errors.New("action must be a string")
		}
		env.action = action(strings.ToLower(strings.TrimSpace(name)))
		delete(fields, "action")
	}
	return env, nil
}

func unsupportedAction(a action) error {
	return fmt.Errorf("unsupported action %s for blueprints", a)
}

// collectionCapability maps a collection POST action to the capability it needs.
func collectionCapability(a action) (string, error) {
	switch a {
	case "", actionCreate:
		return access.BlueprintsCollectionCreate, nil
	case actionEdit:
		return access.BlueprintsCollectionEdit, nil
	case actionDelete:
		return access.BlueprintsCollectionDelete, nil
	case actionPublish:
		return access.BlueprintsCollectionPublish, nil
	default:
		return "", unsupportedAction(a)
	}
}

// resourceCapability maps a resource POST action to the capability it needs.
func resourceCapability(a action) (string, error) {
	switch a {
	case actionEdit:
		return access.BlueprintsResourceEdit, nil
	case actionDelete:
		return access.BlueprintsResourceDelete, nil
	case actionPublish:
		return access.BlueprintsResourcePublish, nil
	case "":
		return "", errors.New("action is required")
	default:
		return "", unsupportedAction(a)
	}
}

// collectionRequest is one of createRequest, editRequest, deleteRequest or publishRequest.
type collectionRequest interface {
	collectionAction() action
}

type createRequest struct{ items []createItem }

type editRequest struct{ items []editItem }

type deleteRequest struct{ ids []uuid.UUID }

type publishRequest struct{ ids []uuid.UUID }

func (createRequest) collectionAction() action  { return actionCreate }
func (editRequest) collectionAction() action    { return actionEdit }
func (deleteRequest) collectionAction() action  { return actionDelete }
func (publishRequest) collectionAction() action { return actionPublish }

// resourceRequest is one of itemEdit, itemDelete or itemPublish.
type resourceRequest interface {
	resourceAction() action
}

type itemEdit struct{ fields editFields }

type itemDelete struct{}

type itemPublish struct{}

func (itemEdit) resourceAction() action    { return actionEdit }
func (itemDelete) resourceAction() action  { return actionDelete }
func (itemPublish) resourceAction() action { return actionPublish }

type createItem struct {
	Name         string         `json:"name" validate:"required,max=255"`
	Description  string         `json:"description" validate:"max=4096"`
	UIProperties map[string]any `json:"ui_properties" validate:"omitempty,dive,keys,oneof=service_catalog service_dialog automate_entrypoints automate_entry_points chart_data_model,endkeys"`
}

func (c createItem) draft() blueprints.Draft {
	return blueprints.Draft{Name: c.Name, Description: c.Description, UIProperties: c.UIProperties}
}

type editFields struct {
	Name         *string        `json:"name" validate:"omitempty,max=255"`
	Description  *string        `json:"description" validate:"omitempty,max=4096"`
	UIProperties map[string]any `json:"ui_properties" validate:"omitempty,dive,keys,oneof=service_catalog service_dialog automate_entrypoints automate_entry_points chart_data_model,endkeys"`
}

func (e editFields) patch() blueprints.Patch {
	return blueprints.Patch{Name: e.Name, Description: e.Description, UIProperties: e.UIProperties}
}

type editItem struct {
	id     uuid.UUID
	fields editFields
}

func parseCollectionRequest(env envelope) (collectionRequest, error) {
	switch env.action {
	case "", actionCreate:
		items, err := parseCreateItems(env.fields)
		if err != nil {
			return nil, err
		}
		return createRequest{items: items}, nil
	case actionEdit:
		raw, err := resourcesOf(env)
		if err != nil {
			return nil, err
		}
		items := make([]editItem, 0, len(raw))
		for i, fields := range raw {
			id, err := parseRef(fields)
			if err != nil {
				return nil, itemError(i, len(raw), err)
			}
			delete(fields, "id")
			delete(fields, "href")
			ef, err := parseEditFields(fields)
			if err != nil {
				return nil, itemError(i, len(raw), err)
			}
			items = append(items, editItem{id: id, fields: ef})
		}
		return editRequest{items: items}, nil
	case actionDelete, actionPublish:
		raw, err := resourcesOf(env)
		if err != nil {
			return nil, err
		}
		ids := make([]uuid.UUID, 0, len(raw))
		for i, fields := range raw {
			id, err := parseRefOnly(fields)
			if err != nil {
				return nil, itemError(i, len(raw), err)
			}
			ids = append(ids, id)
		}
		if env.action == actionDelete {
			return deleteRequest{ids: ids}, nil
		}
		return publishRequest{ids: ids}, nil
	default:
		return nil, unsupportedAction(env.action)
	}
}

func parseResourceRequest(env envelope, id uuid.UUID) (resourceRequest, error) {
	switch env.action {
	case actionEdit:
		fields := env.fields
		if raw, ok := env.fields["resource"]; ok {
			if len(env.fields) > 1 {
				return nil, fmt.Errorf("unexpected field %q", firstKeyExcept(env.fields, "resource"))
			}
			var err error
			if fields, err = objectFields(raw); err != nil {
				return nil, fmt.Errorf("resource: %w", err)
			}
		}
		if ref, err := parseRef(fields); err == nil {
			if ref != id {
				return nil, errors.New("resource id does not match the request path")
			}
		} else if hasRef(fields) {
			return nil, err
		}
		delete(fields, "id")
		delete(fields, "href")
		ef, err := parseEditFields(fields)
		if err != nil {
			return nil, err
		}
		return itemEdit{fields: ef}, nil
	case actionDelete, actionPublish:
		for k := range env.fields {
			if k != "resource" {
				return nil, fmt.Errorf("unexpected field %q", k)
			}
		}
		if env.action == actionDelete {
			return itemDelete{}, nil
		}
		return itemPublish{}, nil
	case "":
		return nil, errors.New("action is required")
	default:
		return nil, unsupportedAction(env.action)
	}
}

// parseCreateItems accepts a resources array, a single resource object, or the item
// fields at the top level of the body.
func parseCreateItems(fields map[string]json.RawMessage) ([]createItem, error) {
	var raw []map[string]json.RawMessage
	switch {
	case hasRef(fields):
		return nil, errIDOrHref
	case fields["resources"] != nil:
		if len(fields) > 1 {
			return nil, fmt.Errorf("unexpected field %q", firstKeyExcept(fields, "resources"))
		}
		items, err := objectList(fields["resources"])
		if err != nil {
			return nil, err
		}
		raw = items
	case fields["resource"] != nil:
		if len(fields) > 1 {
			return nil, fmt.Errorf("unexpected field %q", firstKeyExcept(fields, "resource"))
		}
		item, err := objectFields(fields["resource"])
		if err != nil {
			return nil, fmt.Errorf("resource: %w", err)
		}
		raw = append(raw, item)
	default:
		raw = append(raw, fields)
	}

	// id and href are checked across the whole batch before any item is validated.
	for _, item := range raw {
		if hasRef(item) {
			return nil, errIDOrHref
		}
	}

	items := make([]createItem, 0, len(raw))
	for i, fields := range raw {
		var item createItem
		if err := decodeStrict(fields, &item); err != nil {
			return nil, itemError(i, len(raw), err)
		}
		item.Name = strings.TrimSpace(item.Name)
		if err := validate.Struct(item); err != nil {
			return nil, itemError(i, len(raw), validationError(err))
		}
		items = append(items, item)
	}
	return items, nil
}

func parseEditFields(fields map[string]json.RawMessage) (editFields, error) {
	var ef editFields
	if err := decodeStrict(fields, &ef); err != nil {
		return editFields{}, err
	}
	if ef.Name != nil {
		name := strings.TrimSpace(*ef.Name)
		if name == "" {
			return editFields{}, errors.New("name must not be blank")
		}
		ef.Name = &name
	}
	if err := validate.Struct(ef); err != nil {
		return editFields{}, validationError(err)
	}
	return ef, nil
}

func resourcesOf(env envelope) ([]map[string]json.RawMessage, error) {
	raw, ok := env.fields["resources"]
	if !ok {
		return nil, fmt.Errorf("resources are required for the %s action", env.action)
	}
	if len(env.fields) > 1 {
		return nil, fmt.Errorf("unexpected field %q", firstKeyExcept(env.fields, "resources"))
	}
	return objectList(raw)
}

func objectList(raw json.RawMessage) ([]map[string]json.RawMessage, error) {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, errors.New("resources must be an array of objects")
	}
	if len(items) == 0 {
		return nil, errors.New("resources must not be empty")
	}
	for i, item := range items {
		if item == nil {
			return nil, itemError(i, len(items), errors.New("resource must be an object"))
		}
	}
	return items, nil
}

func objectFields(raw json.RawMessage) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, errors.New("must be an object")
	}
	return fields, nil
}

func hasRef(fields map[string]json.RawMessage) bool {
	_, hasID := fields["id"]
	_, hasHref := fields["href"]
	return hasID || hasHref
}

// parseRef resolves an item to a blueprint id from its id, or failing that its href.
func parseRef(fields map[string]json.RawMessage) (uuid.UUID, error) {
	if raw, ok := fields["id"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return uuid.Nil, errors.New("id must be a string")
		}
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid blueprint id %q", s)
		}
		return id, nil
	}
	if raw, ok := fields["href"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return uuid.Nil, errors.New("href must be a string")
		}
		return idFromHref(s)
	}
	return uuid.Nil, errors.New("resource id or href is required")
}

func parseRefOnly(fields map[string]json.RawMessage) (uuid.UUID, error) {
	for k := range fields {
		if k != "id" && k != "href" {
			return uuid.Nil, fmt.Errorf("unexpected field %q", k)
		}
	}
	return parseRef(fields)
}

func idFromHref(href string) (uuid.UUID, error) {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid href %q", href)
	}
	p := strings.TrimSuffix(u.Path, "/")
	const marker = "/blueprints/"
	i := strings.LastIndex(p, marker)
	if i < 0 {
		return uuid.Nil, fmt.Errorf("href %q does not reference a blueprint", href)
	}
	id, err := uuid.Parse(p[i+len(marker):])
	if err != nil {
		return uuid.Nil, fmt.Errorf("href %q does not reference a blueprint", href)
	}
	return id, nil
}

func decodeStrict(fields map[string]json.RawMessage, dest any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("invalid resource: %w", err)
	}
	return nil
}

func itemError(i, n int, err error) error {
	if n <= 1 {
		return err
	}
	return fmt.Errorf("resources[%d]: %w", i, err)
}

func firstKeyExcept(fields map[string]json.RawMessage, except string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k != except {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", field)
	case "max":
		return fmt.Errorf("%s must be at most %s characters", field, fe.Param())
	case "oneof":
		return fmt.Errorf("unsupported ui_properties key %v", fe.Value())
	default:
		return fmt.Errorf("%s is invalid", field)
	}
}
