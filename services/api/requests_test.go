package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogd/services/access"
)

func rawFields(t *testing.T, body string) map[string]json.RawMessage {
	t.Helper()
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(body), &fields))
	return fields
}

func TestReadEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		action  action
		wantErr bool
	}{
		{name: "no action", body: `{"name":"x"}`, action: ""},
		{name: "mixed case", body: `{"action":" Publish ","resources":[]}`, action: actionPublish},
		{name: "non string action", body: `{"action":3}`, wantErr: true},
		{name: "array body", body: `[1,2]`, wantErr: true},
		{name: "trailing data", body: `{"a":1} {"b":2}`, wantErr: true},
		{name: "empty", body: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/blueprints", strings.NewReader(tt.body))
			env, err := readEnvelope(httptest.NewRecorder(), req)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.body)
				}
				return
			}
			if err != nil {
				t.Fatalf("readEnvelope: %v", err)
			}
			if env.action != tt.action {
				t.Fatalf("action = %q, want %q", env.action, tt.action)
			}
			if _, ok := env.fields["action"]; ok {
				t.Fatalf("action left in fields")
			}
		})
	}
}

func TestCapabilityForAction(t *testing.T) {
	collection := map[action]string{
		"":            access.BlueprintsCollectionCreate,
		actionCreate:  access.BlueprintsCollectionCreate,
		actionEdit:    access.BlueprintsCollectionEdit,
		actionDelete:  access.BlueprintsCollectionDelete,
		actionPublish: access.BlueprintsCollectionPublish,
	}
	for a, want := range collection {
		got, err := collectionCapability(a)
		require.NoError(t, err)
		assert.Equal(t, want, got, "collection %q", a)
	}

	resource := map[action]string{
		actionEdit:    access.BlueprintsResourceEdit,
		actionDelete:  access.BlueprintsResourceDelete,
		actionPublish: access.BlueprintsResourcePublish,
	}
	for a, want := range resource {
		got, err := resourceCapability(a)
		require.NoError(t, err)
		assert.Equal(t, want, got, "resource %q", a)
	}

	_, err := collectionCapability("retire")
	assert.EqualError(t, err, "unsupported action retire for blueprints")
	_, err = resourceCapability("")
	assert.Error(t, err)
}

func TestParseRef(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name    string
		body    string
		want    uuid.UUID
		wantErr bool
	}{
		{name: "id", body: `{"id":"` + id.String() + `"}`, want: id},
		{name: "absolute href", body: `{"href":"https://host/api/blueprints/` + id.String() + `"}`, want: id},
		{name: "relative href with slash", body: `{"href":"/api/blueprints/` + id.String() + `/"}`, want: id},
		{name: "id wins over href", body: `{"id":"` + id.String() + `","href":"/api/blueprints/bogus"}`, want: id},
		{name: "numeric id", body: `{"id":12}`, wantErr: true},
		{name: "bad uuid", body: `{"id":"12"}`, wantErr: true},
		{name: "other collection", body: `{"href":"/api/services/` + id.String() + `"}`, wantErr: true},
		{name: "neither", body: `{"name":"x"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRef(rawFields(t, tt.body))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRef: %v", err)
			}
			if got != tt.want {
				t.Fatalf("parseRef = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseCollectionRequestVariants(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		action action
		body   string
		check  func(t *testing.T, req collectionRequest)
	}{
		{
			action: actionCreate,
			body:   `{"name":" web ","ui_properties":{"automate_entry_points":{}}}`,
			check: func(t *testing.T, req collectionRequest) {
				create := req.(createRequest)
				require.Len(t, create.items, 1)
				assert.Equal(t, "web", create.items[0].Name)
			},
		},
		{
			action: actionEdit,
			body:   `{"resources":[{"id":"` + id.String() + `","description":"d"}]}`,
			check: func(t *testing.T, req collectionRequest) {
				edit := req.(editRequest)
				require.Len(t, edit.items, 1)
				assert.Equal(t, id, edit.items[0].id)
				assert.Nil(t, edit.items[0].fields.Name)
				require.NotNil(t, edit.items[0].fields.Description)
				assert.Equal(t, "d", *edit.items[0].fields.Description)
			},
		},
		{
			action: actionDelete,
			body:   `{"resources":[{"id":"` + id.String() + `"}]}`,
			check: func(t *testing.T, req collectionRequest) {
				assert.Equal(t, deleteRequest{ids: []uuid.UUID{id}}, req)
			},
		},
		{
			action: actionPublish,
			body:   `{"resources":[{"href":"/api/blueprints/` + id.String() + `"}]}`,
			check: func(t *testing.T, req collectionRequest) {
				assert.Equal(t, publishRequest{ids: []uuid.UUID{id}}, req)
			},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			req, err := parseCollectionRequest(envelope{action: tt.action, fields: rawFields(t, tt.body)})
			require.NoError(t, err)
			assert.Equal(t, tt.action, req.collectionAction())
			tt.check(t, req)
		})
	}
}

func TestParseCollectionRequestRejects(t *testing.T) {
	id := uuid.NewString()
	tests := []struct {
		name   string
		action action
		body   string
	}{
		{name: "edit without resources", action: actionEdit, body: `{"id":"` + id + `"}`},
		{name: "delete with extra field", action: actionDelete, body: `{"resources":[{"id":"` + id + `","name":"x"}]}`},
		{name: "publish non array", action: actionPublish, body: `{"resources":{"id":"` + id + `"}}`},
		{name: "edit blank name", action: actionEdit, body: `{"resources":[{"id":"` + id + `","name":" "}]}`},
		{name: "edit unknown key", action: actionEdit, body: `{"resources":[{"id":"` + id + `","ui_properties":{"x":1}}]}`},
		{name: "create with stray top level", action: actionCreate, body: `{"resources":[{"name":"a"}],"name":"b"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseCollectionRequest(envelope{action: tt.action, fields: rawFields(t, tt.body)}); err == nil {
				t.Fatalf("expected error for %s", tt.body)
			}
		})
	}
}

func TestParseResourceRequest(t *testing.T) {
	id := uuid.New()

	req, err := parseResourceRequest(envelope{action: actionEdit, fields: rawFields(t, `{"href":"/api/blueprints/`+id.String()+`","name":"n"}`)}, id)
	require.NoError(t, err)
	edit := req.(itemEdit)
	require.NotNil(t, edit.fields.Name)
	assert.Equal(t, "n", *edit.fields.Name)

	req, err = parseResourceRequest(envelope{action: actionPublish, fields: rawFields(t, `{}`)}, id)
	require.NoError(t, err)
	assert.Equal(t, itemPublish{}, req)

	req, err = parseResourceRequest(envelope{action: actionDelete, fields: rawFields(t, `{"resource":{}}`)}, id)
	require.NoError(t, err)
	assert.Equal(t, itemDelete{}, req)

	_, err = parseResourceRequest(envelope{action: actionDelete, fields: rawFields(t, `{"force":true}`)}, id)
	assert.Error(t, err)
}
