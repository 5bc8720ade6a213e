package blueprints

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

func TestManifestKey(t *testing.T) {
	bp := uuid.MustParse("6f1c2a58-1111-4c4e-9a3e-000000000001")
	bundle := uuid.MustParse("6f1c2a58-2222-4c4e-9a3e-000000000002")

	want := "blueprints/6f1c2a58-1111-4c4e-9a3e-000000000001/bundles/6f1c2a58-2222-4c4e-9a3e-000000000002.yaml.zst"
	if got := ManifestKey(bp, bundle); got != want {
		t.Fatalf("ManifestKey() = %q, want %q", got, want)
	}
}

func TestEncodeManifest(t *testing.T) {
	bp := Blueprint{ID: uuid.New(), Name: "web tier"}
	template := uuid.New()
	bundle := Bundle{
		ID:          uuid.New(),
		BlueprintID: bp.ID,
		Name:        bp.Name,
		DialogID:    uuid.New(),
		EntryPoints: map[string]string{EntryPointProvision: defaultProvisionEntryPoint},
		Members:     []BundleMember{{TemplateID: template, TemplateName: "rhel-vm", Tags: []string{"prod"}}},
		PublishedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	data, err := EncodeManifest(bp, bundle)
	if err != nil {
		t.Fatalf("EncodeManifest() error = %v", err)
	}
	if !strings.Contains(string(data), template.String()) {
		t.Fatalf("manifest does not render template ids as text:\n%s", data)
	}

	var doc struct {
		APIVersion string `yaml:"apiVersion"`
		Kind       string `yaml:"kind"`
		Blueprint  struct {
			Name string `yaml:"name"`
		} `yaml:"blueprint"`
		Bundle struct {
			EntryPoints map[string]string `yaml:"entry_points"`
			Members     []struct {
				TemplateName string   `yaml:"template_name"`
				Tags         []string `yaml:"tags"`
			} `yaml:"members"`
		} `yaml:"bundle"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}
	if doc.APIVersion != manifestAPIVersion || doc.Kind != "ServiceBundle" {
		t.Fatalf("header = %s/%s", doc.APIVersion, doc.Kind)
	}
	if doc.Blueprint.Name != "web tier" {
		t.Fatalf("blueprint name = %q", doc.Blueprint.Name)
	}
	if doc.Bundle.EntryPoints[EntryPointProvision] != defaultProvisionEntryPoint {
		t.Fatalf("entry points = %v", doc.Bundle.EntryPoints)
	}
	if len(doc.Bundle.Members) != 1 || doc.Bundle.Members[0].Tags[0] != "prod" {
		t.Fatalf("members = %+v", doc.Bundle.Members)
	}
}

func TestCompressManifestRoundTrip(t *testing.T) {
	bp := Blueprint{ID: uuid.New(), Name: "db tier"}
	catalog := uuid.New()
	bundle := Bundle{
		ID:          uuid.New(),
		BlueprintID: bp.ID,
		Name:        bp.Name,
		CatalogID:   &catalog,
		DialogID:    uuid.New(),
		EntryPoints: map[string]string{EntryPointRetirement: defaultRetirementEntryPoint},
		Members:     []BundleMember{{TemplateID: uuid.New(), TemplateName: "pg", Tags: []string{}}},
		PublishedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	encoded, err := EncodeManifest(bp, bundle)
	if err != nil {
		t.Fatalf("EncodeManifest() error = %v", err)
	}
	archived, err := CompressManifest(encoded)
	if err != nil {
		t.Fatalf("CompressManifest() error = %v", err)
	}
	if bytes.Contains(archived, []byte("ServiceBundle")) {
		t.Fatalf("archive is not compressed")
	}

	// Any zstd reader must be able to open the archive.
	decoder, err := zstd.NewReader(bytes.NewReader(archived))
	if err != nil {
		t.Fatalf("zstd.NewReader() error = %v", err)
	}
	raw, err := decoder.DecodeAll(archived, nil)
	decoder.Close()
	if err != nil {
		t.Fatalf("DecodeAll() error = %v", err)
	}
	if !bytes.Equal(raw, encoded) {
		t.Fatalf("decompressed manifest differs:\n%s", raw)
	}

	m, err := DecodeManifestArchive(archived)
	if err != nil {
		t.Fatalf("DecodeManifestArchive() error = %v", err)
	}
	if m.Kind != "ServiceBundle" || m.Blueprint.ID != bp.ID || m.Bundle.ID != bundle.ID {
		t.Fatalf("manifest = %+v", m)
	}
	if m.Bundle.CatalogID == nil || *m.Bundle.CatalogID != catalog {
		t.Fatalf("catalog id = %v, want %s", m.Bundle.CatalogID, catalog)
	}
	if !m.Bundle.PublishedAt.Equal(bundle.PublishedAt) {
		t.Fatalf("published at = %s", m.Bundle.PublishedAt)
	}

	if _, err := DecodeManifestArchive(encoded); err == nil {
		t.Fatalf("DecodeManifestArchive() accepted an uncompressed manifest")
	}
}

func TestArchiveKey(t *testing.T) {
	bp, bundle := uuid.New(), uuid.New()
	if got := ArchiveKey(bp, bundle, false); got != ManifestKey(bp, bundle) {
		t.Fatalf("ArchiveKey(unsealed) = %q", got)
	}
	if got := ArchiveKey(bp, bundle, true); got != ManifestKey(bp, bundle)+".age" {
		t.Fatalf("ArchiveKey(sealed) = %q", got)
	}
}

func TestSealManifest(t *testing.T) {
	owner, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity() error = %v", err)
	}
	stranger, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity() error = %v", err)
	}

	plain := []byte("kind: ServiceBundle\n")
	sealed, err := SealManifest(plain, owner.Recipient())
	if err != nil {
		t.Fatalf("SealManifest() error = %v", err)
	}
	if bytes.Contains(sealed, plain) {
		t.Fatalf("sealed manifest leaks plaintext")
	}

	opened, err := OpenManifest(sealed, owner)
	if err != nil {
		t.Fatalf("OpenManifest() error = %v", err)
	}
	if !bytes.Equal(opened, plain) {
		t.Fatalf("OpenManifest() = %q, want %q", opened, plain)
	}

	if _, err := OpenManifest(sealed, stranger); err == nil {
		t.Fatalf("OpenManifest() succeeded with the wrong identity")
	}
	if _, err := SealManifest(plain); err == nil {
		t.Fatalf("SealManifest() without recipients should fail")
	}
}
