package blueprints

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

const (
	manifestAPIVersion = "catalogd/v1"

	// ManifestContentType and ManifestContentEncoding describe archived manifests.
	ManifestContentType     = "application/yaml"
	ManifestContentEncoding = "zstd"

	// SealedManifestContentType is used for manifests encrypted to age recipients.
	SealedManifestContentType = "application/age"
)

// Manifest is the archived, human readable record of a published bundle.
type Manifest struct {
	APIVersion string            `yaml:"apiVersion"`
	Kind       string            `yaml:"kind"`
	Blueprint  ManifestBlueprint `yaml:"blueprint"`
	Bundle     Bundle            `yaml:"bundle"`
}

// ManifestBlueprint names the blueprint a manifest was produced from.
type ManifestBlueprint struct {
	ID   uuid.UUID `yaml:"id"`
	Name string    `yaml:"name"`
}

// ManifestKey is the object key a compressed bundle manifest is archived under.
func ManifestKey(blueprintID, bundleID uuid.UUID) string {
	return fmt.Sprintf("blueprints/%s/bundles/%s.yaml.zst", blueprintID, bundleID)
}

// ArchiveKey is the object key of a bundle's archived manifest; sealed selects the
// age encrypted variant.
func ArchiveKey(blueprintID, bundleID uuid.UUID, sealed bool) string {
	key := ManifestKey(blueprintID, bundleID)
	if sealed {
		key += ".age"
	}
	return key
}

// EncodeManifest renders the manifest for bundle as YAML.
func EncodeManifest(bp Blueprint, bundle Bundle) ([]byte, error) {
	m := Manifest{
		APIVersion: manifestAPIVersion,
		Kind:       "ServiceBundle",
		Blueprint:  ManifestBlueprint{ID: bp.ID, Name: bp.Name},
		Bundle:     bundle,
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return data, nil
}

// CompressManifest zstd-compresses an encoded manifest for archiving.
func CompressManifest(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	encoder, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	if _, err := encoder.Write(data); err != nil {
		encoder.Close()
		return nil, fmt.Errorf("compress manifest: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("close zstd writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeManifestArchive reads a manifest produced by CompressManifest.
func DecodeManifestArchive(data []byte) (Manifest, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return Manifest{}, fmt.Errorf("zstd reader: %w", err)
	}
	defer decoder.Close()

	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return Manifest{}, fmt.Errorf("decompress manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// SealManifest encrypts an archived manifest to every recipient.
func SealManifest(data []byte, recipients ...age.Recipient) ([]byte, error) {
	if len(recipients) == 0 {
		return nil, errors.New("seal manifest: no recipients")
	}
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipients...)
	if err != nil {
		return nil, fmt.Errorf("seal manifest: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("seal manifest: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("seal manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// OpenManifest decrypts a manifest sealed by SealManifest.
func OpenManifest(data []byte, identities ...age.Identity) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(data), identities...)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	return out, nil
}
