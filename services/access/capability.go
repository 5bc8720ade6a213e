package access

import (
	"github.com/bmatcuk/doublestar/v4"
)

// Capability identifiers checked by the blueprints API. Collection capabilities gate
// /api/blueprints, resource capabilities gate /api/blueprints/{id}.
const (
	BlueprintsCollectionRead    = "blueprints/collection/read"
	BlueprintsCollectionCreate  = "blueprints/collection/create"
	BlueprintsCollectionEdit    = "blueprints/collection/edit"
	BlueprintsCollectionDelete  = "blueprints/collection/delete"
	BlueprintsCollectionPublish = "blueprints/collection/publish"

	BlueprintsResourceRead    = "blueprints/resource/read"
	BlueprintsResourceEdit    = "blueprints/resource/edit"
	BlueprintsResourceDelete  = "blueprints/resource/delete"
	BlueprintsResourcePublish = "blueprints/resource/publish"
)

// DefaultRoles are seeded on startup. Grants are doublestar patterns over capability ids.
var DefaultRoles = map[string][]string{
	"admin":    {"blueprints/**"},
	"designer": {"blueprints/*/{read,create,edit,delete}"},
	"viewer":   {"blueprints/*/read"},
}

// Match reports whether any grant pattern covers capability. Malformed patterns never match.
func Match(grants []string, capability string) bool {
	for _, grant := range grants {
		ok, err := doublestar.Match(grant, capability)
		if err == nil && ok {
			return true
		}
	}
	return false
}

// ValidGrant reports whether pattern is a well formed grant.
func ValidGrant(pattern string) bool {
	return pattern != "" && doublestar.ValidatePattern(pattern)
}
