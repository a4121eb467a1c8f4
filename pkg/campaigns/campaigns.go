// Package campaigns reads campaign metadata from the registry database.
// All access is read-only; user and campaign lifecycle belongs to the
// management service.
package campaigns

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
)

// ErrNotFound is returned for unknown or logically deleted campaigns.
var ErrNotFound = errors.New("campaign not found")

// Campaign is the metadata the orchestrator needs to address a
// campaign's stores.
type Campaign struct {
	UUID             string
	Name             string
	Description      string
	OwnerID          string
	GraphLabel       string
	VectorCollection string
	DeletedAt        *time.Time
}

// ArtifactLabel returns the node label namespacing this campaign's
// artifacts in the graph store.
func (c *Campaign) ArtifactLabel() string {
	return c.GraphLabel + "_Artifact"
}

// Registry is the narrow metadata interface the orchestrator consumes.
type Registry interface {
	GetCampaign(ctx context.Context, uuid string) (*Campaign, error)
	IsNoteInCampaign(ctx context.Context, campaignUUID, noteUUID string) (bool, error)
}

var labelSanitizer = regexp.MustCompile(`[^A-Za-z0-9_]`)

// SanitizeLabel reduces a name to the characters safe for use inside a
// Cypher label. Graph labels are stored pre-sanitized by the ingestion
// side; this is the shared definition both sides use.
func SanitizeLabel(name string) string {
	sanitized := labelSanitizer.ReplaceAllString(name, "_")
	sanitized = strings.Trim(sanitized, "_")
	if sanitized == "" {
		return "Campaign"
	}
	return sanitized
}

// IsSafeLabel reports whether a label is already sanitized.
func IsSafeLabel(label string) bool {
	return label != "" && !labelSanitizer.MatchString(label)
}
