// package services defines the [Catalog] interface for talking to a data catalog's action API
package services

import (
	"context"

	"github.com/desertthunder/dsx/internal/models"
)

// Catalog is the set of remote actions the migration engine needs from one catalog instance.
//
// Implementations hold no per-run state and are safe for concurrent use.
type Catalog interface {
	// Endpoint identifies the instance this client is bound to.
	Endpoint() models.CatalogEndpoint

	// OrganizationShow looks up an organization by name.
	OrganizationShow(ctx context.Context, name string) (*models.Organization, error)

	// PackageShow returns the raw package for a name or id, including its organization and resources.
	PackageShow(ctx context.Context, idOrName string) (map[string]any, error)

	// PackageCreate creates a package and returns the created package.
	PackageCreate(ctx context.Context, payload map[string]any) (map[string]any, error)

	// PackagePatch updates the given keys of an existing package. payload must carry "id".
	PackagePatch(ctx context.Context, payload map[string]any) (map[string]any, error)

	// PackageDelete soft-deletes a package.
	PackageDelete(ctx context.Context, id string) error

	// DatasetPurge removes a package permanently.
	DatasetPurge(ctx context.Context, id string) error

	// ResourceCreate creates a resource. A non-nil upload is sent as a multipart file.
	ResourceCreate(ctx context.Context, payload map[string]any, upload *Content) (map[string]any, error)

	// ResourcePatch updates a resource. payload must carry "id".
	ResourcePatch(ctx context.Context, payload map[string]any, upload *Content) (map[string]any, error)

	// ResourceDelete deletes a resource and its datastore table.
	ResourceDelete(ctx context.Context, id string) error

	// DatastoreSearch reads a table's fields and up to limit rows.
	DatastoreSearch(ctx context.Context, resourceID string, limit int, includeTotal bool) (*SearchResult, error)

	// DatastoreCreate creates a table with the given schema and optional initial rows.
	DatastoreCreate(ctx context.Context, resourceID string, fields []models.Field, rows []models.Row) error

	// DatastoreDelete drops a table.
	DatastoreDelete(ctx context.Context, resourceID string) error

	// DatastoreUpsert writes a batch of rows with the given method (insert, upsert, update).
	DatastoreUpsert(ctx context.Context, resourceID string, rows []models.Row, method string) error

	// FetchContent downloads the binary behind a resource URL.
	FetchContent(ctx context.Context, rawURL string) (*Content, error)
}

// Content is a downloaded resource binary. ContentType is kept as served.
type Content struct {
	Filename    string
	ContentType string
	Data        []byte
}

// SearchResult is the decoded result of datastore_search.
type SearchResult struct {
	Fields  []models.Field `json:"fields"`
	Records []models.Row   `json:"records"`
	Total   int            `json:"total"`
}

// Status is the decoded result of status_show.
type Status struct {
	SiteTitle   string   `json:"site_title"`
	SiteURL     string   `json:"site_url"`
	CKANVersion string   `json:"ckan_version"`
	Extensions  []string `json:"extensions"`
}
