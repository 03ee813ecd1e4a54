package models

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// URLTypeUpload marks a resource whose binary lives in the catalog's file store.
const URLTypeUpload = "upload"

// AutoIDField is the row identifier the datastore assigns on insert.
const AutoIDField = "_id"

// DatasetFields lists the dataset metadata keys copied across instances.
var DatasetFields = []string{
	"title",
	"notes",
	"collection_method",
	"excerpt",
	"limitations",
	"information_url",
	"dataset_category",
	"is_retired",
	"refresh_rate",
	"topics",
	"owner_division",
	"owner_section",
	"owner_unit",
	"owner_email",
	"image_url",
}

// ResourceFields lists the resource keys copied across instances.
var ResourceFields = []string{
	"name",
	"description",
	"url",
	"url_type",
	"format",
	"extract_job",
}

// CatalogEndpoint identifies one catalog instance by origin and carries the credential used against it.
type CatalogEndpoint struct {
	URL   string `json:"url" yaml:"url"`
	Token string `json:"-" yaml:"-"`
}

// NewCatalogEndpoint reduces rawURL to its origin so any page URL of the instance can be pasted in.
func NewCatalogEndpoint(rawURL, token string) (CatalogEndpoint, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return CatalogEndpoint{}, fmt.Errorf("invalid catalog url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return CatalogEndpoint{}, fmt.Errorf("invalid catalog url %q: scheme must be http or https", rawURL)
	}
	if u.Host == "" {
		return CatalogEndpoint{}, fmt.Errorf("invalid catalog url %q: missing host", rawURL)
	}
	return CatalogEndpoint{URL: u.Scheme + "://" + u.Host, Token: token}, nil
}

// ActionURL builds the action API URL for name.
func (e CatalogEndpoint) ActionURL(name string) string {
	return e.URL + "/api/3/action/" + name
}

// DatasetURL is the public page of a dataset on this instance.
func (e CatalogEndpoint) DatasetURL(name string) string {
	return e.URL + "/dataset/" + url.PathEscape(name)
}

// Owns reports whether rawURL is served by this instance.
func (e CatalogEndpoint) Owns(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme+"://"+u.Host, e.URL)
}

func (e CatalogEndpoint) String() string { return e.URL }

// Organization is looked up on the target by Name; ID is instance-local.
type Organization struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
}

// OrganizationFromMap reads an organization from a decoded action result.
func OrganizationFromMap(raw map[string]any) Organization {
	return Organization{
		ID:          stringValue(raw["id"]),
		Name:        stringValue(raw["name"]),
		Title:       stringValue(raw["title"]),
		Description: stringValue(raw["description"]),
	}
}

// Dataset is the portable form of a package. Metadata only holds [DatasetFields] keys.
type Dataset struct {
	ID       string         `json:"id" yaml:"id"`
	Name     string         `json:"name" yaml:"name"`
	Private  bool           `json:"private" yaml:"private"`
	OwnerOrg string         `json:"owner_org" yaml:"owner_org"`
	Metadata map[string]any `json:"metadata" yaml:"metadata"`
}

// DatasetFromMap applies the [DatasetFields] allow-list to a package_show result.
// Null and empty string values count as absent.
func DatasetFromMap(raw map[string]any) Dataset {
	d := Dataset{
		ID:       stringValue(raw["id"]),
		Name:     stringValue(raw["name"]),
		Private:  boolValue(raw["private"]),
		OwnerOrg: stringValue(raw["owner_org"]),
		Metadata: make(map[string]any, len(DatasetFields)),
	}
	for _, key := range DatasetFields {
		if v, ok := raw[key]; ok && v != nil && v != "" {
			d.Metadata[key] = v
		}
	}
	return d
}

// Payload builds a write payload from the allow-listed metadata and the name. The ID is never included.
func (d Dataset) Payload() map[string]any {
	payload := make(map[string]any, len(d.Metadata)+1)
	for _, key := range DatasetFields {
		if v, ok := d.Metadata[key]; ok {
			payload[key] = v
		}
	}
	payload["name"] = d.Name
	return payload
}

// Title returns the display title, falling back to the name.
func (d Dataset) Title() string {
	if t := stringValue(d.Metadata["title"]); t != "" {
		return t
	}
	return d.Name
}

// Resource is a file or link attached to a dataset. Name is the cross-instance key.
type Resource struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	URL         string `json:"url" yaml:"url"`
	URLType     string `json:"url_type,omitempty" yaml:"url_type,omitempty"`
	Format      string `json:"format,omitempty" yaml:"format,omitempty"`
	ExtractJob  string `json:"extract_job,omitempty" yaml:"extract_job,omitempty"`
	HasTable    bool   `json:"has_table" yaml:"has_table"`
	Position    int    `json:"position" yaml:"position"`
}

// ResourceFromMap applies the [ResourceFields] allow-list to one entry of a package's resources.
func ResourceFromMap(raw map[string]any, position int) Resource {
	return Resource{
		ID:          stringValue(raw["id"]),
		Name:        stringValue(raw["name"]),
		Description: stringValue(raw["description"]),
		URL:         stringValue(raw["url"]),
		URLType:     stringValue(raw["url_type"]),
		Format:      stringValue(raw["format"]),
		ExtractJob:  stringValue(raw["extract_job"]),
		HasTable:    boolValue(raw["datastore_active"]),
		Position:    position,
	}
}

// IsUpload reports whether the binary must be fetched and re-uploaded.
func (r Resource) IsUpload() bool {
	return r.URLType == URLTypeUpload
}

// URLFilename returns the last segment of rawURL's path. The query and a trailing slash
// are ignored; a URL without a path yields "".
func URLFilename(rawURL string) string {
	p, _, _ := strings.Cut(rawURL, "?")
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// Payload builds the write fields for this resource. Uploads omit url and url_type,
// which the catalog derives from the uploaded file. Empty text fields are sent as ""
// so a patch clears them on the target.
func (r Resource) Payload() map[string]any {
	payload := map[string]any{
		"name":        r.Name,
		"description": r.Description,
		"format":      r.Format,
		"extract_job": r.ExtractJob,
	}
	if !r.IsUpload() {
		payload["url"] = r.URL
		if r.URLType != "" {
			payload["url_type"] = r.URLType
		}
	}
	return payload
}

// Field is one column of a datastore table.
type Field struct {
	ID   string         `json:"id" yaml:"id"`
	Type string         `json:"type" yaml:"type"`
	Info map[string]any `json:"info,omitempty" yaml:"info,omitempty"`
}

// Row maps field IDs to values.
type Row = map[string]any

// Table is the datastore content owned by a single resource.
type Table struct {
	Fields []Field `json:"fields" yaml:"fields"`
	Rows   []Row   `json:"records" yaml:"records"`
}

// StripAutoID returns a copy of t without [AutoIDField] in its schema or rows.
func (t Table) StripAutoID() Table {
	out := Table{
		Fields: make([]Field, 0, len(t.Fields)),
		Rows:   make([]Row, len(t.Rows)),
	}
	for _, f := range t.Fields {
		if f.ID != AutoIDField {
			out.Fields = append(out.Fields, f)
		}
	}
	for i, row := range t.Rows {
		clean := make(Row, len(row))
		for k, v := range row {
			if k != AutoIDField {
				clean[k] = v
			}
		}
		out.Rows[i] = clean
	}
	return out
}

// Snapshot is the normalized state of one dataset read from one instance.
type Snapshot struct {
	Organization Organization `json:"organization" yaml:"organization"`
	Dataset      Dataset      `json:"dataset" yaml:"dataset"`
	Resources    []Resource   `json:"resources" yaml:"resources"`
}

// Lookup returns every resource named name, in snapshot order.
func (s *Snapshot) Lookup(name string) []Resource {
	var matches []Resource
	for _, r := range s.Resources {
		if r.Name == name {
			matches = append(matches, r)
		}
	}
	return matches
}

// ResourceIDs lists the instance-local identifiers of every resource.
func (s *Snapshot) ResourceIDs() []string {
	ids := make([]string, 0, len(s.Resources))
	for _, r := range s.Resources {
		if r.ID != "" {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// TableCount counts resources backed by a datastore table.
func (s *Snapshot) TableCount() int {
	n := 0
	for _, r := range s.Resources {
		if r.HasTable {
			n++
		}
	}
	return n
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func boolValue(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	default:
		return false
	}
}
