// Package fakeckan is an in-memory catalog implementing [services.Catalog] for tests.
//
// It keeps the backend quirks the migration engine has to work around: package
// deletion leaves datastore tables behind, "_id" may not be written, and
// datastore_create refuses a changed schema on an existing table.
package fakeckan

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/desertthunder/dsx/internal/models"
	"github.com/desertthunder/dsx/internal/services"
)

// Call is one recorded action.
type Call struct {
	Action  string
	Target  string
	Payload map[string]any
	Upload  *services.Content
	Fields  []models.Field
	Rows    []models.Row
}

type failure struct {
	action string
	nth    int
	err    error
}

// Catalog is a fake catalog instance. The zero value is not usable; call [New].
type Catalog struct {
	mu        sync.Mutex
	endpoint  models.CatalogEndpoint
	orgs      map[string]models.Organization
	packages  map[string]map[string]any
	resources map[string][]map[string]any
	tables    map[string]*models.Table
	uploads   map[string]*services.Content
	content   map[string]*services.Content
	calls     []Call
	counts    map[string]int
	failures  []failure
	nextID    int

	// MaxBatch rejects datastore writes carrying more rows than this. Zero disables the check.
	MaxBatch int
}

// New creates an empty catalog served at url.
func New(url string) *Catalog {
	return &Catalog{
		endpoint:  models.CatalogEndpoint{URL: url, Token: "token"},
		orgs:      map[string]models.Organization{},
		packages:  map[string]map[string]any{},
		resources: map[string][]map[string]any{},
		tables:    map[string]*models.Table{},
		uploads:   map[string]*services.Content{},
		content:   map[string]*services.Content{},
		counts:    map[string]int{},
	}
}

// NotFound builds the error the action API returns for a missing entity.
func NotFound(action string) error {
	return &services.APIError{Action: action, StatusCode: http.StatusNotFound, Type: "Not Found Error", Message: "Not found"}
}

// Rejected builds a validation failure.
func Rejected(action, msg string) error {
	return &services.APIError{Action: action, StatusCode: http.StatusConflict, Type: "Validation Error", Message: msg}
}

func (c *Catalog) id(prefix string) string {
	c.nextID++
	return fmt.Sprintf("%s-%d", prefix, c.nextID)
}

// AddOrganization seeds an organization and returns it.
func (c *Catalog) AddOrganization(name string) models.Organization {
	c.mu.Lock()
	defer c.mu.Unlock()
	org := models.Organization{ID: c.id("org"), Name: name, Title: name}
	c.orgs[name] = org
	return org
}

// AddDataset seeds a package owned by orgName with the given resources and returns its id.
func (c *Catalog) AddDataset(orgName string, pkg map[string]any, resources ...map[string]any) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.id("pkg")
	stored := clone(pkg)
	stored["id"] = id
	stored["owner_org"] = c.orgs[orgName].ID
	if _, ok := stored["private"]; !ok {
		stored["private"] = false
	}
	c.packages[id] = stored

	for _, r := range resources {
		res := clone(r)
		if _, ok := res["id"]; !ok {
			res["id"] = c.id("res")
		}
		res["package_id"] = id
		c.resources[id] = append(c.resources[id], res)
	}
	return id
}

// AddTable seeds a datastore table behind resourceID.
func (c *Catalog) AddTable(resourceID string, table models.Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := table
	c.tables[resourceID] = &t
}

// SetContent serves data at url for [Catalog.FetchContent].
func (c *Catalog) SetContent(url, contentType string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.content[url] = &services.Content{Filename: models.URLFilename(url), ContentType: contentType, Data: data}
}

// FailAt makes the nth call (1-based) of action return err.
func (c *Catalog) FailAt(action string, nth int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, failure{action: action, nth: nth, err: err})
}

// Calls returns every recorded call in order.
func (c *Catalog) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.calls)
}

// CallsFor returns the recorded calls of one action.
func (c *Catalog) CallsFor(action string) []Call {
	var out []Call
	for _, call := range c.Calls() {
		if call.Action == action {
			out = append(out, call)
		}
	}
	return out
}

// Actions lists the action names of every mutating call, in order.
func (c *Catalog) Actions() []string {
	var out []string
	for _, call := range c.Calls() {
		switch call.Action {
		case "organization_show", "package_show", "datastore_search", "fetch":
			continue
		}
		out = append(out, call.Action)
	}
	return out
}

// Reset forgets recorded calls and injected failures, keeping stored state.
func (c *Catalog) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
	c.counts = map[string]int{}
	c.failures = nil
}

// Dataset returns the stored package named name.
func (c *Catalog) Dataset(name string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pkg := range c.packages {
		if pkg["name"] == name {
			return clone(pkg), true
		}
	}
	return nil, false
}

// DatasetCount counts stored packages named name.
func (c *Catalog) DatasetCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, pkg := range c.packages {
		if pkg["name"] == name {
			n++
		}
	}
	return n
}

// Resources returns the stored resources of package id.
func (c *Catalog) Resources(packageID string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.resources[packageID]))
	for _, r := range c.resources[packageID] {
		out = append(out, clone(r))
	}
	return out
}

// Table returns the stored table behind resourceID.
func (c *Catalog) Table(resourceID string) (models.Table, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[resourceID]
	if !ok {
		return models.Table{}, false
	}
	return *t, true
}

// TableCount counts stored tables, including orphans left by package deletion.
func (c *Catalog) TableCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tables)
}

// Upload returns the file stored for a resource.
func (c *Catalog) Upload(resourceID string) (*services.Content, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.uploads[resourceID]
	return u, ok
}

// record logs a call and returns an injected failure, if any. Callers hold mu.
func (c *Catalog) record(call Call) error {
	c.calls = append(c.calls, call)
	c.counts[call.Action]++
	for _, f := range c.failures {
		if f.action == call.Action && f.nth == c.counts[call.Action] {
			return f.err
		}
	}
	return nil
}

func (c *Catalog) Endpoint() models.CatalogEndpoint {
	return c.endpoint
}

func (c *Catalog) OrganizationShow(ctx context.Context, name string) (*models.Organization, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record(Call{Action: "organization_show", Target: name}); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	org, ok := c.orgs[name]
	if !ok {
		return nil, NotFound("organization_show")
	}
	return &org, nil
}

func (c *Catalog) findPackage(idOrName string) (string, map[string]any, bool) {
	if pkg, ok := c.packages[idOrName]; ok {
		return idOrName, pkg, true
	}
	for id, pkg := range c.packages {
		if pkg["name"] == idOrName {
			return id, pkg, true
		}
	}
	return "", nil, false
}

func (c *Catalog) orgByID(id string) models.Organization {
	for _, org := range c.orgs {
		if org.ID == id {
			return org
		}
	}
	return models.Organization{}
}

func (c *Catalog) PackageShow(ctx context.Context, idOrName string) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record(Call{Action: "package_show", Target: idOrName}); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id, pkg, ok := c.findPackage(idOrName)
	if !ok {
		return nil, NotFound("package_show")
	}

	out := clone(pkg)
	org := c.orgByID(stringOf(pkg["owner_org"]))
	out["organization"] = map[string]any{"id": org.ID, "name": org.Name, "title": org.Title, "description": org.Description}

	resources := make([]any, 0, len(c.resources[id]))
	for _, r := range c.resources[id] {
		res := clone(r)
		_, hasTable := c.tables[stringOf(r["id"])]
		res["datastore_active"] = hasTable
		resources = append(resources, res)
	}
	out["resources"] = resources
	out["metadata_modified"] = "2024-01-01T00:00:00"
	return out, nil
}

func (c *Catalog) PackageCreate(ctx context.Context, payload map[string]any) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record(Call{Action: "package_create", Payload: clone(payload)}); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := stringOf(payload["name"])
	if _, _, exists := c.findPackage(name); exists {
		return nil, Rejected("package_create", "name: That URL is already in use.")
	}
	if _, ok := payload["id"]; ok {
		return nil, Rejected("package_create", "id: cannot be set on create")
	}

	id := c.id("pkg")
	stored := clone(payload)
	stored["id"] = id
	c.packages[id] = stored
	return clone(stored), nil
}

func (c *Catalog) PackagePatch(ctx context.Context, payload map[string]any) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record(Call{Action: "package_patch", Target: stringOf(payload["id"]), Payload: clone(payload)}); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, pkg, ok := c.findPackage(stringOf(payload["id"]))
	if !ok {
		return nil, NotFound("package_patch")
	}
	for k, v := range payload {
		if k != "id" {
			pkg[k] = v
		}
	}
	return clone(pkg), nil
}

// PackageDelete drops the package but, like the real backend, leaves its tables behind.
func (c *Catalog) PackageDelete(ctx context.Context, id string) error {
	return c.removePackage(ctx, "package_delete", id)
}

// DatasetPurge drops the package permanently. Tables of resources still attached are orphaned.
func (c *Catalog) DatasetPurge(ctx context.Context, id string) error {
	return c.removePackage(ctx, "dataset_purge", id)
}

func (c *Catalog) removePackage(ctx context.Context, action, idOrName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record(Call{Action: action, Target: idOrName}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	id, _, ok := c.findPackage(idOrName)
	if !ok {
		return NotFound(action)
	}
	delete(c.packages, id)
	delete(c.resources, id)
	return nil
}

func (c *Catalog) ResourceCreate(ctx context.Context, payload map[string]any, upload *services.Content) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record(Call{Action: "resource_create", Target: stringOf(payload["package_id"]), Payload: clone(payload), Upload: upload}); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pkgID, _, ok := c.findPackage(stringOf(payload["package_id"]))
	if !ok {
		return nil, NotFound("resource_create")
	}
	if _, ok := payload["id"]; ok {
		return nil, Rejected("resource_create", "id: cannot be set on create")
	}

	res := clone(payload)
	res["id"] = c.id("res")
	res["package_id"] = pkgID
	c.applyUpload(res, upload)
	c.resources[pkgID] = append(c.resources[pkgID], res)
	return clone(res), nil
}

func (c *Catalog) ResourcePatch(ctx context.Context, payload map[string]any, upload *services.Content) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := stringOf(payload["id"])
	if err := c.record(Call{Action: "resource_patch", Target: id, Payload: clone(payload), Upload: upload}); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := c.findResource(id)
	if res == nil {
		return nil, NotFound("resource_patch")
	}
	for k, v := range payload {
		res[k] = v
	}
	c.applyUpload(res, upload)
	return clone(res), nil
}

func (c *Catalog) applyUpload(res map[string]any, upload *services.Content) {
	if upload == nil {
		return
	}
	id := stringOf(res["id"])
	res["url_type"] = models.URLTypeUpload
	res["url"] = fmt.Sprintf("%s/dataset/%s/resource/%s/download/%s", c.endpoint.URL, stringOf(res["package_id"]), id, upload.Filename)
	u := *upload
	c.uploads[id] = &u
}

func (c *Catalog) findResource(id string) map[string]any {
	for _, list := range c.resources {
		for _, r := range list {
			if r["id"] == id {
				return r
			}
		}
	}
	return nil
}

// ResourceDelete removes the resource and its table.
func (c *Catalog) ResourceDelete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record(Call{Action: "resource_delete", Target: id}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for pkgID, list := range c.resources {
		for i, r := range list {
			if r["id"] == id {
				c.resources[pkgID] = append(list[:i:i], list[i+1:]...)
				delete(c.tables, id)
				delete(c.uploads, id)
				return nil
			}
		}
	}
	return NotFound("resource_delete")
}

// DatastoreSearch returns rows with the "_id" column the real store adds.
func (c *Catalog) DatastoreSearch(ctx context.Context, resourceID string, limit int, includeTotal bool) (*services.SearchResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record(Call{Action: "datastore_search", Target: resourceID}); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t, ok := c.tables[resourceID]
	if !ok {
		return nil, NotFound("datastore_search")
	}

	result := &services.SearchResult{
		Fields: append([]models.Field{{ID: models.AutoIDField, Type: "int"}}, t.Fields...),
	}
	if includeTotal {
		result.Total = len(t.Rows)
	}
	for i, row := range t.Rows {
		if i >= limit {
			break
		}
		out := clone(row)
		out[models.AutoIDField] = i + 1
		result.Records = append(result.Records, out)
	}
	return result, nil
}

func (c *Catalog) DatastoreCreate(ctx context.Context, resourceID string, fields []models.Field, rows []models.Row) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record(Call{Action: "datastore_create", Target: resourceID, Fields: slices.Clone(fields), Rows: rows}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.findResource(resourceID) == nil {
		return NotFound("datastore_create")
	}
	for _, f := range fields {
		if f.ID == models.AutoIDField {
			return Rejected("datastore_create", "fields: \"_id\" is a reserved column")
		}
	}
	if c.MaxBatch > 0 && len(rows) > c.MaxBatch {
		return Rejected("datastore_create", "records: request too large")
	}

	if existing, ok := c.tables[resourceID]; ok {
		if !sameSchema(existing.Fields, fields) {
			return Rejected("datastore_create", "fields: cannot change the type or order of existing fields")
		}
		existing.Rows = append(existing.Rows, cloneRows(rows)...)
		return nil
	}

	c.tables[resourceID] = &models.Table{Fields: slices.Clone(fields), Rows: cloneRows(rows)}
	return nil
}

func (c *Catalog) DatastoreDelete(ctx context.Context, resourceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record(Call{Action: "datastore_delete", Target: resourceID}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, ok := c.tables[resourceID]; !ok {
		return NotFound("datastore_delete")
	}
	delete(c.tables, resourceID)
	return nil
}

func (c *Catalog) DatastoreUpsert(ctx context.Context, resourceID string, rows []models.Row, method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record(Call{Action: "datastore_upsert", Target: resourceID, Rows: rows}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t, ok := c.tables[resourceID]
	if !ok {
		return NotFound("datastore_upsert")
	}
	if method != "insert" {
		return Rejected("datastore_upsert", "method: only insert is supported")
	}
	if c.MaxBatch > 0 && len(rows) > c.MaxBatch {
		return Rejected("datastore_upsert", "records: request too large")
	}
	for _, row := range rows {
		if _, ok := row[models.AutoIDField]; ok {
			return Rejected("datastore_upsert", "records: \"_id\" cannot be written")
		}
	}
	t.Rows = append(t.Rows, cloneRows(rows)...)
	return nil
}

func (c *Catalog) FetchContent(ctx context.Context, rawURL string) (*services.Content, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record(Call{Action: "fetch", Target: rawURL}); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, ok := c.content[rawURL]
	if !ok {
		return nil, NotFound("fetch")
	}
	out := *content
	return &out, nil
}

func sameSchema(a, b []models.Field) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Type != b[i].Type {
			return false
		}
	}
	return true
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneRows(rows []models.Row) []models.Row {
	out := make([]models.Row, len(rows))
	for i, r := range rows {
		out[i] = clone(r)
	}
	return out
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

var _ services.Catalog = (*Catalog)(nil)
