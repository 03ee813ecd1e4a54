package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/dsx/internal/models"
	"github.com/desertthunder/dsx/internal/shared"
	"golang.org/x/time/rate"
)

// ClientOpts configures a [CatalogClient].
type ClientOpts struct {
	Timeout    time.Duration // Per-request timeout (default: 60s)
	RateLimit  float64       // Requests per second (default: 10)
	RateBurst  int           // Burst size (default: 5)
	UserAgent  string        // User-Agent header (default: dsx)
	HTTPClient *http.Client  // Overrides the client built from Timeout
	Logger     *log.Logger
}

// ClientOptsFromConfig maps the [client] config section onto [ClientOpts].
func ClientOptsFromConfig(cfg shared.ClientConfig, logger *log.Logger) ClientOpts {
	return ClientOpts{
		Timeout:   cfg.RequestTimeout(),
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		UserAgent: cfg.UserAgent,
		Logger:    logger,
	}
}

// CatalogClient implements [Catalog] against the CKAN action API of a single instance.
type CatalogClient struct {
	endpoint   models.CatalogEndpoint
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
	logger     *log.Logger
}

// NewCatalogClient creates a client bound to endpoint.
func NewCatalogClient(endpoint models.CatalogEndpoint, opts ClientOpts) *CatalogClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 5
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "dsx"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(io.Discard)
	}

	return &CatalogClient{
		endpoint:   endpoint,
		httpClient: opts.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		userAgent:  opts.UserAgent,
		logger:     shared.WithLogger(opts.Logger, "catalog", endpoint.URL),
	}
}

// Endpoint returns the instance this client talks to.
func (c *CatalogClient) Endpoint() models.CatalogEndpoint {
	return c.endpoint
}

// envelope is the response wrapper shared by every action.
type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   map[string]any  `json:"error"`
}

// authorize sets the Authorization header when the endpoint has a token. The token is sent as-is.
func (c *CatalogClient) authorize(req *http.Request) {
	if c.endpoint.Token != "" {
		req.Header.Set("Authorization", c.endpoint.Token)
	}
	req.Header.Set("User-Agent", c.userAgent)
}

// do sends req and decodes the action envelope's result into result.
func (c *CatalogClient) do(req *http.Request, action string, result any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("%w: %s: %w", shared.ErrTransport, action, err)
	}

	c.authorize(req)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", shared.ErrTransport, action, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("action", "name", action, "status", resp.StatusCode, "elapsed", time.Since(start))

	var env envelope
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	decodeErr := dec.Decode(&env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || (decodeErr == nil && !env.Success) {
		return newAPIError(action, resp.StatusCode, env.Error)
	}
	if decodeErr != nil {
		return fmt.Errorf("%w: %s: failed to decode response: %v", shared.ErrUnexpectedResponse, action, decodeErr)
	}

	if result != nil && len(env.Result) > 0 {
		rdec := json.NewDecoder(bytes.NewReader(env.Result))
		rdec.UseNumber()
		if err := rdec.Decode(result); err != nil {
			return fmt.Errorf("%w: %s: failed to decode result: %v", shared.ErrUnexpectedResponse, action, err)
		}
	}
	return nil
}

// get calls a read action with query parameters.
func (c *CatalogClient) get(ctx context.Context, action string, params url.Values, result any) error {
	u := c.endpoint.ActionURL(action)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, action, result)
}

// post calls a mutating action with a JSON body.
func (c *CatalogClient) post(ctx context.Context, action string, payload any, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.ActionURL(action), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, action, result)
}

// postMultipart calls action with payload as form fields and upload as the "upload" file part.
func (c *CatalogClient) postMultipart(ctx context.Context, action string, payload map[string]any, upload *Content, result any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for key, value := range payload {
		if err := mw.WriteField(key, formValue(value)); err != nil {
			return fmt.Errorf("failed to write form field %s: %w", key, err)
		}
	}

	contentType := upload.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="upload"; filename=%q`, upload.Filename))
	header.Set("Content-Type", contentType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to create upload part: %w", err)
	}
	if _, err := part.Write(upload.Data); err != nil {
		return fmt.Errorf("failed to write upload part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.ActionURL(action), &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, action, result)
}

func formValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	case json.Number:
		return t.String()
	case []any, map[string]any:
		data, _ := json.Marshal(t)
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}

// Status calls status_show, used to check that an endpoint is reachable.
func (c *CatalogClient) Status(ctx context.Context) (*Status, error) {
	var status Status
	if err := c.get(ctx, "status_show", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *CatalogClient) OrganizationShow(ctx context.Context, name string) (*models.Organization, error) {
	var raw map[string]any
	params := url.Values{"id": {name}, "include_datasets": {"false"}}
	if err := c.get(ctx, "organization_show", params, &raw); err != nil {
		return nil, err
	}
	org := models.OrganizationFromMap(raw)
	return &org, nil
}

func (c *CatalogClient) PackageShow(ctx context.Context, idOrName string) (map[string]any, error) {
	var raw map[string]any
	if err := c.get(ctx, "package_show", url.Values{"id": {idOrName}}, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *CatalogClient) PackageCreate(ctx context.Context, payload map[string]any) (map[string]any, error) {
	var raw map[string]any
	if err := c.post(ctx, "package_create", payload, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *CatalogClient) PackagePatch(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if _, ok := payload["id"]; !ok {
		return nil, fmt.Errorf("%w: package_patch requires an id", shared.ErrInvalidInput)
	}
	var raw map[string]any
	if err := c.post(ctx, "package_patch", payload, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *CatalogClient) PackageDelete(ctx context.Context, id string) error {
	return c.post(ctx, "package_delete", map[string]any{"id": id}, nil)
}

func (c *CatalogClient) DatasetPurge(ctx context.Context, id string) error {
	return c.post(ctx, "dataset_purge", map[string]any{"id": id}, nil)
}

func (c *CatalogClient) ResourceCreate(ctx context.Context, payload map[string]any, upload *Content) (map[string]any, error) {
	return c.writeResource(ctx, "resource_create", payload, upload)
}

func (c *CatalogClient) ResourcePatch(ctx context.Context, payload map[string]any, upload *Content) (map[string]any, error) {
	if _, ok := payload["id"]; !ok {
		return nil, fmt.Errorf("%w: resource_patch requires an id", shared.ErrInvalidInput)
	}
	return c.writeResource(ctx, "resource_patch", payload, upload)
}

func (c *CatalogClient) writeResource(ctx context.Context, action string, payload map[string]any, upload *Content) (map[string]any, error) {
	var raw map[string]any
	var err error
	if upload != nil {
		err = c.postMultipart(ctx, action, payload, upload, &raw)
	} else {
		err = c.post(ctx, action, payload, &raw)
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *CatalogClient) ResourceDelete(ctx context.Context, id string) error {
	return c.post(ctx, "resource_delete", map[string]any{"id": id}, nil)
}

func (c *CatalogClient) DatastoreSearch(ctx context.Context, resourceID string, limit int, includeTotal bool) (*SearchResult, error) {
	params := url.Values{
		"resource_id":   {resourceID},
		"limit":         {strconv.Itoa(limit)},
		"include_total": {strconv.FormatBool(includeTotal)},
	}

	var result SearchResult
	if err := c.get(ctx, "datastore_search", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DatastoreCreate sends force=true so tables can be written behind uploaded resources.
func (c *CatalogClient) DatastoreCreate(ctx context.Context, resourceID string, fields []models.Field, rows []models.Row) error {
	payload := map[string]any{
		"resource_id": resourceID,
		"fields":      fields,
		"force":       true,
	}
	if len(rows) > 0 {
		payload["records"] = rows
	}
	return c.post(ctx, "datastore_create", payload, nil)
}

func (c *CatalogClient) DatastoreDelete(ctx context.Context, resourceID string) error {
	return c.post(ctx, "datastore_delete", map[string]any{"resource_id": resourceID, "force": true}, nil)
}

func (c *CatalogClient) DatastoreUpsert(ctx context.Context, resourceID string, rows []models.Row, method string) error {
	payload := map[string]any{
		"resource_id": resourceID,
		"records":     rows,
		"method":      method,
		"force":       true,
	}
	return c.post(ctx, "datastore_upsert", payload, nil)
}

// FetchContent downloads rawURL. The endpoint token is only attached when rawURL is served by this instance.
func (c *CatalogClient) FetchContent(ctx context.Context, rawURL string) (*Content, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %w", shared.ErrTransport, rawURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid content url %q: %v", shared.ErrInvalidInput, rawURL, err)
	}
	if c.endpoint.Owns(rawURL) {
		c.authorize(req)
	} else {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %w", shared.ErrTransport, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Action: "fetch " + rawURL, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", shared.ErrTransport, rawURL, err)
	}

	return &Content{
		Filename:    models.URLFilename(rawURL),
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
