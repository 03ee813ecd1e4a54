// Package services defines the [Catalog] interface over a CKAN-style action API and implements it with [CatalogClient].
//
// # Catalog Interface
//
// Every operation the migration engine needs from an instance is a method on [Catalog]:
// organization lookup, package create/patch/delete/purge, resource create/patch/delete and
// datastore search/create/delete/upsert. The engine only ever sees this interface, so tests
// drive it with the in-memory catalog in internal/testing/fakeckan.
//
// # Action API Client
//
// [CatalogClient] is stateless apart from its HTTP client and rate limiter.
// Reads are GET requests with query parameters, writes are JSON POSTs.
// Resource writes that carry a [Content] upload switch to multipart/form-data with the file in the "upload" part.
//
// The endpoint token is sent as the Authorization header on action calls.
// [CatalogClient.FetchContent] only sends it when the file lives on the same origin as the catalog.
//
// # Error Handling
//
// Responses with success=false are decoded into [APIError], which wraps a sentinel from the shared package:
//   - [shared.ErrNotFound] : the backend reported "Not Found Error"
//   - [shared.ErrRemoteRejected] : validation, authorization or any other rejection
//
// Network failures wrap [shared.ErrTransport] and undecodable bodies wrap [shared.ErrUnexpectedResponse].
// Only NotFound is ever treated as "absent" by callers; everything else aborts the step.
//
// # Raw Calls
//
// [CatalogClient.Call] performs an arbitrary action and returns the raw response for the api command.
package services
