package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")
	ErrMissingEndpoint    = fmt.Errorf("missing catalog endpoint")
	ErrTimeout            = fmt.Errorf("operation timed out")

	// Catalog errors
	ErrNotFound            = fmt.Errorf("entity not found")
	ErrRemoteRejected      = fmt.Errorf("catalog rejected request")
	ErrTransport           = fmt.Errorf("catalog transport failure")
	ErrSchemaConflict      = fmt.Errorf("table schema conflict")
	ErrDatasetNotFound     = fmt.Errorf("dataset not found")
	ErrOrganizationMissing = fmt.Errorf("target organization not found")
	ErrUnexpectedResponse  = fmt.Errorf("unexpected catalog response")

	// Migration errors
	ErrStepFailed      = fmt.Errorf("migration step failed")
	ErrPublishFailed   = fmt.Errorf("publish failed")
	ErrPublishCanceled = fmt.Errorf("publish canceled")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
