package domain

import "context"

// GridBackend executes one grid query against the platform API
type GridBackend interface {
	// Paging reports which paging strategy the backend uses
	Paging() PagingMode

	// Query fetches a single page
	Query(ctx context.Context, q BackendQuery) (*BackendPage, error)
}

// OrganisationRepository defines organisation persistence
type OrganisationRepository interface {
	// GetByID retrieves an organisation by ID
	GetByID(ctx context.Context, id int64) (*Organisation, error)

	// Update stores an organisation and returns the saved version
	Update(ctx context.Context, org *Organisation) (*Organisation, error)

	// Delete deletes an organisation by ID
	Delete(ctx context.Context, id int64) error
}

// TemplateRepository creates email templates
type TemplateRepository interface {
	Create(ctx context.Context, tpl *EmailTemplate) (*EmailTemplate, error)
}

// GridStateRepository persists grid positions between sessions
type GridStateRepository interface {
	Save(ctx context.Context, state *GridState) error
	Get(ctx context.Context, id string) (*GridState, error)
	Delete(ctx context.Context, id string) error
}

// HealthChecker defines the interface for health checks
type HealthChecker interface {
	// CheckConnection checks if the database connection is healthy
	CheckConnection(ctx context.Context) error

	// EnsureCollections ensures that required collections/namespaces exist
	EnsureCollections(ctx context.Context) error
}
