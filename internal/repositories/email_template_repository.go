package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/your-org/consolegrid/internal/domain"
	"github.com/your-org/consolegrid/internal/graphql"
)

const findAllTemplatesQuery = `
query findAllTemplates($page: PaginationInput, $term: String) {
  emailTemplatesConnection(page: $page, where: {
    AND: {
      OR: [
        { subject: { _contains: $term } },
        { body: { _contains: $term } }
      ]
    }
  }) {
    totalElements
    content {
      id
      active
      subject
      body
      createdAt
      updatedAt
    }
  }
}`

const createTemplateMutation = `
mutation createEmailTemplate($data: CreateEmailTemplateInput!) {
  createEmailTemplate(data: $data) {
    id
    active
    subject
    body
    createdAt
    updatedAt
  }
}`

// EmailTemplateRepository serves the email template index grid (page number paging)
// and creates templates.
type EmailTemplateRepository struct {
	client Doer
	logger *zap.Logger
}

// NewEmailTemplateRepository creates the repository
func NewEmailTemplateRepository(client Doer, logger *zap.Logger) *EmailTemplateRepository {
	return &EmailTemplateRepository{client: client, logger: logger}
}

// Paging implements domain.GridBackend
func (r *EmailTemplateRepository) Paging() domain.PagingMode {
	return domain.PagingOffset
}

// Query implements domain.GridBackend
func (r *EmailTemplateRepository) Query(ctx context.Context, q domain.BackendQuery) (*domain.BackendPage, error) {
	sort := make([]map[string]string, 0, len(q.Sort))
	for _, s := range q.Sort {
		sort = append(sort, map[string]string{"key": s.Field, "value": string(s.Direction)})
	}

	resp, err := r.client.Do(ctx, graphql.Request{
		Query:         findAllTemplatesQuery,
		OperationName: "findAllTemplates",
		Variables: map[string]any{
			"page": map[string]any{
				"sort": sort,
				"size": q.Limit,
				"page": q.PageIndex,
			},
			"term": q.Filter.Term,
		},
	})
	if err != nil {
		return nil, err
	}

	conn := resp.Get("emailTemplatesConnection")
	return &domain.BackendPage{
		Rows:  rowsAt(conn.Get("content")),
		Total: intAt(conn.Get("totalElements")),
	}, nil
}

// Create stores a new template. The body starts out empty.
func (r *EmailTemplateRepository) Create(ctx context.Context, tpl *domain.EmailTemplate) (*domain.EmailTemplate, error) {
	resp, err := r.client.Do(ctx, graphql.Request{
		Query:         createTemplateMutation,
		OperationName: "createEmailTemplate",
		Variables: map[string]any{
			"data": map[string]any{
				"subject": tpl.Subject,
				"active":  tpl.Active,
				"body":    tpl.Body,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	raw := resp.Get("createEmailTemplate")
	if !raw.IsObject() {
		return nil, fmt.Errorf("createEmailTemplate returned no template")
	}
	var created domain.EmailTemplate
	if err := json.Unmarshal([]byte(raw.Raw), &created); err != nil {
		return nil, fmt.Errorf("failed to decode template: %w", err)
	}

	r.logger.Info("email template created",
		zap.Int64("id", created.ID),
		zap.String("subject", created.Subject),
	)
	return &created, nil
}

var (
	_ domain.GridBackend        = (*EmailTemplateRepository)(nil)
	_ domain.TemplateRepository = (*EmailTemplateRepository)(nil)
)
