package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/your-org/consolegrid/internal/domain"
	"github.com/your-org/consolegrid/internal/graphql"
)

const organisationFields = `
    id
    website
    phoneNumber
    contact
    name
    email
    createdAt
    updatedAt
    kits {
      id
      model
      age
      type
      status
      location
      updatedAt
      createdAt
    }
    attributes {
      notes
      accepts
      alternateAccepts
      request { laptops tablets phones allInOnes }
      alternateRequest { laptops tablets phones allInOnes }
    }`

const findOrganisationQuery = `
query findOrganisation($id: Long!) {
  organisation(where: { id: { _eq: $id } }) {` + organisationFields + `
  }
}`

const updateOrganisationMutation = `
mutation updateOrganisation($data: UpdateOrganisationInput!) {
  updateOrganisation(data: $data) {` + organisationFields + `
  }
}`

const deleteOrganisationMutation = `
mutation deleteOrganisation($id: ID!) {
  deleteOrganisation(id: $id)
}`

// OrganisationRepository reads and writes organisations through the platform API
type OrganisationRepository struct {
	client Doer
	logger *zap.Logger
}

// NewOrganisationRepository creates the repository
func NewOrganisationRepository(client Doer, logger *zap.Logger) *OrganisationRepository {
	return &OrganisationRepository{client: client, logger: logger}
}

// GetByID implements domain.OrganisationRepository
func (r *OrganisationRepository) GetByID(ctx context.Context, id int64) (*domain.Organisation, error) {
	resp, err := r.client.Do(ctx, graphql.Request{
		Query:         findOrganisationQuery,
		OperationName: "findOrganisation",
		Variables:     map[string]any{"id": id},
	})
	if err != nil {
		return nil, err
	}
	org, err := decodeOrganisation(resp, "organisation")
	if err != nil {
		return nil, fmt.Errorf("organisation %d: %w", id, err)
	}
	return org, nil
}

// Update implements domain.OrganisationRepository
func (r *OrganisationRepository) Update(ctx context.Context, org *domain.Organisation) (*domain.Organisation, error) {
	data := map[string]any{
		"id":          org.ID,
		"name":        org.Name,
		"website":     org.Website,
		"phoneNumber": org.PhoneNumber,
		"contact":     org.Contact,
		"email":       org.Email,
		"attributes":  org.Attributes,
	}

	resp, err := r.client.Do(ctx, graphql.Request{
		Query:         updateOrganisationMutation,
		OperationName: "updateOrganisation",
		Variables:     map[string]any{"data": data},
	})
	if err != nil {
		return nil, err
	}
	updated, err := decodeOrganisation(resp, "updateOrganisation")
	if err != nil {
		return nil, fmt.Errorf("organisation %d: %w", org.ID, err)
	}
	r.logger.Info("organisation updated", zap.Int64("id", updated.ID))
	return updated, nil
}

// Delete implements domain.OrganisationRepository
func (r *OrganisationRepository) Delete(ctx context.Context, id int64) error {
	resp, err := r.client.Do(ctx, graphql.Request{
		Query:         deleteOrganisationMutation,
		OperationName: "deleteOrganisation",
		Variables:     map[string]any{"id": strconv.FormatInt(id, 10)},
	})
	if err != nil {
		return err
	}
	if ok := resp.Get("deleteOrganisation"); ok.Exists() && !ok.Bool() {
		return fmt.Errorf("organisation %d: %w", id, domain.ErrNotFound)
	}
	r.logger.Info("organisation deleted", zap.Int64("id", id))
	return nil
}

func decodeOrganisation(resp *graphql.Response, path string) (*domain.Organisation, error) {
	raw := resp.Get(path)
	if !raw.IsObject() {
		return nil, domain.ErrNotFound
	}
	var org domain.Organisation
	if err := json.Unmarshal([]byte(raw.Raw), &org); err != nil {
		return nil, fmt.Errorf("failed to decode organisation: %w", err)
	}
	return &org, nil
}

var _ domain.OrganisationRepository = (*OrganisationRepository)(nil)
