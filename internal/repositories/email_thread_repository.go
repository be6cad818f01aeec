package repositories

import (
	"context"

	"go.uber.org/zap"

	"github.com/your-org/consolegrid/internal/domain"
	"github.com/your-org/consolegrid/internal/graphql"
)

const findAllThreadsQuery = `
query findAllThreads($maxResults: Int, $query: String, $pageToken: String, $id: String) {
  emailThreads(filter: {
    maxResults: $maxResults
    query: $query
    pageToken: $pageToken
    id: $id
  }) {
    resultSizeEstimate
    nextPageToken
    threads {
      id
      snippet
      historyId
      messages {
        id
        internalDate
        labelIds
        snippet
        threadId
        payload {
          to: headers(keys: ["To"]) { name value }
          subject: headers(keys: ["Subject"]) { name value }
          html: content(mimeType: "text/html") { body { decodedData } }
          text: content(mimeType: "text/plain") { body { decodedData } }
        }
      }
    }
  }
}`

// ThreadIDParam is the filter field carrying a thread id
const ThreadIDParam = "id"

// EmailThreadRepository serves the mailbox thread grid. The mailbox API pages
// by continuation token.
type EmailThreadRepository struct {
	client     Doer
	maxResults int
	logger     *zap.Logger
}

// NewEmailThreadRepository creates the repository; maxResults is used when a
// query carries no limit
func NewEmailThreadRepository(client Doer, maxResults int, logger *zap.Logger) *EmailThreadRepository {
	if maxResults < 1 {
		maxResults = 5
	}
	return &EmailThreadRepository{client: client, maxResults: maxResults, logger: logger}
}

// Paging implements domain.GridBackend
func (r *EmailThreadRepository) Paging() domain.PagingMode {
	return domain.PagingCursor
}

// Query implements domain.GridBackend. The mailbox orders threads itself,
// q.Sort is not sent.
func (r *EmailThreadRepository) Query(ctx context.Context, q domain.BackendQuery) (*domain.BackendPage, error) {
	limit := q.Limit
	if limit < 1 {
		limit = r.maxResults
	}

	vars := map[string]any{
		"maxResults": limit,
		"query":      q.Filter.Term,
	}
	if q.PageToken != "" {
		vars["pageToken"] = q.PageToken
	}
	if id := q.Filter.Fields[ThreadIDParam]; id != "" {
		vars["id"] = id
	}

	resp, err := r.client.Do(ctx, graphql.Request{
		Query:         findAllThreadsQuery,
		OperationName: "findAllThreads",
		Variables:     vars,
	})
	if err != nil {
		return nil, err
	}

	threads := resp.Get("emailThreads")
	page := &domain.BackendPage{
		Rows:          rowsAt(threads.Get("threads")),
		Total:         intAt(threads.Get("resultSizeEstimate")),
		NextPageToken: stringAt(threads.Get("nextPageToken")),
	}

	r.logger.Debug("email threads fetched",
		zap.Int("threads", len(page.Rows)),
		zap.Bool("has_next", page.NextPageToken != nil && *page.NextPageToken != ""),
	)
	return page, nil
}

var _ domain.GridBackend = (*EmailThreadRepository)(nil)
