package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/consolegrid/internal/cache"
	"github.com/your-org/consolegrid/internal/domain"
	"github.com/your-org/consolegrid/internal/grid"
	"github.com/your-org/consolegrid/internal/notify"
	"github.com/your-org/consolegrid/internal/search"
	"github.com/your-org/consolegrid/internal/usecases"
)

// fakeBackend records the last query and serves a fixed page
type fakeBackend struct {
	mu    sync.Mutex
	mode  domain.PagingMode
	last  domain.BackendQuery
	calls int
	page  *domain.BackendPage
	err   error
}

func (b *fakeBackend) Paging() domain.PagingMode { return b.mode }

func (b *fakeBackend) Query(_ context.Context, q domain.BackendQuery) (*domain.BackendPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = q
	b.calls++
	return b.page, b.err
}

func (b *fakeBackend) lastQuery() domain.BackendQuery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

type fakeOrganisations struct {
	orgs map[int64]*domain.Organisation
}

func (f *fakeOrganisations) GetByID(_ context.Context, id int64) (*domain.Organisation, error) {
	org, ok := f.orgs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return org, nil
}

func (f *fakeOrganisations) Update(_ context.Context, org *domain.Organisation) (*domain.Organisation, error) {
	f.orgs[org.ID] = org
	return org, nil
}

func (f *fakeOrganisations) Delete(_ context.Context, id int64) error {
	if _, ok := f.orgs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.orgs, id)
	return nil
}

type fakeTemplates struct{}

func (fakeTemplates) Create(_ context.Context, tpl *domain.EmailTemplate) (*domain.EmailTemplate, error) {
	created := *tpl
	created.ID = 99
	return &created, nil
}

type testServer struct {
	router  chi.Router
	backend *fakeBackend
	hub     *search.Hub
	feed    *notify.Feed
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	total := 42
	backend := &fakeBackend{page: &domain.BackendPage{
		Rows:  []json.RawMessage{json.RawMessage(`{"id":1,"subject":"Welcome","body":"x"}`)},
		Total: &total,
	}}

	hub := search.NewHub(logger)
	feed := notify.NewFeed(10, logger)
	grids := usecases.NewGridUsecase(feed, nil, hub, nil, logger, 4)
	require.NoError(t, grids.Register(grid.NewDefinition("email-templates", backend,
		grid.WithColumns(domain.Column{Name: "id"}, domain.Column{Name: "subject"}),
	)))

	orgCache := cache.NewShardedCache[*domain.Organisation](4, time.Minute)
	orgs := usecases.NewOrganisationUsecase(&fakeOrganisations{orgs: map[int64]*domain.Organisation{
		7: {ID: 7, Name: "Org", Contact: "Ann", Email: "ann@example.com"},
	}}, orgCache, feed, logger, 4)
	templates := usecases.NewTemplateUsecase(fakeTemplates{}, grids, feed, logger)

	t.Cleanup(func() {
		grids.Shutdown()
		orgs.Shutdown()
		hub.Close()
	})

	r := chi.NewRouter()
	NewGridHandler(grids, hub, 50, logger).Register(r)
	NewOrganisationHandler(orgs, logger).Register(r)
	NewTemplateHandler(templates, logger).Register(r)
	NewNotificationHandler(feed, logger).Register(r)

	return &testServer{router: r, backend: backend, hub: hub, feed: feed}
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestDataTablesRequest(t *testing.T) {
	s := newTestServer(t)

	q := url.Values{}
	q.Set("draw", "3")
	q.Set("start", "20")
	q.Set("length", "10")
	q.Set("order[0][column]", "1")
	q.Set("order[0][dir]", "desc")
	q.Set("columns[0][data]", "id")
	q.Set("columns[1][data]", "subject")
	q.Set("search[value]", "welcome")

	rec := s.do(t, http.MethodGet, "/grids/email-templates?"+q.Encode(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DataTablesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Draw)
	assert.Equal(t, 42, resp.RecordsTotal)
	assert.Equal(t, 42, resp.RecordsFiltered)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "Welcome", resp.Data[0]["subject"])
	_, hasBody := resp.Data[0]["body"]
	assert.False(t, hasBody)

	got := s.backend.lastQuery()
	assert.Equal(t, 2, got.PageIndex)
	assert.Equal(t, 20, got.Offset)
	assert.Equal(t, 10, got.Limit)
	assert.Equal(t, "welcome", got.Filter.Term)
	assert.Equal(t, []domain.SortOrder{{Field: "subject", Direction: domain.DirectionDesc}}, got.Sort)
}

func TestDataTablesLengthCapped(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/grids/email-templates?draw=1&start=0&length=-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, s.backend.lastQuery().Limit)

	rec = s.do(t, http.MethodGet, "/grids/email-templates?draw=1&start=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDataTablesBackendErrorStillAnswers(t *testing.T) {
	s := newTestServer(t)
	s.backend.err = errors.New("graphql: boom")

	rec := s.do(t, http.MethodGet, "/grids/email-templates?draw=9&start=0&length=10", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DataTablesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 9, resp.Draw)
	assert.Equal(t, "graphql: boom", resp.Error)
	assert.Empty(t, resp.Data)

	recent := s.feed.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, usecases.GraphQLErrorTitle, recent[0].Title)
}

func TestUnknownGrid(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/grids/nope?draw=1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPut, "/grids/email-templates/filters/nope", `{"value":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFetchJSON(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/grids/email-templates/fetch", `{"pageIndex":1,"pageSize":5,"drawToken":"abc"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp domain.GridResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "abc", resp.DrawToken)
	assert.Equal(t, 1, resp.PageIndex)
	assert.True(t, resp.TotalKnown)
	assert.Equal(t, []domain.SortOrder{{Field: "updatedAt", Direction: domain.DirectionDesc}}, s.backend.lastQuery().Sort)

	rec = s.do(t, http.MethodPost, "/grids/email-templates/fetch", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaginateDirection(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/grids/email-templates/pages/sideways", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/grids/email-templates/pages/next?draw=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp domain.GridResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "5", resp.DrawToken)
	assert.Equal(t, 1, resp.PageIndex)
}

func TestSearchRefetchesGrid(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/grids/email-templates/snapshot", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// the grid on screen drew once before the search changed
	rec = s.do(t, http.MethodGet, "/grids/email-templates?draw=1&start=0&length=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/grids/email-templates/snapshot", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPut, "/search", `{"query":"laptop"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "laptop", s.hub.Current())

	assert.Eventually(t, func() bool {
		rec := s.do(t, http.MethodGet, "/grids/email-templates/snapshot", "")
		return rec.Code == http.StatusOK
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "laptop", s.backend.lastQuery().Filter.Term)

	rec = s.do(t, http.MethodGet, "/search", "")
	assert.JSONEq(t, `{"query":"laptop"}`, rec.Body.String())
}

func TestStateWithoutStore(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/grids/email-templates/state?session=abc", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrganisationRoutes(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/organisations/x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/organisations/404", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/organisations/7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var org domain.Organisation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &org))
	assert.Equal(t, "Org", org.Name)

	rec = s.do(t, http.MethodPut, "/organisations/7", `{"name":"Org","contact":"Ann"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/organisations/7", `{"name":"Renamed","contact":"Ann","phoneNumber":"0123"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &org))
	assert.Equal(t, int64(7), org.ID)
	assert.Equal(t, "Renamed", org.Name)

	rec = s.do(t, http.MethodDelete, "/organisations/7", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/notifications?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var recent []domain.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recent))
	require.Len(t, recent, 1)
	assert.Equal(t, "Organisation Deleted", recent[0].Title)

	rec = s.do(t, http.MethodGet, "/notifications?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTemplate(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/email-templates", `{"subject":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/email-templates", `{"subject":"Welcome","active":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var tpl domain.EmailTemplate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tpl))
	assert.Equal(t, int64(99), tpl.ID)
	assert.True(t, tpl.Active)
}

func TestSessionsHaveOwnPaging(t *testing.T) {
	s := newTestServer(t)

	page := func(session, target string) domain.GridResponse {
		req := httptest.NewRequest(http.MethodPost, target, nil)
		req.Header.Set(SessionHeader, session)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp domain.GridResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp
	}

	page("alice", "/grids/email-templates/pages/next")
	alice := page("alice", "/grids/email-templates/pages/next")
	bob := page("bob", "/grids/email-templates/pages/next")

	assert.Equal(t, 2, alice.PageIndex)
	assert.Equal(t, 1, bob.PageIndex)
}
