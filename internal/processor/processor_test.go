package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/consolegrid/internal/domain"
)

func threadRows(n int) []json.RawMessage {
	raws := make([]json.RawMessage, n)
	for i := 0; i < n; i++ {
		raws[i] = json.RawMessage(fmt.Sprintf(
			`{"id":"t-%d","snippet":"hello %d","messages":[{"payload":{"subject":[{"name":"Subject","value":"Subject %d"}]}}]}`,
			i, i, i,
		))
	}
	return raws
}

var threadColumns = []domain.Column{
	{Name: "id"},
	{Name: "subject", Path: "messages.0.payload.subject.0.value"},
	{Name: "messages", Path: "messages.#"},
}

// TestProjectorOrderPreservation tests that the projector preserves row order
func TestProjectorOrderPreservation(t *testing.T) {
	projector := NewOrderedProjector(5, 100, zaptest.NewLogger(t))
	projector.Start()
	defer projector.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := projector.Project(ctx, threadColumns, threadRows(100))
	require.NoError(t, err)
	require.Len(t, rows, 100)

	for i, row := range rows {
		assert.Equal(t, fmt.Sprintf("t-%d", i), row["id"], "order should be preserved at index %d", i)
		assert.Equal(t, fmt.Sprintf("Subject %d", i), row["subject"])
		assert.Equal(t, float64(1), row["messages"])
	}
}

// TestProjectorConcurrentPages tests that concurrent pages never mix results
func TestProjectorConcurrentPages(t *testing.T) {
	projector := NewOrderedProjector(4, 16, zaptest.NewLogger(t))
	projector.Start()
	defer projector.Stop()

	ctx := context.Background()
	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			raws := make([]json.RawMessage, 20)
			for i := range raws {
				raws[i] = json.RawMessage(fmt.Sprintf(`{"page":%d,"index":%d}`, page, i))
			}
			rows, err := projector.Project(ctx, nil, raws)
			if !assert.NoError(t, err) {
				return
			}
			for i, row := range rows {
				assert.Equal(t, float64(page), row["page"])
				assert.Equal(t, float64(i), row["index"])
			}
		}(p)
	}
	wg.Wait()
}

// TestProjectorInvalidRow tests that a broken row fails the page
func TestProjectorInvalidRow(t *testing.T) {
	projector := NewOrderedProjector(2, 10, zaptest.NewLogger(t))
	projector.Start()
	defer projector.Stop()

	raws := []json.RawMessage{
		json.RawMessage(`{"id":1}`),
		json.RawMessage(`{"id":`),
	}
	_, err := projector.Project(context.Background(), nil, raws)
	assert.Error(t, err)

	_, err = projector.Project(context.Background(), nil, []json.RawMessage{json.RawMessage(`[1,2]`)})
	assert.Error(t, err)
}

// TestProjectorGracefulShutdown tests that a stopped projector rejects work
func TestProjectorGracefulShutdown(t *testing.T) {
	projector := NewOrderedProjector(2, 1, zaptest.NewLogger(t))
	projector.Start()
	projector.Stop()
	projector.Stop()

	_, err := projector.Project(context.Background(), nil, threadRows(5))
	assert.Error(t, err)

	rows, err := projector.Project(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// TestProjectRow tests column extraction
func TestProjectRow(t *testing.T) {
	raw := json.RawMessage(`{"id":5,"subject":"Hi","nested":{"count":3}}`)

	row, err := ProjectRow([]domain.Column{
		{Name: "id"},
		{Name: "count", Path: "nested.count"},
		{Name: "missing"},
	}, raw)
	require.NoError(t, err)
	assert.Equal(t, domain.Row{"id": float64(5), "count": float64(3), "missing": nil}, row)

	whole, err := ProjectRow(nil, raw)
	require.NoError(t, err)
	assert.Equal(t, "Hi", whole["subject"])
}
