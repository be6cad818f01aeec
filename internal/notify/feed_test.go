package notify

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/your-org/consolegrid/internal/domain"
)

func TestFeedKeepsNewestFirst(t *testing.T) {
	feed := NewFeed(3, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		feed.Notify(ctx, domain.Notification{Title: fmt.Sprintf("n%d", i)})
	}

	all := feed.Recent(0)
	require.Len(t, all, 3)
	assert.Equal(t, "n4", all[0].Title)
	assert.Equal(t, "n2", all[2].Title)

	two := feed.Recent(2)
	assert.Equal(t, []string{"n4", "n3"}, []string{two[0].Title, two[1].Title})
	assert.Len(t, feed.Recent(50), 3)
}

func TestFeedFillsDefaults(t *testing.T) {
	feed := NewFeed(0, nil)
	assert.Equal(t, defaultCapacity, feed.capacity)

	feed.Notify(context.Background(), domain.Notification{Title: "GraphQL Error", Message: "  raw message "})
	n := feed.Recent(1)[0]
	assert.NotEmpty(t, n.ID)
	assert.False(t, n.CreatedAt.IsZero())
	assert.Equal(t, domain.SeverityInfo, n.Severity)
	assert.Equal(t, "  raw message ", n.Message, "message is stored unmodified")
}

func TestFeedLogsBySeverity(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	feed := NewFeed(10, zap.New(core))
	ctx := context.Background()

	feed.Notify(ctx, domain.Notification{Severity: domain.SeverityError, Title: "GraphQL Error", Source: "email-templates"})
	feed.Notify(ctx, domain.Notification{Severity: domain.SeverityWarning, Title: "GraphQL Error"})
	feed.Notify(ctx, domain.Notification{Title: "Organisation Updated"})

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zap.ErrorLevel, entries[0].Level)
	assert.Equal(t, "email-templates", entries[0].ContextMap()["source"])
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, zap.InfoLevel, entries[2].Level)
}
