//go:build integration

package chat

import (
	"context"
	"testing"

	"mobilemoney/internal/database"
	"mobilemoney/internal/llm"
	"mobilemoney/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdminMemory() *AdminMemory {
	return NewAdminMemory(database.NewAdminConversationRepository(), database.NewAdminMessageRepository(), 20)
}

func TestAdminSession_Handle_AnswersAndCachesAndAudits(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)
	setupTestCache(t)
	defer cache.Close()

	provider := &scriptedProvider{responses: []llm.CompletionResponse{
		{Content: "312 new users signed up today"},
	}}
	insights := NewInsightsCache()
	limiter := NewRateLimiter(10, 100)
	audit := NewAuditLogger(database.NewAuditLogRepository())

	session := NewAdminSession(newTestAdminMemory(), NewRegistry(), provider, "test-model",
		fastSessionRetryConfig(), insights, limiter, audit, nil)

	adminID := "admin-handle-1"
	answer, err := session.Handle(context.Background(), db.Pool(), adminID, "how many users signed up today?", "127.0.0.1", "test-agent")
	require.NoError(t, err)
	assert.Equal(t, "312 new users signed up today", answer)

	cached, hit, err := insights.Get(context.Background(), "how many users signed up today?")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, answer, cached)

	logs, err := database.NewAuditLogRepository().ListByAdmin(context.Background(), db.Pool(), adminID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "chat.answered", logs[0].Action)
}

func TestAdminSession_Handle_ReturnsCachedAnswerWithoutCallingModel(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)
	setupTestCache(t)
	defer cache.Close()

	insights := NewInsightsCache()
	require.NoError(t, insights.Put(context.Background(), "how many active users this month?", "9001 active users"))

	provider := &scriptedProvider{responses: []llm.CompletionResponse{
		{Content: "this should never be reached"},
	}}
	limiter := NewRateLimiter(10, 100)
	audit := NewAuditLogger(database.NewAuditLogRepository())

	session := NewAdminSession(newTestAdminMemory(), NewRegistry(), provider, "test-model",
		fastSessionRetryConfig(), insights, limiter, audit, nil)

	adminID := "admin-handle-2"
	answer, err := session.Handle(context.Background(), db.Pool(), adminID, "how many active users this month?", "127.0.0.1", "test-agent")
	require.NoError(t, err)
	assert.Equal(t, "9001 active users", answer)
	assert.Equal(t, 0, provider.calls)
}

func TestAdminSession_Handle_RateLimitedRefusesAndAudits(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)
	setupTestCache(t)
	defer cache.Close()

	insights := NewInsightsCache()
	limiter := NewRateLimiter(0, 100)
	audit := NewAuditLogger(database.NewAuditLogRepository())
	provider := &scriptedProvider{responses: []llm.CompletionResponse{{Content: "unreachable"}}}

	session := NewAdminSession(newTestAdminMemory(), NewRegistry(), provider, "test-model",
		fastSessionRetryConfig(), insights, limiter, audit, nil)

	adminID := "admin-handle-3"
	_, err := session.Handle(context.Background(), db.Pool(), adminID, "anything", "127.0.0.1", "test-agent")
	assert.ErrorIs(t, err, ErrRateLimited)

	logs, err := database.NewAuditLogRepository().ListByAdmin(context.Background(), db.Pool(), adminID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "chat.rate_limited", logs[0].Action)
}
