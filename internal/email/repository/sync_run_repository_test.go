package repository

import (
	"context"
	"testing"
	"time"

	emaildomain "dealdesk-backend/internal/email/domain"
	"dealdesk-backend/pkg/database/dbtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncRunRepository_RecordKeepsNewest(t *testing.T) {
	db := dbtest.New(t)
	dbtest.CreateUser(t, db, "user-1")
	repo := &syncRunRepository{db: db, keep: 3}
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Record(ctx, &emaildomain.SyncRun{
			UserID:     "user-1",
			Mode:       "delta",
			Outcome:    "ok",
			Inserted:   i,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + time.Second),
		}))
	}

	runs, err := repo.ListByUser(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, 4, runs[0].Inserted)
	assert.Equal(t, 2, runs[2].Inserted)
}
