//go:build integration

package engagement

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/streamify/streamify/internal/apperr"
	"github.com/streamify/streamify/internal/auth"
	"github.com/streamify/streamify/internal/database"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("streamify"),
		postgres.WithUsername("streamify"),
		postgres.WithPassword("streamify"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, database.MigrateURL(connStr))

	db, err := database.Connect(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db.Pool
}

func seedVideo(t *testing.T, pool *pgxpool.Pool, duration int) (userID, videoID string) {
	t.Helper()
	ctx := context.Background()
	email := fmt.Sprintf("owner-%d@example.com", time.Now().UnixNano())
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO users (name, email, password) VALUES ('Owner', $1, 'x') RETURNING id`, email,
	).Scan(&userID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO videos (user_id, title, url, duration) VALUES ($1, 'clip', 'https://cdn.test/clip.mp4', $2) RETURNING id`,
		userID, duration,
	).Scan(&videoID))
	return userID, videoID
}

type videoRow struct {
	views, userViews, guestViews int64
	roster                       int
	total, avg                   float64
}

func loadVideo(t *testing.T, pool *pgxpool.Pool, videoID string) videoRow {
	t.Helper()
	var v videoRow
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT views, user_views, guest_views, roster_size, total_watch_time, avg_watch_time FROM videos WHERE id = $1`,
		videoID,
	).Scan(&v.views, &v.userViews, &v.guestViews, &v.roster, &v.total, &v.avg))
	return v
}

func TestIntegration_Engagement(t *testing.T) {
	pool := setupTestDB(t)
	svc := NewService(NewPostgresStore(pool), nil, nil, nil)
	ctx := context.Background()

	t.Run("guest viewing twice counts once", func(t *testing.T) {
		_, videoID := seedVideo(t, pool, 0)
		g1 := auth.Viewer{ID: "g1"}

		_, err := svc.RegisterView(ctx, videoID, g1)
		require.NoError(t, err)
		counts, err := svc.RegisterView(ctx, videoID, g1)
		require.NoError(t, err)

		assert.Equal(t, ViewCounts{Views: 1, UserViews: 0, GuestViews: 1}, counts)
	})

	t.Run("missing video is not found", func(t *testing.T) {
		_, err := svc.RegisterView(ctx, "00000000-0000-0000-0000-000000000000", auth.Viewer{ID: "g1"})
		assert.True(t, apperr.IsNotFound(err), "got %v", err)

		_, err = svc.ReportWatchTime(ctx, "00000000-0000-0000-0000-000000000000", auth.Viewer{ID: "g1"}, 3)
		assert.True(t, apperr.IsNotFound(err), "got %v", err)
	})

	t.Run("history progress is clamped to duration", func(t *testing.T) {
		userID, videoID := seedVideo(t, pool, 100)
		viewer := auth.Viewer{ID: userID, Authenticated: true}

		_, err := svc.ReportWatchTime(ctx, videoID, viewer, 60)
		require.NoError(t, err)
		totals, err := svc.ReportWatchTime(ctx, videoID, viewer, 70)
		require.NoError(t, err)

		var watched float64
		var total int
		require.NoError(t, pool.QueryRow(ctx,
			`SELECT watched_seconds, total_duration FROM watch_history WHERE user_id = $1 AND video_id = $2`,
			userID, videoID,
		).Scan(&watched, &total))
		assert.Equal(t, 100.0, watched)
		assert.Equal(t, 100, total)
		assert.Equal(t, 130.0, totals.TotalWatchTime)
		assert.Equal(t, 130.0, totals.UserWatchTime)
	})

	t.Run("guests never get history", func(t *testing.T) {
		_, videoID := seedVideo(t, pool, 100)
		_, err := svc.ReportWatchTime(ctx, videoID, auth.Viewer{ID: "guest_x"}, 10)
		require.NoError(t, err)

		var n int
		require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM watch_history WHERE video_id = $1`, videoID).Scan(&n))
		assert.Zero(t, n)
	})

	t.Run("average is rounded over counted views", func(t *testing.T) {
		_, videoID := seedVideo(t, pool, 0)
		for _, id := range []string{"a", "b", "c"} {
			_, err := svc.RegisterView(ctx, videoID, auth.Viewer{ID: id})
			require.NoError(t, err)
		}

		totals, err := svc.ReportWatchTime(ctx, videoID, auth.Viewer{ID: "a"}, 10)
		require.NoError(t, err)
		assert.Equal(t, 3.33, totals.AvgWatchTime)

		row := loadVideo(t, pool, videoID)
		assert.Equal(t, math.Round(row.total/float64(max(row.views, 1))*100)/100, row.avg)
	})

	t.Run("counted views alone lower the average", func(t *testing.T) {
		_, videoID := seedVideo(t, pool, 0)
		_, err := svc.RegisterView(ctx, videoID, auth.Viewer{ID: "a"})
		require.NoError(t, err)
		_, err = svc.ReportWatchTime(ctx, videoID, auth.Viewer{ID: "a"}, 10)
		require.NoError(t, err)
		assert.Equal(t, 10.0, loadVideo(t, pool, videoID).avg)

		for _, id := range []string{"b", "c"} {
			_, err := svc.RegisterView(ctx, videoID, auth.Viewer{ID: id})
			require.NoError(t, err)
		}
		row := loadVideo(t, pool, videoID)
		assert.Equal(t, 10.0, row.total)
		assert.Equal(t, 3.33, row.avg)
	})

	t.Run("watch time from a deleted account is rejected atomically", func(t *testing.T) {
		_, videoID := seedVideo(t, pool, 100)
		var userID string
		require.NoError(t, pool.QueryRow(ctx,
			`INSERT INTO users (name, email, password) VALUES ('Gone', $1, 'x') RETURNING id`,
			fmt.Sprintf("gone-%d@example.com", time.Now().UnixNano()),
		).Scan(&userID))
		_, err := pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
		require.NoError(t, err)
		before := loadVideo(t, pool, videoID)

		_, err = svc.ReportWatchTime(ctx, videoID, auth.Viewer{ID: userID, Authenticated: true}, 5)
		assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err), "got %v", err)
		assert.Equal(t, before, loadVideo(t, pool, videoID))
	})

	t.Run("non-positive watch time leaves no trace", func(t *testing.T) {
		userID, videoID := seedVideo(t, pool, 100)
		before := loadVideo(t, pool, videoID)

		_, err := svc.ReportWatchTime(ctx, videoID, auth.Viewer{ID: userID, Authenticated: true}, 0)
		assert.True(t, apperr.IsInvalidRequest(err))

		assert.Equal(t, before, loadVideo(t, pool, videoID))
		var n int
		require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM watch_history WHERE video_id = $1`, videoID).Scan(&n))
		assert.Zero(t, n)
	})

	t.Run("roster is trimmed to the newest entries", func(t *testing.T) {
		_, videoID := seedVideo(t, pool, 0)
		_, err := pool.Exec(ctx,
			`INSERT INTO video_viewers (video_id, viewer_id, authenticated)
			 SELECT $1, 'seed_' || g, false FROM generate_series(1, $2::int) AS g`,
			videoID, RosterLimit,
		)
		require.NoError(t, err)
		_, err = pool.Exec(ctx,
			`UPDATE videos SET views = $2, guest_views = $2, roster_size = $2 WHERE id = $1`,
			videoID, RosterLimit,
		)
		require.NoError(t, err)

		counts, err := svc.RegisterView(ctx, videoID, auth.Viewer{ID: "latecomer"})
		require.NoError(t, err)
		assert.Equal(t, int64(RosterLimit+1), counts.Views)

		row := loadVideo(t, pool, videoID)
		assert.Equal(t, RosterRetain, row.roster)

		var remaining int
		require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM video_viewers WHERE video_id = $1`, videoID).Scan(&remaining))
		assert.Equal(t, RosterRetain, remaining)

		var newestKept, oldestKept bool
		require.NoError(t, pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM video_viewers WHERE video_id = $1 AND viewer_id = 'latecomer'),
			        EXISTS (SELECT 1 FROM video_viewers WHERE video_id = $1 AND viewer_id = 'seed_1')`,
			videoID,
		).Scan(&newestKept, &oldestKept))
		assert.True(t, newestKept)
		assert.False(t, oldestKept)

		// An evicted viewer is counted again.
		counts, err = svc.RegisterView(ctx, videoID, auth.Viewer{ID: "seed_1"})
		require.NoError(t, err)
		assert.Equal(t, int64(RosterLimit+2), counts.Views)
	})

	t.Run("concurrent views and watch time lose no updates", func(t *testing.T) {
		userID, videoID := seedVideo(t, pool, 0)

		var wg sync.WaitGroup
		errs := make(chan error, 200)
		for i := 0; i < 40; i++ {
			wg.Add(3)
			go func(i int) {
				defer wg.Done()
				_, err := svc.RegisterView(ctx, videoID, auth.Viewer{ID: fmt.Sprintf("guest_%d", i)})
				errs <- err
			}(i)
			go func() {
				defer wg.Done()
				_, err := svc.RegisterView(ctx, videoID, auth.Viewer{ID: userID, Authenticated: true})
				errs <- err
			}()
			go func() {
				defer wg.Done()
				_, err := svc.ReportWatchTime(ctx, videoID, auth.Viewer{ID: userID, Authenticated: true}, 1.5)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		row := loadVideo(t, pool, videoID)
		assert.Equal(t, int64(41), row.views)
		assert.Equal(t, int64(1), row.userViews)
		assert.Equal(t, int64(40), row.guestViews)
		assert.Equal(t, row.views, row.userViews+row.guestViews)
		assert.Equal(t, 60.0, row.total)
		assert.Equal(t, 41, row.roster)
	})
}
