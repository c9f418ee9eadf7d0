package engagement

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/streamify/streamify/internal/apperr"
	"github.com/streamify/streamify/internal/database"
)

const (
	insertViewerSQL = `INSERT INTO video_viewers (video_id, viewer_id, authenticated)
		VALUES ($1, $2, $3)
		ON CONFLICT (video_id, viewer_id) DO NOTHING`

	countViewSQL = `UPDATE videos SET
			views = views + 1,
			user_views = user_views + CASE WHEN $2::boolean THEN 1 ELSE 0 END,
			guest_views = guest_views + CASE WHEN $2::boolean THEN 0 ELSE 1 END,
			roster_size = roster_size + 1,
			avg_watch_time = round((total_watch_time / (views + 1))::numeric, 2)::double precision,
			updated_at = now()
		WHERE id = $1
		RETURNING views, user_views, guest_views, roster_size`

	currentViewsSQL = `SELECT views, user_views, guest_views FROM videos WHERE id = $1`

	upsertBreakdownSQL = `INSERT INTO video_view_breakdown (video_id, dimension, value, views)
		SELECT $1, d.dimension, d.value, 1
		FROM unnest($2::text[], $3::text[]) AS d(dimension, value)
		ON CONFLICT (video_id, dimension, value)
		DO UPDATE SET views = video_view_breakdown.views + 1`

	trimRosterSQL = `DELETE FROM video_viewers
		WHERE video_id = $1
		  AND seq NOT IN (
			SELECT seq FROM video_viewers WHERE video_id = $1 ORDER BY seq DESC LIMIT $2
		  )`

	shrinkRosterSQL = `UPDATE videos SET roster_size = roster_size - $2 WHERE id = $1`

	addWatchTimeSQL = `UPDATE videos SET
			total_watch_time = total_watch_time + $2::double precision,
			user_watch_time = user_watch_time + CASE WHEN $3::boolean THEN $2::double precision ELSE 0 END,
			guest_watch_time = guest_watch_time + CASE WHEN $3::boolean THEN 0 ELSE $2::double precision END,
			avg_watch_time = round(((total_watch_time + $2::double precision) / GREATEST(views, 1))::numeric, 2)::double precision,
			updated_at = now()
		WHERE id = $1
		RETURNING total_watch_time, user_watch_time, guest_watch_time, avg_watch_time, duration`

	upsertProgressSQL = `INSERT INTO watch_history (user_id, video_id, watched_seconds, total_duration, watched_at)
		VALUES ($1, $2,
			CASE WHEN $4::integer > 0 THEN LEAST($3::double precision, $4::integer) ELSE $3::double precision END,
			$4::integer, now())
		ON CONFLICT (user_id, video_id) DO UPDATE SET
			watched_seconds = CASE
				WHEN EXCLUDED.total_duration > 0
				THEN LEAST(watch_history.watched_seconds + $3::double precision, EXCLUDED.total_duration)
				ELSE watch_history.watched_seconds + $3::double precision
			END,
			total_duration = EXCLUDED.total_duration,
			watched_at = now()`
)

type PostgresStore struct {
	db database.DBTX
}

func NewPostgresStore(db database.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) RegisterView(ctx context.Context, ev ViewEvent) (ViewResult, error) {
	var res ViewResult
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, insertViewerSQL, ev.VideoID, ev.ViewerID, ev.Authenticated)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return tx.QueryRow(ctx, currentViewsSQL, ev.VideoID).
				Scan(&res.Counts.Views, &res.Counts.UserViews, &res.Counts.GuestViews)
		}

		res.Counted = true
		var roster int
		if err := tx.QueryRow(ctx, countViewSQL, ev.VideoID, ev.Authenticated).
			Scan(&res.Counts.Views, &res.Counts.UserViews, &res.Counts.GuestViews, &roster); err != nil {
			return err
		}

		dims, values := ev.breakdown()
		if _, err := tx.Exec(ctx, upsertBreakdownSQL, ev.VideoID, dims, values); err != nil {
			return err
		}

		if roster <= RosterLimit {
			return nil
		}
		tag, err = tx.Exec(ctx, trimRosterSQL, ev.VideoID, RosterRetain)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, shrinkRosterSQL, ev.VideoID, tag.RowsAffected()); err != nil {
			return err
		}
		res.Truncated = true
		return nil
	})
	if err != nil {
		return ViewResult{}, apperr.FromDB(err, "video not found")
	}
	return res, nil
}

func (s *PostgresStore) ReportWatchTime(ctx context.Context, r WatchReport) (WatchTimeTotals, error) {
	var totals WatchTimeTotals
	err := database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var duration int
		if err := tx.QueryRow(ctx, addWatchTimeSQL, r.VideoID, r.Seconds, r.Authenticated).Scan(
			&totals.TotalWatchTime, &totals.UserWatchTime, &totals.GuestWatchTime, &totals.AvgWatchTime, &duration,
		); err != nil {
			return err
		}
		if !r.Authenticated {
			return nil
		}
		if _, err := tx.Exec(ctx, upsertProgressSQL, r.ViewerID, r.VideoID, r.Seconds, duration); err != nil {
			// the video row was just updated, so a foreign key failure here is the user
			if isForeignKeyViolation(err) {
				return apperr.Unauthorized("account no longer exists")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return WatchTimeTotals{}, apperr.FromDB(err, "video not found")
	}
	return totals, nil
}

func (ev ViewEvent) breakdown() (dimensions, values []string) {
	return []string{"browser", "device", "country"},
		[]string{ev.Browser, ev.Device, ev.Country}
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
