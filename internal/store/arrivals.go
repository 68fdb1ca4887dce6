package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/buswatch/buswatch_core/internal/models"
)

// AppendArrivals inserts one tick's worth of arrival records as a single
// batch. The store does not deduplicate; the collector owns tick idempotency.
func (s *Store) AppendArrivals(ctx context.Context, records []models.ArrivalRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`
			INSERT INTO bus_arrival
				(stop_code, service_no, estimated_arrival, load_status, delay_minutes, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			r.StopCode, r.ServiceNo, r.EstimatedArrival, string(r.Load), r.DelayMinutes, r.RecordedAt,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range records {
		if _, err := results.Exec(); err != nil {
			return 0, storeErr("append arrivals", err)
		}
	}

	return len(records), nil
}

// QueryArrivals returns historical records inside the query window, ordered
// by recorded_at ascending. It is a pure read and restartable.
func (s *Store) QueryArrivals(ctx context.Context, q models.ArrivalQuery) ([]models.ArrivalRecord, error) {
	sql := `
		SELECT id, stop_code, service_no, estimated_arrival, load_status, delay_minutes, recorded_at
		FROM bus_arrival
		WHERE recorded_at >= $1 AND recorded_at < $2`
	args := []interface{}{q.From, q.To}

	if q.StopCode != "" {
		args = append(args, q.StopCode)
		sql += ` AND stop_code = $3`
	}
	if q.ServiceNo != "" {
		args = append(args, q.ServiceNo)
		if q.StopCode != "" {
			sql += ` AND service_no = $4`
		} else {
			sql += ` AND service_no = $3`
		}
	}

	sql += ` ORDER BY recorded_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, storeErr("query arrivals", err)
	}
	defer rows.Close()

	return scanArrivals(rows)
}

// LatestSnapshot returns the records of the most recent collector tick: all
// rows sharing the maximum recorded_at timestamp.
func (s *Store) LatestSnapshot(ctx context.Context) ([]models.ArrivalRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, stop_code, service_no, estimated_arrival, load_status, delay_minutes, recorded_at
		FROM bus_arrival
		WHERE recorded_at = (SELECT max(recorded_at) FROM bus_arrival)
		ORDER BY id ASC`)
	if err != nil {
		return nil, storeErr("latest snapshot", err)
	}
	defer rows.Close()

	return scanArrivals(rows)
}

// PurgeArrivals removes records recorded before the given cutoff. This is
// advisory housekeeping invoked explicitly, never by the core itself.
func (s *Store) PurgeArrivals(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bus_arrival WHERE recorded_at < $1`, olderThan)
	if err != nil {
		return 0, storeErr("purge arrivals", err)
	}
	return tag.RowsAffected(), nil
}

// MaterializeHourlyStats recomputes and upserts the aggregate row for the
// hour containing the given instant. The row is a cache of bus_arrival, not
// a source of truth.
func (s *Store) MaterializeHourlyStats(ctx context.Context, at time.Time) (*models.HourlyAggregate, error) {
	hourStart := at.Truncate(time.Hour)
	hourEnd := hourStart.Add(time.Hour)

	var agg models.HourlyAggregate
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*),
			coalesce(avg(delay_minutes), 0),
			coalesce(percentile_cont(0.5) WITHIN GROUP (ORDER BY delay_minutes), 0),
			count(*) FILTER (WHERE delay_minutes > 10),
			count(*) FILTER (WHERE load_status = 'LSD')
		FROM bus_arrival
		WHERE recorded_at >= $1 AND recorded_at < $2`,
		hourStart, hourEnd,
	).Scan(&agg.TotalBuses, &agg.MeanDelay, &agg.MedianDelay, &agg.SevereDelays, &agg.LSDCount)
	if err != nil {
		return nil, storeErr("materialize hourly stats", err)
	}

	if agg.TotalBuses == 0 {
		return nil, nil
	}

	agg.Hour = hourStart.Hour()
	agg.HourStart = hourStart
	agg.SampleCount = agg.TotalBuses
	agg.LSDRatio = float64(agg.LSDCount) / float64(agg.TotalBuses)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO hourly_statistic (hour_start, total_buses, mean_delay, median_delay, severe_delays, lsd_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (hour_start) DO UPDATE SET
			total_buses = EXCLUDED.total_buses,
			mean_delay = EXCLUDED.mean_delay,
			median_delay = EXCLUDED.median_delay,
			severe_delays = EXCLUDED.severe_delays,
			lsd_count = EXCLUDED.lsd_count`,
		agg.HourStart, agg.TotalBuses, agg.MeanDelay, agg.MedianDelay, agg.SevereDelays, agg.LSDCount,
	)
	if err != nil {
		return nil, storeErr("materialize hourly stats", err)
	}

	return &agg, nil
}

// HourlyAggregates returns the materialised aggregate rows of the last
// `hours` hours, oldest first.
func (s *Store) HourlyAggregates(ctx context.Context, hours int) ([]models.HourlyAggregate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT hour_start, total_buses, mean_delay, median_delay, severe_delays, lsd_count
		FROM hourly_statistic
		WHERE hour_start >= now() - ($1 || ' hours')::interval
		ORDER BY hour_start ASC`,
		hours,
	)
	if err != nil {
		return nil, storeErr("hourly aggregates", err)
	}
	defer rows.Close()

	var aggs []models.HourlyAggregate
	for rows.Next() {
		var agg models.HourlyAggregate
		if err := rows.Scan(&agg.HourStart, &agg.TotalBuses, &agg.MeanDelay,
			&agg.MedianDelay, &agg.SevereDelays, &agg.LSDCount); err != nil {
			return nil, storeErr("hourly aggregates", err)
		}
		agg.Hour = agg.HourStart.Hour()
		agg.SampleCount = agg.TotalBuses
		if agg.TotalBuses > 0 {
			agg.LSDRatio = float64(agg.LSDCount) / float64(agg.TotalBuses)
		}
		aggs = append(aggs, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("hourly aggregates", err)
	}

	return aggs, nil
}

func scanArrivals(rows pgx.Rows) ([]models.ArrivalRecord, error) {
	var records []models.ArrivalRecord
	for rows.Next() {
		var r models.ArrivalRecord
		var load string
		if err := rows.Scan(&r.ID, &r.StopCode, &r.ServiceNo, &r.EstimatedArrival,
			&load, &r.DelayMinutes, &r.RecordedAt); err != nil {
			return nil, storeErr("scan arrival", err)
		}
		r.Load = models.LoadStatus(load)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("scan arrivals", err)
	}
	return records, nil
}
