package cacheloader

import (
	"context"

	"github.com/guildforge/backbone/internal/dbstore"
)

// RecordScrapingRun appends one epic-items scrape outcome to the history
// table. The scrape job body lives in a feature module; the backbone owns
// the bookkeeping so every deployment records runs the same way.
func (l *Loader) RecordScrapingRun(ctx context.Context, e ScrapingHistoryEntry) error {
	_, err := l.db.RunQuery(ctx, `INSERT INTO epic_items_scraping_history
		(items_scraped, items_added, items_updated, items_deleted, status, execution_time_seconds, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		[]any{e.ItemsScraped, e.ItemsAdded, e.ItemsUpdated, e.ItemsDeleted, e.Status, e.ExecutionTimeSeconds, e.ErrorMessage},
		dbstore.ModeCommit)
	return err
}

// ScrapingHistory reads up to limit rows from the scrape history table,
// for the admin surface and for the scrape job's own dedup checks.
func (l *Loader) ScrapingHistory(ctx context.Context, limit int) ([]ScrapingHistoryEntry, error) {
	res, err := l.queryAll(ctx, `SELECT items_scraped, items_added, items_updated, items_deleted, status, execution_time_seconds, error_message
		FROM epic_items_scraping_history LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	var entries []ScrapingHistoryEntry
	rows := res.Rows
	for rows.Next() {
		var e ScrapingHistoryEntry
		if err := rows.Scan(&e.ItemsScraped, &e.ItemsAdded, &e.ItemsUpdated, &e.ItemsDeleted, &e.Status, &e.ExecutionTimeSeconds, &e.ErrorMessage); err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
