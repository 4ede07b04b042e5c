package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrEntryNotFound is returned by Get when no entry has the requested id
var ErrEntryNotFound = errors.New("audit entry not found")

// Store provides methods for querying audit logs. There are no update or
// delete methods: the log is append-only.
type Store interface {
	// Search returns one page of entries matching the filter
	Search(ctx context.Context, filter Filter) (*Page, error)

	// Get retrieves a specific entry by ID
	Get(ctx context.Context, id uuid.UUID) (*Entry, error)

	// GetStats retrieves counts per action
	GetStats(ctx context.Context, startTime, endTime *time.Time) (*Stats, error)

	// Export renders all matching entries in the specified format
	Export(ctx context.Context, filter Filter, format ExportFormat) ([]byte, error)
}

// DBStore implements Store using PostgreSQL
type DBStore struct {
	db *sql.DB
}

// NewDBStore creates a new database-backed audit store
func NewDBStore(db *sql.DB) (*DBStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	store := &DBStore{db: db}
	if err := store.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure subscription_audit_logs table: %w", err)
	}

	return store, nil
}

// ensureTable creates the subscription_audit_logs table if it doesn't exist
func (s *DBStore) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS subscription_audit_logs (
		id UUID PRIMARY KEY,
		subscription_id UUID,
		tenant_id UUID,
		action VARCHAR(50) NOT NULL,
		"user" VARCHAR(255) NOT NULL,
		details JSONB,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		ip_address VARCHAR(45)
	);

	CREATE INDEX IF NOT EXISTS idx_sub_audit_logs_subscription ON subscription_audit_logs(subscription_id, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_sub_audit_logs_tenant ON subscription_audit_logs(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_sub_audit_logs_action ON subscription_audit_logs(action);
	CREATE INDEX IF NOT EXISTS idx_sub_audit_logs_timestamp ON subscription_audit_logs(timestamp DESC);
	`

	_, err := s.db.Exec(query)
	return err
}

const selectEntryColumns = `
	SELECT id, subscription_id, tenant_id, action, "user", details, timestamp, ip_address
	FROM subscription_audit_logs
`

// buildWhere renders the filter into a WHERE clause and its arguments
func buildWhere(filter Filter) (string, []interface{}) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argCount := 1

	if filter.SubscriptionID != nil {
		where += fmt.Sprintf(" AND subscription_id = $%d", argCount)
		args = append(args, filter.SubscriptionID.String())
		argCount++
	}

	if filter.TenantID != nil {
		where += fmt.Sprintf(" AND tenant_id = $%d", argCount)
		args = append(args, filter.TenantID.String())
		argCount++
	}

	if len(filter.Actions) > 0 {
		where += fmt.Sprintf(" AND action = ANY($%d)", argCount)
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		args = append(args, pq.Array(actions))
		argCount++
	}

	if filter.User != "" {
		where += fmt.Sprintf(` AND "user" = $%d`, argCount)
		args = append(args, filter.User)
		argCount++
	}

	if filter.StartTime != nil {
		where += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		where += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.EndTime)
	}

	return where, args
}

// Search returns one page of entries, newest first unless SortOrder is "asc"
func (s *DBStore) Search(ctx context.Context, filter Filter) (*Page, error) {
	filter.Normalize()
	where, args := buildWhere(filter)

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM subscription_audit_logs"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count audit entries: %w", err)
	}

	order := "DESC"
	if filter.SortOrder == "asc" {
		order = "ASC"
	}
	query := selectEntryColumns + where + fmt.Sprintf(" ORDER BY timestamp %s LIMIT $%d OFFSET $%d", order, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	entries, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return &Page{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
		HasMore: int64(filter.Offset+len(entries)) < total,
	}, nil
}

// Get retrieves a specific entry by ID
func (s *DBStore) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	entries, err := s.query(ctx, selectEntryColumns+" WHERE id = $1", id.String())
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrEntryNotFound
	}
	return entries[0], nil
}

// GetStats retrieves audit log statistics for the time range
func (s *DBStore) GetStats(ctx context.Context, startTime, endTime *time.Time) (*Stats, error) {
	stats := &Stats{
		EntriesByAction: make(map[Action]int64),
	}

	where, args := buildWhere(Filter{StartTime: startTime, EndTime: endTime})
	if startTime != nil || endTime != nil {
		stats.TimeRange = &TimeRange{}
		if startTime != nil {
			stats.TimeRange.Start = *startTime
		}
		if endTime != nil {
			stats.TimeRange.End = *endTime
		}
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT subscription_id), COUNT(DISTINCT "user") FROM subscription_audit_logs`+where, args...,
	).Scan(&stats.TotalEntries, &stats.UniqueSubscriptions, &stats.UniqueUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit totals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT action, COUNT(*) FROM subscription_audit_logs"+where+" GROUP BY action", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get entries by action: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var action string
		var count int64
		if err := rows.Scan(&action, &count); err != nil {
			return nil, fmt.Errorf("failed to scan action count: %w", err)
		}
		stats.EntriesByAction[Action(action)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action counts: %w", err)
	}

	return stats, nil
}

// Export renders every entry matching the filter, ignoring pagination
func (s *DBStore) Export(ctx context.Context, filter Filter, format ExportFormat) ([]byte, error) {
	where, args := buildWhere(filter)
	order := "DESC"
	if filter.SortOrder == "asc" {
		order = "ASC"
	}

	entries, err := s.query(ctx, selectEntryColumns+where+" ORDER BY timestamp "+order, args...)
	if err != nil {
		return nil, err
	}

	return Render(entries, format)
}

func (s *DBStore) query(ctx context.Context, query string, args ...interface{}) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var (
		entry          Entry
		subscriptionID sql.NullString
		tenantID       sql.NullString
		action         string
		details        []byte
		ip             sql.NullString
	)

	if err := rows.Scan(&entry.ID, &subscriptionID, &tenantID, &action, &entry.User, &details, &entry.Timestamp, &ip); err != nil {
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}

	entry.Action = Action(action)
	entry.IPAddress = ip.String

	if subscriptionID.Valid {
		id, err := uuid.Parse(subscriptionID.String)
		if err != nil {
			return nil, fmt.Errorf("invalid subscription id in audit entry: %w", err)
		}
		entry.SubscriptionID = &id
	}
	if tenantID.Valid {
		id, err := uuid.Parse(tenantID.String)
		if err != nil {
			return nil, fmt.Errorf("invalid tenant id in audit entry: %w", err)
		}
		entry.TenantID = &id
	}

	if len(details) > 0 {
		if err := json.Unmarshal(details, &entry.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit details: %w", err)
		}
	}

	return &entry, nil
}
