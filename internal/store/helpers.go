package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/CareFlow/internal/models"
)

// scanNudges reads nudge rows into models. Column order matches the
// SELECT statements in the SQLite and Postgres backends.
func scanNudges(rows *sql.Rows) ([]models.Nudge, error) {
	var out []models.Nudge
	for rows.Next() {
		var n models.Nudge
		var priority, status string
		if err := rows.Scan(&n.ID, &n.Trigger, &n.UserID, &n.Payload, &priority, &status, &n.NotBefore, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan nudge failed: %w", err)
		}
		n.Priority = models.NudgePriority(priority)
		n.Status = models.NudgeStatus(status)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nudge rows failed: %w", err)
	}
	return out, nil
}
