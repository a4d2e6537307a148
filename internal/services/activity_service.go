package services

import (
	"database/sql"
	"time"

	"github.com/leadpay/backoffice/internal/models"
)

// ActivityService appends to and queries the user activity log. Writes are
// best-effort from the ledger's point of view; the IP burst heuristic reads
// them back.
type ActivityService struct {
	db *sql.DB
}

func NewActivityService(db *sql.DB) *ActivityService {
	return &ActivityService{db: db}
}

func (s *ActivityService) Append(userID, action, ip string, meta models.Metadata) error {
	_, err := s.db.Exec(`
		INSERT INTO activity_log (user_id, action, ip, meta, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		userID, action, ip, meta, time.Now())
	return err
}

// CountByActionIPSince counts a user's activity-log entries for one action
// from one IP after the given instant.
func (s *ActivityService) CountByActionIPSince(userID, action, ip string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM activity_log
		WHERE user_id = $1 AND action = $2 AND ip = $3 AND created_at >= $4`,
		userID, action, ip, since).Scan(&count)
	return count, err
}
