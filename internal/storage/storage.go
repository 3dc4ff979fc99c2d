package storage

import (
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrAgentNotFound    = errors.New("agent not found")
	ErrAlertNotFound    = errors.New("alert not found")
	ErrCheckNotFound    = errors.New("check not found")
	ErrTaskNotFound     = errors.New("task not found")
	ErrTaskExists       = errors.New("task already exists")
	ErrTemplateNotFound = errors.New("alert template not found")
	ErrPolicyNotFound   = errors.New("policy not found")
	ErrSiteNotFound     = errors.New("site not found")
	ErrClientNotFound   = errors.New("client not found")
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{db: db}
}

func (s *Storage) Ping() error {
	return s.db.Ping()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
