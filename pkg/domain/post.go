package domain

import (
	"time"

	"github.com/google/uuid"
)

// Post is an article written by a user. Posts are only reachable through
// authorized routes.
type Post struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Author    uuid.UUID `json:"author"`
	Votes     int       `json:"votes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
