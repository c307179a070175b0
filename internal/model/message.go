package model

import "time"

// Message is a single chat line. It is never edited after creation.
type Message struct {
	ID             string    `firestore:"-" json:"id"`
	Text           string    `firestore:"text" json:"text"`
	AuthorID       string    `firestore:"uid" json:"uid"`
	AuthorPhotoURI string    `firestore:"uri" json:"uri,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt,serverTimestamp" json:"created_at"`
}

// Before reports whether m sorts before other: by creation time, then by ID.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}
