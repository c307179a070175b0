// Package view turns session and message state into what a client shows.
package view

import (
	"time"

	"github.com/samber/lo"
	"github.com/shuymn-sandbox/firechat/internal/model"
	"github.com/shuymn-sandbox/firechat/pkg/store"
)

// Screen is a full description of one client's page. A zero Screen is the
// login prompt.
type Screen struct {
	SignedIn       bool           `json:"signed_in"`
	User           *model.Session `json:"user,omitempty"`
	Messages       []Item         `json:"messages,omitempty"`
	ScrollToLatest bool           `json:"scroll_to_latest,omitempty"`
}

type Item struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	PhotoURI  string    `json:"photo_uri,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Mine      bool      `json:"mine"`
	Deletable bool      `json:"deletable"`
}

func Render(session *model.Session, messages []model.Message) Screen {
	if session == nil {
		return Screen{}
	}

	ordered := append([]model.Message(nil), messages...)
	store.Sort(ordered)

	user := *session
	return Screen{
		SignedIn: true,
		User:     &user,
		Messages: lo.Map(ordered, func(m model.Message, _ int) Item {
			mine := m.AuthorID == session.UID
			return Item{
				ID:        m.ID,
				Text:      m.Text,
				PhotoURI:  m.AuthorPhotoURI,
				CreatedAt: m.CreatedAt,
				Mine:      mine,
				Deletable: mine,
			}
		}),
	}
}
