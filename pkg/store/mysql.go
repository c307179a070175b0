package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shuymn-sandbox/firechat/internal/model"
	"go.uber.org/multierr"
)

const DefaultPollInterval = time.Second

// MySQL stores messages in the messages table. created_at is assigned by the
// database and the live query polls for changes.
type MySQL struct {
	db       *sql.DB
	interval time.Duration
}

func NewMySQL(db *sql.DB, interval time.Duration) *MySQL {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &MySQL{db: db, interval: interval}
}

// Send inserts the row and reads back its created_at in one transaction, so a
// failed read leaves no message behind.
func (s *MySQL) Send(ctx context.Context, text, authorID, authorPhotoURI string) (_ *model.Message, err error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = multierr.Append(err, fmt.Errorf("failed to rollback: %w", rbErr))
			}
		}
	}()

	_, err = tx.ExecContext(ctx, "INSERT INTO messages (id, text, uid, uri) VALUES (?, ?, ?, ?)", id, text, authorID, authorPhotoURI)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	msg, err := getMessage(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}
	return msg, nil
}

func (s *MySQL) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MySQL) Get(ctx context.Context, id string) (*model.Message, error) {
	return getMessage(ctx, s.db, id)
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getMessage(ctx context.Context, q rowQueryer, id string) (*model.Message, error) {
	row := q.QueryRowContext(ctx, "SELECT id, text, uid, uri, created_at FROM messages WHERE id = ?", id)
	var msg model.Message
	err := row.Scan(&msg.ID, &msg.Text, &msg.AuthorID, &msg.AuthorPhotoURI, &msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	return &msg, nil
}

func (s *MySQL) List(ctx context.Context) (_ []model.Message, err error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, text, uid, uri, created_at FROM messages ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("failed to close rows: %w", closeErr)
		}
	}()

	messages := []model.Message{}
	for rows.Next() {
		var msg model.Message
		if err = rows.Scan(&msg.ID, &msg.Text, &msg.AuthorID, &msg.AuthorPhotoURI, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// SubscribeAll delivers the first snapshot right away and then one snapshot
// per poll that differs from the previous one.
func (s *MySQL) SubscribeAll(ctx context.Context, fn SnapshotFunc) (Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		var last []model.Message
		first := true
		for {
			messages, err := s.List(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				fn(nil, err)
				return
			}
			if first || !sameSnapshot(last, messages) {
				first = false
				last = messages
				fn(messages, nil)
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}
