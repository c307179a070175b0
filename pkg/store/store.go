// Package store reads and writes chat messages and streams live snapshots of
// the whole collection.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/shuymn-sandbox/firechat/internal/model"
	"go.jetpack.io/typeid"
)

const idPrefix = "message"

var ErrNotFound = errors.New("message not found")

// SnapshotFunc receives the full ordered message list after every change. A
// non-nil error is terminal and no further snapshots follow it.
type SnapshotFunc func(messages []model.Message, err error)

// Unsubscribe stops a subscription. It is safe to call more than once but
// must not be called from inside the SnapshotFunc.
type Unsubscribe func()

type Store interface {
	Send(ctx context.Context, text, authorID, authorPhotoURI string) (*model.Message, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*model.Message, error)
	List(ctx context.Context) ([]model.Message, error)
	SubscribeAll(ctx context.Context, fn SnapshotFunc) (Unsubscribe, error)
}

func newID() (string, error) {
	tid, err := typeid.New(idPrefix)
	if err != nil {
		return "", fmt.Errorf("failed to create typeid: %w", err)
	}
	return tid.String(), nil
}

// Sort orders messages by creation time, breaking ties by ID.
func Sort(messages []model.Message) {
	slices.SortStableFunc(messages, func(a, b model.Message) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		default:
			return 0
		}
	})
}

func sameSnapshot(a, b []model.Message) bool {
	return slices.EqualFunc(a, b, func(x, y model.Message) bool {
		return x.ID == y.ID
	})
}
