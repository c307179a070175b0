package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/firestore"
	"github.com/samber/lo"
	"github.com/shuymn-sandbox/firechat/internal/model"
	"go.uber.org/multierr"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const DefaultCollection = "Messages"

type Firestore struct {
	client     *firestore.Client
	collection string
}

func NewFirestore(client *firestore.Client, collection string) *Firestore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Firestore{client: client, collection: collection}
}

func (s *Firestore) messages() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

func (s *Firestore) ordered() firestore.Query {
	return s.messages().OrderBy("createdAt", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
}

func (s *Firestore) Send(ctx context.Context, text, authorID, authorPhotoURI string) (*model.Message, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}

	msg := model.Message{
		ID:             id,
		Text:           text,
		AuthorID:       authorID,
		AuthorPhotoURI: authorPhotoURI,
	}
	// createdAt is left zero so the serverTimestamp tag fills it in.
	wr, err := s.messages().Doc(id).Create(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to add message: %w", err)
	}
	msg.CreatedAt = wr.UpdateTime
	return &msg, nil
}

func (s *Firestore) Delete(ctx context.Context, id string) error {
	_, err := s.messages().Doc(id).Delete(ctx, firestore.Exists)
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (s *Firestore) Get(ctx context.Context, id string) (*model.Message, error) {
	doc, err := s.messages().Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	msg, err := decode(doc)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *Firestore) List(ctx context.Context) ([]model.Message, error) {
	docs, err := s.ordered().Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return decodeAll(docs)
}

func (s *Firestore) SubscribeAll(ctx context.Context, fn SnapshotFunc) (Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	it := s.ordered().Snapshots(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled {
					return
				}
				fn(nil, fmt.Errorf("failed to receive snapshot: %w", err))
				return
			}
			docs, err := snap.Documents.GetAll()
			if err != nil {
				fn(nil, fmt.Errorf("failed to read snapshot: %w", err))
				return
			}
			messages, err := decodeAll(docs)
			if err != nil {
				fn(nil, err)
				return
			}
			fn(messages, nil)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			it.Stop()
			<-done
		})
	}, nil
}

func decode(doc *firestore.DocumentSnapshot) (model.Message, error) {
	var msg model.Message
	if err := doc.DataTo(&msg); err != nil {
		return model.Message{}, fmt.Errorf("failed to decode message %s: %w", doc.Ref.ID, err)
	}
	msg.ID = doc.Ref.ID
	return msg, nil
}

func decodeAll(docs []*firestore.DocumentSnapshot) ([]model.Message, error) {
	var errs []error
	messages := lo.FilterMap(docs, func(doc *firestore.DocumentSnapshot, _ int) (model.Message, bool) {
		msg, err := decode(doc)
		if err != nil {
			errs = append(errs, err)
			return model.Message{}, false
		}
		return msg, true
	})
	if len(errs) > 0 {
		return nil, multierr.Combine(errs...)
	}
	return messages, nil
}
