// Package backend opens the message store and the identity provider named
// by the configuration.
package backend

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/shuymn-sandbox/firechat/internal/config"
	"github.com/shuymn-sandbox/firechat/pkg/auth"
	"github.com/shuymn-sandbox/firechat/pkg/store"
	"go.uber.org/multierr"
	"google.golang.org/api/option"
)

type Backend struct {
	Store    store.Store
	Provider auth.Provider

	closers []func() error
}

func (b *Backend) Close() error {
	var err error
	for i := len(b.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, b.closers[i]())
	}
	return err
}

// Open always connects to Firebase for identity. The store depends on
// cfg.StoreBackend.
func Open(ctx context.Context, cfg *config.Config) (_ *Backend, err error) {
	b := &Backend{}
	defer func() {
		if err != nil {
			err = multierr.Append(err, b.Close())
		}
	}()

	app, err := newFirebaseApp(ctx, cfg)
	if err != nil {
		return nil, err
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth client: %w", err)
	}
	b.Provider = authClient

	switch cfg.StoreBackend {
	case config.BackendFirestore:
		client, err := app.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		b.closers = append(b.closers, client.Close)
		b.Store = store.NewFirestore(client, cfg.MessagesCollection)
	case config.BackendMySQL:
		dsn, err := mysqlDSN(cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open mysql: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to mysql: %w", err)
		}
		b.Store = store.NewMySQL(db, cfg.MySQLPollInterval)
	case config.BackendMemory:
		b.Store = store.NewMemory()
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	slog.Info("backend opened", "store", cfg.StoreBackend, "project", cfg.FirebaseProjectID)
	return b, nil
}

// mysqlDSN forces parseTime so created_at scans into time.Time whatever the
// configured DSN says.
func mysqlDSN(raw string) (string, error) {
	dsn, err := mysql.ParseDSN(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse mysql dsn: %w", err)
	}
	dsn.ParseTime = true
	return dsn.FormatDSN(), nil
}

func newFirebaseApp(ctx context.Context, cfg *config.Config) (*firebase.App, error) {
	var opts []option.ClientOption
	if cfg.FirebaseCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.FirebaseCredentialsFile))
	}

	var fbConfig *firebase.Config
	if cfg.FirebaseProjectID != "" {
		fbConfig = &firebase.Config{ProjectID: cfg.FirebaseProjectID}
	}

	app, err := firebase.NewApp(ctx, fbConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create firebase app: %w", err)
	}
	return app, nil
}
