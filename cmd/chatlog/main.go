// Command chatlog prints the current message list in order.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/shuymn-sandbox/firechat/internal/backend"
	"github.com/shuymn-sandbox/firechat/internal/config"
	"github.com/shuymn-sandbox/firechat/internal/model"
)

func main() {
	if err := run(); err != nil {
		slog.Error("chatlog failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))
	if err := checkBackend(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b, err := backend.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			slog.Error("failed to close backend", "error", err)
		}
	}()

	messages, err := b.Store.List(ctx)
	if err != nil {
		return err
	}

	printMessages(messages)
	return nil
}

var errMemoryBackend = errors.New("chatlog cannot read the memory store of another process; set STORE_BACKEND to firestore or mysql")

func checkBackend(cfg *config.Config) error {
	if cfg.StoreBackend == config.BackendMemory {
		return errMemoryBackend
	}
	return nil
}

func printMessages(messages []model.Message) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Created", "Author", "ID", "Text"})
	table.SetAutoWrapText(false)
	for _, m := range messages {
		table.Append([]string{
			m.CreatedAt.Local().Format(time.DateTime),
			color.Cyan.Sprint(m.AuthorID),
			m.ID,
			m.Text,
		})
	}
	table.Render()
	fmt.Printf("%d messages\n", len(messages))
}
