package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/DreamCats/pdfchat/cmd/pdfchat/internal"
	"github.com/DreamCats/pdfchat/internal/chat"
	"github.com/DreamCats/pdfchat/internal/config"
	"github.com/DreamCats/pdfchat/internal/embedding"
	"github.com/DreamCats/pdfchat/internal/event"
	"github.com/DreamCats/pdfchat/internal/logging"
	"github.com/DreamCats/pdfchat/internal/metrics"
	"github.com/DreamCats/pdfchat/internal/pdf"
	"github.com/DreamCats/pdfchat/internal/vectorindex"
)

// app holds what every subcommand shares.
type app struct {
	ctx      context.Context
	stop     context.CancelFunc
	provider *config.FileProvider
	root     string
	metrics  *metrics.Metrics
	status   *event.Bus[event.Status]
	log      logrus.FieldLogger

	// progress may be changed by a subcommand before the first store() call.
	progress  bool
	storeOnce sync.Once
	indexes   *vectorindex.Store
}

func newApp(provider *config.FileProvider, root string) *app {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := &app{
		ctx:      ctx,
		stop:     stop,
		provider: provider,
		root:     root,
		metrics:  metrics.New(),
		status:   event.NewBus[event.Status](),
		log:      logging.For("cli"),
		progress: internal.DefaultProgressEnabled(),
	}

	a.status.Subscribe(func(s event.Status) {
		fmt.Fprintf(os.Stderr, "%s: %s\n", s.Title, s.Message)
	})

	if addr := provider.Current().Metrics.Addr; addr != "" {
		go func() {
			if err := a.metrics.Serve(ctx, addr); err != nil {
				a.log.WithError(err).Warn("metrics endpoint stopped")
			}
		}()
		a.log.WithField("addr", addr).Info("serving metrics")
	}
	return a
}

// store opens the index store on first use.
func (a *app) store() *vectorindex.Store {
	a.storeOnce.Do(func() {
		opts := []vectorindex.Option{
			vectorindex.WithConfig(a.provider),
			vectorindex.WithLogger(logging.For("index")),
			vectorindex.WithMetrics(a.metrics),
		}
		if a.progress {
			opts = append(opts, vectorindex.WithProgress(internal.NewIndexProgress(true)))
		}
		a.indexes = vectorindex.NewStore(a.root, opts...)
	})
	return a.indexes
}

func (a *app) embedder() (embedding.Embedder, error) {
	return embedding.NewService(&a.provider.Current().Embedding)
}

// pipeline creates a chat pipeline for the document at path. The caller
// brings it up with Rebuild or Subscribe.
func (a *app) pipeline(path string) *chat.Pipeline {
	return chat.New(a.provider, pdf.NewFile(path), a.store(),
		chat.WithStatusBus(a.status),
		chat.WithLogger(logging.For("chat")),
		chat.WithMetrics(a.metrics),
	)
}

func (a *app) Close() {
	a.stop()
	if a.indexes != nil {
		if err := a.indexes.Close(); err != nil {
			a.log.WithError(err).Warn("failed to close indexes")
		}
	}
}
