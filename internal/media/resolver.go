package media

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/lucaslui/hems/media-receiver/internal/metrics"
	"github.com/lucaslui/hems/media-receiver/internal/model"
)

type Source interface {
	Fetch(ctx context.Context, url, token string) (*Content, error)
}

type Store interface {
	Put(ctx context.Context, partition string, kind model.MediaKind, r io.Reader, size int64, contentType string) (string, error)
}

type Request struct {
	MessageID string
	URL       string
	Partition string
	Kind      model.MediaKind
	Token     string
}

// Resolution is the outcome of one fetch+store. When Stored is false, Locator is
// the original URL and Err says why.
type Resolution struct {
	Locator string
	Stored  bool
	Err     error
}

// Resolver copies provider media into durable storage. It holds no per-call
// state and is safe for concurrent use when its Source and Store are.
type Resolver struct {
	source  Source
	store   Store
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewResolver(source Source, store Store, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Resolver {
	return &Resolver{source: source, store: store, timeout: timeout, logger: logger, metrics: m}
}

// Resolve downloads req.URL and streams it into the store under one timeout
// scope. It never fails: errors degrade to the original URL.
func (r *Resolver) Resolve(ctx context.Context, req Request) Resolution {
	start := time.Now()
	loc, err := r.copy(ctx, req)
	if err != nil {
		r.metrics.ObserveMedia(metrics.MediaDegraded, start)
		r.logger.Error("media download/store failed, keeping original locator",
			zap.String("message_id", req.MessageID),
			zap.String("partition", req.Partition),
			zap.String("media_kind", string(req.Kind)),
			zap.String("url", req.URL),
			zap.Error(err),
		)
		return Resolution{Locator: req.URL, Err: err}
	}
	r.metrics.ObserveMedia(metrics.MediaStored, start)
	r.logger.Info("media stored",
		zap.String("message_id", req.MessageID),
		zap.String("media_kind", string(req.Kind)),
		zap.String("locator", loc),
		zap.Duration("took", time.Since(start)),
	)
	return Resolution{Locator: loc, Stored: true}
}

func (r *Resolver) copy(ctx context.Context, req Request) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	content, err := r.source.Fetch(ctx, req.URL, req.Token)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer content.Body.Close()

	loc, err := r.store.Put(ctx, req.Partition, req.Kind, content.Body, content.Size, content.ContentType)
	if err != nil {
		return "", fmt.Errorf("store: %w", err)
	}
	return loc, nil
}
