package processing

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/lucaslui/hems/media-receiver/internal/media"
	"github.com/lucaslui/hems/media-receiver/internal/metrics"
	"github.com/lucaslui/hems/media-receiver/internal/model"
)

type MediaResolver interface {
	Resolve(ctx context.Context, req media.Request) media.Resolution
}

type TokenSource interface {
	Resolve(ctx context.Context, accountID string) (model.Credential, bool)
}

type Outcome int

const (
	// Unchanged: no media node to resolve.
	Unchanged Outcome = iota
	// Rewritten: the media locator now points at storage.
	Rewritten
	// Degraded: media was present but could not be resolved; the document is as received.
	Degraded
)

func (o Outcome) String() string {
	switch o {
	case Rewritten:
		return "rewritten"
	case Degraded:
		return "degraded"
	default:
		return "unchanged"
	}
}

// Result is what a normalizer hands back to the processor. Doc is always a
// publishable document.
type Result struct {
	Doc          []byte
	Outcome      Outcome
	PartitionKey string
	MediaKind    model.MediaKind
}

func (o Outcome) metricLabel() string {
	switch o {
	case Rewritten:
		return metrics.MediaStored
	case Degraded:
		return metrics.MediaDegraded
	default:
		return metrics.MediaUnchanged
	}
}

// guard turns a panic inside a normalizer into a degraded result for doc.
func guard(logger *zap.Logger, provider model.ProviderKind, messageID string, doc []byte, res *Result) {
	if r := recover(); r != nil {
		logger.Error("normalizer panic, forwarding event unchanged",
			zap.String("provider", provider.String()),
			zap.String("message_id", messageID),
			zap.Any("panic", r),
		)
		*res = Result{Doc: doc, Outcome: Degraded, PartitionKey: res.PartitionKey}
	}
}

type WhapiNormalizer struct {
	resolver MediaResolver
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewWhapiNormalizer(resolver MediaResolver, logger *zap.Logger, m *metrics.Metrics) *WhapiNormalizer {
	return &WhapiNormalizer{resolver: resolver, logger: logger, metrics: m}
}

// Normalize copies the first message's media into storage under channelID and
// rewrites its "link". It never fails.
func (n *WhapiNormalizer) Normalize(ctx context.Context, ev model.RawEvent, doc []byte, channelID string) (res Result) {
	res = Result{Doc: doc, PartitionKey: channelID}
	defer func() { n.metrics.Media(model.ProviderWhapi.String(), res.Outcome.metricLabel()) }()
	defer guard(n.logger, model.ProviderWhapi, ev.MessageID, doc, &res)

	ref, node, ok := mediaNode(doc, whapiMessagePath, "link", false)
	if !ok {
		return res
	}
	res.MediaKind = ref.Kind
	if ref.Locator == "" {
		return res
	}

	resolved := n.resolver.Resolve(ctx, media.Request{
		MessageID: ev.MessageID,
		URL:       ref.Locator,
		Partition: channelID,
		Kind:      ref.Kind,
	})
	if !resolved.Stored {
		res.Outcome = Degraded
		return res
	}

	out, err := setLocator(doc, node, "link", resolved.Locator)
	if err != nil {
		n.logger.Error("whapi rewrite failed",
			zap.String("message_id", ev.MessageID),
			zap.String("channel_id", channelID),
			zap.Error(err),
		)
		res.Outcome = Degraded
		return res
	}
	res.Doc = out
	res.Outcome = Rewritten
	return res
}

type MetaNormalizer struct {
	tokens   TokenSource
	resolver MediaResolver
	endpoint string
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewMetaNormalizer takes the media endpoint template; "{mediaId}" is replaced
// by the path-escaped media id.
func NewMetaNormalizer(tokens TokenSource, resolver MediaResolver, endpointTemplate string, logger *zap.Logger, m *metrics.Metrics) *MetaNormalizer {
	return &MetaNormalizer{tokens: tokens, resolver: resolver, endpoint: endpointTemplate, logger: logger, metrics: m}
}

// Normalize resolves the first message's media id through the authenticated
// endpoint and writes the stored locator into the media node's "url". It never fails.
func (n *MetaNormalizer) Normalize(ctx context.Context, ev model.RawEvent, doc []byte) (res Result) {
	accountID := scalarText(gjson.GetBytes(doc, metaAccountPath))
	res = Result{Doc: doc, PartitionKey: accountID}
	defer func() { n.metrics.Media(model.ProviderMetaOfficial.String(), res.Outcome.metricLabel()) }()
	defer guard(n.logger, model.ProviderMetaOfficial, ev.MessageID, doc, &res)

	ref, node, ok := mediaNode(doc, metaMessagePath, "id", true)
	if !ok {
		return res
	}
	res.MediaKind = ref.Kind
	if ref.Locator == "" {
		return res
	}
	mediaID := ref.Locator

	var token string
	if ref.RequiresAuth {
		cred, ok := n.tokens.Resolve(ctx, accountID)
		if !ok {
			n.logger.Warn("meta media left unresolved: no token",
				zap.String("message_id", ev.MessageID),
				zap.String("account_id", accountID),
				zap.String("media_id", mediaID),
			)
			res.Outcome = Degraded
			return res
		}
		token = cred.Token
	}

	resolved := n.resolver.Resolve(ctx, media.Request{
		MessageID: ev.MessageID,
		URL:       MediaURL(n.endpoint, mediaID),
		Partition: accountID,
		Kind:      ref.Kind,
		Token:     token,
	})
	if !resolved.Stored {
		res.Outcome = Degraded
		return res
	}

	out, err := setLocator(doc, node, "url", resolved.Locator)
	if err != nil {
		n.logger.Error("meta rewrite failed",
			zap.String("message_id", ev.MessageID),
			zap.String("account_id", accountID),
			zap.Error(err),
		)
		res.Outcome = Degraded
		return res
	}
	res.Doc = out
	res.Outcome = Rewritten
	return res
}

func MediaURL(template, mediaID string) string {
	return strings.ReplaceAll(template, "{mediaId}", url.PathEscape(mediaID))
}

func (r Result) String() string {
	return fmt.Sprintf("%s partition=%s kind=%s", r.Outcome, r.PartitionKey, r.MediaKind)
}
