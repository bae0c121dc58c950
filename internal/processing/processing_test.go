package processing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lucaslui/hems/media-receiver/internal/media"
	"github.com/lucaslui/hems/media-receiver/internal/model"
	"github.com/lucaslui/hems/media-receiver/internal/storage"
)

type fakeStore struct {
	mu    sync.Mutex
	puts  []string
	kinds []model.MediaKind
	err   error
}

func (s *fakeStore) Put(_ context.Context, partition string, kind model.MediaKind, r io.Reader, _ int64, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	if s.err != nil {
		return "", s.err
	}
	s.puts = append(s.puts, partition)
	s.kinds = append(s.kinds, kind)
	key := storage.BuildObjectKey(partition, time.Now(), storage.NewObjectID(), kind.Extension())
	return "https://media-bucket/" + key, nil
}

type fakePublisher struct {
	keys   []string
	bodies []string
	err    error
	failAt int
}

func (p *fakePublisher) Publish(_ context.Context, key string, body []byte) error {
	if p.err != nil && len(p.bodies) == p.failAt {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.bodies = append(p.bodies, string(body))
	return nil
}

type fakeTokens struct {
	calls    int
	accounts []string
	token    string
	ok       bool
}

func (f *fakeTokens) Resolve(_ context.Context, accountID string) (model.Credential, bool) {
	f.calls++
	f.accounts = append(f.accounts, accountID)
	return model.Credential{Token: f.token}, f.ok
}

type mediaServer struct {
	*httptest.Server
	mu      sync.Mutex
	hits    int
	auth    []string
	status  int
	payload string
}

func newMediaServer(t *testing.T, status int) *mediaServer {
	ms := &mediaServer{status: status, payload: "binary-media"}
	ms.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ms.mu.Lock()
		ms.hits++
		ms.auth = append(ms.auth, r.Header.Get("Authorization"))
		ms.mu.Unlock()
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(ms.status)
		_, _ = io.WriteString(w, ms.payload)
	}))
	t.Cleanup(ms.Close)
	return ms
}

type harness struct {
	proc      *Processor
	store     *fakeStore
	publisher *fakePublisher
	tokens    *fakeTokens
}

func newHarness(endpoint string) *harness {
	return newHarnessWithLogger(endpoint, zap.NewNop())
}

func newHarnessWithLogger(endpoint string, logger *zap.Logger) *harness {
	h := &harness{
		store:     &fakeStore{},
		publisher: &fakePublisher{},
		tokens:    &fakeTokens{},
	}
	fetcher := media.NewFetcher(http.DefaultClient, "test-agent")
	resolver := media.NewResolver(fetcher, h.store, 5*time.Second, logger, nil)
	h.proc = NewProcessor(
		NewWhapiNormalizer(resolver, logger, nil),
		NewMetaNormalizer(h.tokens, resolver, endpoint, logger, nil),
		h.publisher, logger, nil,
	)
	return h
}

func event(id, body string) model.RawEvent {
	return model.RawEvent{MessageID: id, Body: []byte(body)}
}

func whapiImage(link string) string {
	return `{"channel_id":"c1","messages":[{"type":"image","image":{"link":"` + link + `"}}]}`
}

const metaDocument = `{"object":"whatsapp_business_account","entry":[{"id":"biz1","changes":[{"value":{"messages":[{"type":"document","document":{"id":"med1"}}]}}]}]}`

var storedLink = regexp.MustCompile(`^https://media-bucket/c1/\d{4}-\d{2}/[0-9a-f]{32}\.jpg$`)

func TestWhapiImageRewritten(t *testing.T) {
	src := newMediaServer(t, http.StatusOK)
	h := newHarness("")

	d, err := h.proc.Process(context.Background(), event("m1", whapiImage(src.URL+"/x.jpg")))
	require.NoError(t, err)
	assert.Equal(t, Forwarded, d)

	require.Len(t, h.publisher.bodies, 1)
	assert.Equal(t, "c1", h.publisher.keys[0])
	out := h.publisher.bodies[0]
	assert.True(t, strings.HasPrefix(out, `{"channel_id":"c1","messages":[{"type":"image","image":{"link":"https://media-bucket/c1/`))

	link := out[strings.Index(out, `"link":"`)+len(`"link":"`) : strings.LastIndex(out, `"}}]}`)]
	assert.Regexp(t, storedLink, link)
	assert.Contains(t, link, time.Now().UTC().Format("2006-01"))
	assert.Equal(t, []string{"c1"}, h.store.puts)
}

func TestWhapiFetch404ForwardsUnchanged(t *testing.T) {
	src := newMediaServer(t, http.StatusNotFound)
	h := newHarness("")
	in := whapiImage(src.URL + "/x.jpg")

	d, err := h.proc.Process(context.Background(), event("m1", in))
	require.NoError(t, err)
	assert.Equal(t, Forwarded, d)
	assert.Equal(t, []string{in}, h.publisher.bodies)
	assert.Empty(t, h.store.puts)
}

func TestWhapiFetch404LogsError(t *testing.T) {
	src := newMediaServer(t, http.StatusNotFound)
	core, logs := observer.New(zapcore.InfoLevel)
	h := newHarnessWithLogger("", zap.New(core))

	_, err := h.proc.Process(context.Background(), event("m1", whapiImage(src.URL+"/x.jpg")))
	require.NoError(t, err)

	failed := logs.FilterMessage("media download/store failed, keeping original locator").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.ErrorLevel, failed[0].Level)
	assert.Equal(t, "m1", failed[0].ContextMap()["message_id"])
	assert.Equal(t, 1, logs.FilterMessage("event forwarded").Len())
}

func TestWhapiStoreFailureForwardsUnchanged(t *testing.T) {
	src := newMediaServer(t, http.StatusOK)
	h := newHarness("")
	h.store.err = errors.New("access denied")
	in := whapiImage(src.URL + "/x.jpg")

	_, err := h.proc.Process(context.Background(), event("m1", in))
	require.NoError(t, err)
	assert.Equal(t, []string{in}, h.publisher.bodies)
}

func TestWhapiNonMediaByteIdentical(t *testing.T) {
	h := newHarness("")
	inputs := []string{
		`{"channel_id":"c1","messages":[{"type":"text","text":{"body":"olá <b>"}}]}`,
		`{ "channel_id" : "c1" , "messages" : [ ] }`,
		`{"channel_id":"c1"}`,
		`{"channel_id":"c1","messages":[{"type":"image","image":{"link":""}}]}`,
		`{"channel_id":"c1","messages":[{"type":"sticker","sticker":{"link":"http://x"}}]}`,
		`{"channel_id":"c1","messages":[{"type":"image"}]}`,
	}
	for _, in := range inputs {
		_, err := h.proc.Process(context.Background(), event("m", in))
		require.NoError(t, err)
	}
	assert.Equal(t, inputs, h.publisher.bodies)
	assert.Empty(t, h.store.puts)
}

func TestWhapiExtensionPerKind(t *testing.T) {
	src := newMediaServer(t, http.StatusOK)
	tests := map[string]string{
		"image":    ".jpg",
		"video":    ".mp4",
		"audio":    ".ogg",
		"voice":    ".ogg",
		"document": ".pdf",
	}
	for tag, ext := range tests {
		t.Run(tag, func(t *testing.T) {
			h := newHarness("")
			in := `{"channel_id":"c1","messages":[{"type":"` + tag + `","` + tag + `":{"link":"` + src.URL + `/f"}}]}`

			_, err := h.proc.Process(context.Background(), event("m", in))
			require.NoError(t, err)
			require.Len(t, h.publisher.bodies, 1)
			assert.Regexp(t, `"link":"https://media-bucket/c1/\d{4}-\d{2}/[0-9a-f]{32}`+regexp.QuoteMeta(ext)+`"`, h.publisher.bodies[0])
		})
	}
}

func TestRedeliveryOfNormalizedEvent(t *testing.T) {
	h := newHarness("")
	in := whapiImage("https://media-bucket.invalid/c1/2026-10/abc.jpg")

	_, err := h.proc.Process(context.Background(), event("m1", in))
	require.NoError(t, err)
	assert.Equal(t, []string{in}, h.publisher.bodies)
}

func TestMetaDocumentRewritten(t *testing.T) {
	src := newMediaServer(t, http.StatusOK)
	h := newHarness(src.URL + "/media/{mediaId}/show")
	h.tokens.ok, h.tokens.token = true, "Bearer EAAG"

	_, err := h.proc.Process(context.Background(), event("m1", metaDocument))
	require.NoError(t, err)

	assert.Equal(t, []string{"biz1"}, h.tokens.accounts)
	require.Equal(t, 1, src.hits)
	assert.Equal(t, "Bearer EAAG", src.auth[0])
	assert.Equal(t, 1, strings.Count(strings.ToLower(src.auth[0]), "bearer"))

	require.Len(t, h.publisher.bodies, 1)
	assert.Equal(t, "biz1", h.publisher.keys[0])
	assert.Regexp(t, `"document":\{"id":"med1","url":"https://media-bucket/biz1/\d{4}-\d{2}/[0-9a-f]{32}\.pdf"\}`, h.publisher.bodies[0])
}

func TestMetaNoTokenSkipsFetch(t *testing.T) {
	src := newMediaServer(t, http.StatusOK)
	h := newHarness(src.URL + "/media/{mediaId}/show")

	d, err := h.proc.Process(context.Background(), event("m1", metaDocument))
	require.NoError(t, err)
	assert.Equal(t, Forwarded, d)
	assert.Equal(t, 1, h.tokens.calls)
	assert.Zero(t, src.hits)
	assert.Empty(t, h.store.puts)
	assert.Equal(t, []string{metaDocument}, h.publisher.bodies)
}

func TestMetaFetch404LeavesNodeUntouched(t *testing.T) {
	src := newMediaServer(t, http.StatusNotFound)
	core, logs := observer.New(zapcore.InfoLevel)
	h := newHarnessWithLogger(src.URL+"/media/{mediaId}/show", zap.New(core))
	h.tokens.ok, h.tokens.token = true, "EAAG"

	d, err := h.proc.Process(context.Background(), event("m1", metaDocument))
	require.NoError(t, err)
	assert.Equal(t, Forwarded, d)
	assert.Equal(t, 1, src.hits)
	assert.Empty(t, h.store.puts)
	assert.Equal(t, []string{metaDocument}, h.publisher.bodies)

	failed := logs.FilterMessage("media download/store failed, keeping original locator").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.ErrorLevel, failed[0].Level)
}

func TestMetaStoreFailureLeavesNodeUntouched(t *testing.T) {
	src := newMediaServer(t, http.StatusOK)
	h := newHarness(src.URL + "/media/{mediaId}/show")
	h.tokens.ok, h.tokens.token = true, "EAAG"
	h.store.err = errors.New("quota exceeded")

	_, err := h.proc.Process(context.Background(), event("m1", metaDocument))
	require.NoError(t, err)
	assert.Equal(t, []string{metaDocument}, h.publisher.bodies)
}

func TestMetaNonMediaSkipsBroker(t *testing.T) {
	h := newHarness("http://unused/{mediaId}")
	in := `{"object":"whatsapp_business_account","entry":[{"id":"biz1","changes":[{"value":{"statuses":[]}}]}]}`

	_, err := h.proc.Process(context.Background(), event("m1", in))
	require.NoError(t, err)
	assert.Zero(t, h.tokens.calls)
	assert.Equal(t, []string{in}, h.publisher.bodies)
}

func TestSkips(t *testing.T) {
	tests := map[string]string{
		"empty":       "",
		"whitespace":  " \n\t ",
		"invalid":     `{"channel_id":`,
		"unknown":     `{"hello":"world"}`,
		"object only": `{"object":"x","entry":{}}`,
		"array root":  `[1,2]`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness("")
			d, err := h.proc.Process(context.Background(), event("m", body))
			require.NoError(t, err)
			assert.Equal(t, Skipped, d)
			assert.Empty(t, h.publisher.bodies)
			assert.Zero(t, h.tokens.calls)
			assert.Empty(t, h.store.puts)
		})
	}
}

func TestPublishFailurePropagates(t *testing.T) {
	h := newHarness("")
	boom := errors.New("queue unavailable")
	h.publisher.err = boom

	_, err := h.proc.Process(context.Background(), event("m1", `{"channel_id":"c1"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "m1")
}

func TestHandleBatchOrderAndStop(t *testing.T) {
	h := newHarness("")
	batch := []model.RawEvent{
		event("a", `{"channel_id":"c1","n":1}`),
		event("b", ``),
		event("c", `{"channel_id":"c2","n":2}`),
		event("d", `{"channel_id":"c3","n":3}`),
	}

	n, err := h.proc.HandleBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{`{"channel_id":"c1","n":1}`, `{"channel_id":"c2","n":2}`, `{"channel_id":"c3","n":3}`}, h.publisher.bodies)

	h = newHarness("")
	h.publisher.err, h.publisher.failAt = errors.New("down"), 1
	n, err = h.proc.HandleBatch(context.Background(), batch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message c")
	assert.Equal(t, 1, n)
	assert.Len(t, h.publisher.bodies, 1)
}

type panicResolver struct{}

func (panicResolver) Resolve(context.Context, media.Request) media.Resolution { panic("boom") }

func TestNormalizerPanicDegrades(t *testing.T) {
	n := NewWhapiNormalizer(panicResolver{}, zap.NewNop(), nil)
	in := []byte(whapiImage("http://src/x.jpg"))

	res := n.Normalize(context.Background(), event("m1", string(in)), in, "c1")
	assert.Equal(t, Degraded, res.Outcome)
	assert.Equal(t, in, res.Doc)
	assert.Equal(t, "c1", res.PartitionKey)
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		kind    model.ProviderKind
		channel string
	}{
		{"whapi", `{"channel_id":"c1"}`, model.ProviderWhapi, "c1"},
		{"whapi numeric channel", `{"channel_id":42}`, model.ProviderWhapi, "42"},
		{"whapi wins over meta", `{"channel_id":"c1","object":"x","entry":[]}`, model.ProviderWhapi, "c1"},
		{"meta", `{"object":"whatsapp_business_account","entry":[]}`, model.ProviderMetaOfficial, ""},
		{"null channel", `{"channel_id":null}`, model.ProviderUnknown, ""},
		{"empty channel", `{"channel_id":""}`, model.ProviderUnknown, ""},
		{"object channel", `{"channel_id":{"id":"c1"}}`, model.ProviderUnknown, ""},
		{"entry not array", `{"object":"x","entry":{}}`, model.ProviderUnknown, ""},
		{"entry only", `{"entry":[]}`, model.ProviderUnknown, ""},
		{"scalar root", `"x"`, model.ProviderUnknown, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect([]byte(tt.doc))
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.channel, got.ChannelID)
		})
	}
}

func TestMediaURLEscapesID(t *testing.T) {
	assert.Equal(t, "https://api/x/med%2F1/show", MediaURL("https://api/x/{mediaId}/show", "med/1"))
}
