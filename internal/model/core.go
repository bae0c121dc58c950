package model

import "strings"

// RawEvent is one inbound delivery as received from the intake queue.
type RawEvent struct {
	MessageID string
	Body      []byte
}

type ProviderKind int

const (
	ProviderUnknown ProviderKind = iota
	ProviderWhapi
	ProviderMetaOfficial
)

func (k ProviderKind) String() string {
	switch k {
	case ProviderWhapi:
		return "whapi"
	case ProviderMetaOfficial:
		return "meta"
	default:
		return "unknown"
	}
}

type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaVoice    MediaKind = "voice"
	MediaDocument MediaKind = "document"
)

var mediaKinds = map[MediaKind]struct{}{
	MediaImage:    {},
	MediaVideo:    {},
	MediaAudio:    {},
	MediaVoice:    {},
	MediaDocument: {},
}

// ParseMediaKind reports whether a message type tag names a media kind.
func ParseMediaKind(tag string) (MediaKind, bool) {
	k := MediaKind(tag)
	_, ok := mediaKinds[k]
	return k, ok
}

// Extension is derived from the kind only, never from the source URL or the content.
func (k MediaKind) Extension() string {
	switch MediaKind(strings.ToLower(string(k))) {
	case MediaImage:
		return ".jpg"
	case MediaVideo:
		return ".mp4"
	case MediaAudio, MediaVoice:
		return ".ogg"
	case MediaDocument:
		return ".pdf"
	default:
		return ".bin"
	}
}

// MediaReference points at the media node of a message while it is being normalized.
type MediaReference struct {
	Kind         MediaKind
	Locator      string
	RequiresAuth bool
}

// Credential is requested per event and never reused.
type Credential struct {
	Token string
}

const DefaultContentType = "application/octet-stream"
