package processing

import (
	"github.com/tidwall/gjson"

	"github.com/lucaslui/hems/media-receiver/internal/model"
)

type Detection struct {
	Kind      model.ProviderKind
	ChannelID string
}

// Detect classifies a parsed webhook body. A channel_id marks Whapi; an
// "object" wrapper together with an "entry" array marks the Meta official API.
// Whapi wins when both are present.
func Detect(doc []byte) Detection {
	if ch := scalarText(gjson.GetBytes(doc, "channel_id")); ch != "" {
		return Detection{Kind: model.ProviderWhapi, ChannelID: ch}
	}
	obj := gjson.GetBytes(doc, "object")
	if obj.Exists() && obj.Type != gjson.Null && gjson.GetBytes(doc, "entry").IsArray() {
		return Detection{Kind: model.ProviderMetaOfficial}
	}
	return Detection{Kind: model.ProviderUnknown}
}
