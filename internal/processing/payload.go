package processing

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/lucaslui/hems/media-receiver/internal/model"
)

// First message of each provider shape, as gjson paths.
const (
	whapiMessagePath = "messages.0"
	metaMessagePath  = "entry.0.changes.0.value.messages.0"
	metaAccountPath  = "entry.0.id"
)

// scalarText renders strings unquoted and numbers or booleans as written.
// Null, objects, arrays and missing values give "".
func scalarText(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return r.Str
	case gjson.Number, gjson.True, gjson.False:
		return r.Raw
	default:
		return ""
	}
}

func stringAt(doc []byte, path string) string {
	r := gjson.GetBytes(doc, path)
	if r.Type != gjson.String {
		return ""
	}
	return r.Str
}

// mediaNode reads the type tag of the message at msgPath and, when it names a
// media kind, the string field locatorField of the node keyed by that tag.
// nodePath addresses that node for the rewrite.
func mediaNode(doc []byte, msgPath, locatorField string, requiresAuth bool) (ref model.MediaReference, nodePath string, ok bool) {
	tag := stringAt(doc, msgPath+".type")
	kind, ok := model.ParseMediaKind(tag)
	if !ok {
		return model.MediaReference{}, "", false
	}
	nodePath = msgPath + "." + tag
	return model.MediaReference{
		Kind:         kind,
		Locator:      stringAt(doc, nodePath+"."+locatorField),
		RequiresAuth: requiresAuth,
	}, nodePath, true
}

// setLocator writes value into field of the node at nodePath, appending the
// member when absent. Bytes outside the replaced value are kept as received.
func setLocator(doc []byte, nodePath, field, value string) ([]byte, error) {
	return sjson.SetBytes(doc, nodePath+"."+field, value)
}
