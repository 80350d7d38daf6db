package profile

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// placeholder for identity fields which could not be read from a record
var unknownIdentity = json.RawMessage(`"unknown"`)

// Identity fields echoed back alongside every result. Values are passed through verbatim from the input, so numeric account IDs keep full precision.
type Identity struct {
	UserID   json.RawMessage `json:"user_id"`
	Username json.RawMessage `json:"username"`
}

// Best-effort extraction of identity fields from raw record JSON. Never fails: anything missing or unreadable becomes "unknown".
func IdentityFromJSON(raw []byte) Identity {
	if !gjson.ValidBytes(raw) {
		return UnknownIdentity()
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return UnknownIdentity()
	}
	return Identity{
		UserID:   identityField(doc, "usrID"),
		Username: identityField(doc, "usr"),
	}
}

func UnknownIdentity() Identity {
	return Identity{
		UserID:   unknownIdentity,
		Username: unknownIdentity,
	}
}

func identityField(doc gjson.Result, key string) json.RawMessage {
	v := doc.Get(key)
	if !v.Exists() {
		return unknownIdentity
	}
	return json.RawMessage(v.Raw)
}

// Fills in "unknown" for any identity field left empty, eg on records which were constructed directly instead of decoded.
func (id Identity) OrUnknown() Identity {
	if len(id.UserID) == 0 {
		id.UserID = unknownIdentity
	}
	if len(id.Username) == 0 {
		id.Username = unknownIdentity
	}
	return id
}
