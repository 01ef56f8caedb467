package netiface

import (
	"encoding/json"

	"github.com/square/ltcnet/electrum"
)

// unmarshalParams decodes a push frame's params field, which Electrum always
// wraps in a JSON array (e.g. [{"height":..., "hex":...}]) even though the
// subscription carries one logical value, into out (a pointer to a slice of
// the expected element type).
func unmarshalParams(f electrum.Frame, out interface{}) error {
	return json.Unmarshal(f.Params, out)
}
