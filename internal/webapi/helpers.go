package webapi

import (
	"encoding/json"
	"strconv"

	"github.com/cryguy/render/internal/core"
)

// SetReqID binds the VM to the request state that receives its console
// output.
func SetReqID(rt core.JSRuntime, id uint64) error {
	return rt.SetGlobal("__requestID", strconv.FormatUint(id, 10))
}

func marshalJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}
