package upstream

import "github.com/tidwall/gjson"

// UnwrapResult returns the inference payload from a REST envelope of the
// form {"result": {...}, "success": true, ...}. Bodies without that envelope
// are returned unchanged.
func UnwrapResult(body []byte) []byte {
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return body
	}
	result := root.Get("result")
	if !result.IsObject() || !root.Get("success").Exists() {
		return body
	}
	return []byte(result.Raw)
}
