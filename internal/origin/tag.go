package origin

import (
	"mime"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// JSONTag returns a tag extractor that reads the analytics tag from a JSON
// response body at the given gjson path. Non-JSON responses yield no tag.
// An empty path returns nil.
func JSONTag(path string) func(http.Header, []byte) string {
	if path == "" {
		return nil
	}
	return func(h http.Header, body []byte) string {
		if !isJSON(h.Get("Content-Type")) || !gjson.ValidBytes(body) {
			return ""
		}
		res := gjson.GetBytes(body, path)
		if !res.Exists() {
			return ""
		}
		return strings.TrimSpace(res.String())
	}
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
