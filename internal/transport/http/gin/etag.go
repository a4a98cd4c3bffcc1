package httpgin

import (
	"encoding/json"
	"hash/fnv"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// writeJSONWithCache serializes v once, tags it with an ETag derived from
// the body and answers 304 when the client already has that version.
func writeJSONWithCache(
	c *gin.Context,
	status int,
	v any,
	cacheControl string,
	weak bool,
) {
	body, err := json.Marshal(v)
	if err != nil {
		respondErr(c, err)
		return
	}

	tag := etagOf(body, weak)

	c.Header("ETag", tag)
	if cacheControl != "" {
		c.Header("Cache-Control", cacheControl)
	}

	if etagMatches(c.GetHeader("If-None-Match"), tag) {
		c.Status(http.StatusNotModified)
		return
	}

	c.Data(status, "application/json; charset=utf-8", body)
}

func etagOf(body []byte, weak bool) string {
	h := fnv.New64a()
	_, _ = h.Write(body)

	tag := `"` + strconv.FormatUint(h.Sum64(), 36) + "-" + strconv.Itoa(len(body)) + `"`
	if weak {
		return "W/" + tag
	}
	return tag
}

// etagMatches implements the weak comparison If-None-Match calls for: a
// list of tags or "*", with W/ prefixes ignored on both sides.
func etagMatches(header, tag string) bool {
	if header == "" {
		return false
	}

	want := strings.TrimPrefix(tag, "W/")
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == want {
			return true
		}
	}

	return false
}
