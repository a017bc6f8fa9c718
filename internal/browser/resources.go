package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockResources hijacks every request on page and fails the blocked types.
func blockResources(page *rod.Page, types []string) {
	blocked := make(map[string]bool, len(types))
	for _, t := range types {
		blocked[strings.ToLower(t)] = true
	}

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if isBlocked(blocked, h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
}

// isBlocked accepts the plural config names as aliases for CDP types.
func isBlocked(blocked map[string]bool, t proto.NetworkResourceType) bool {
	lower := strings.ToLower(string(t))
	switch lower {
	case "image":
		return blocked["images"] || blocked[lower]
	case "font":
		return blocked["fonts"] || blocked[lower]
	case "stylesheet":
		return blocked["stylesheets"] || blocked[lower]
	}
	return blocked[lower]
}
