package wall

import "net/url"

// ChatVisible decides whether the page shows the chat panel. "nochat"
// suppresses it everywhere; on mobile it is hidden when hideOnMobile is set
// unless "chat" asks for it explicitly.
func ChatVisible(query url.Values, mobile, hideOnMobile bool) bool {
	if query.Has("nochat") {
		return false
	}
	return !mobile || !hideOnMobile || query.Has("chat")
}
