package services

import "net/http"

// AccountFromContext pulls the authenticated account id placed in the
// request context by the auth middleware.
func AccountFromContext(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value("userID").(int64)
	if !ok || id == 0 {
		return 0, false
	}
	return id, true
}
