package httpapi

import "net/http"

// cors permits every origin per spec §6 unless an allow-list is configured;
// it echoes the caller's Origin (rather than "*") so credentialed requests
// and preflights from any browser work uniformly. OPTIONS preflights are
// answered directly with an empty 200 body.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case origin == "":
			origin = "*"
		case len(s.allowedOrigins) > 0 && !s.allowedOrigins[origin]:
			// An operator-configured allow-list narrows the spec's default
			// "all origins permitted" policy; an unlisted origin is answered
			// with "null" as the allowed origin.
			origin = "null"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
