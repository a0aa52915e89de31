package api

import "net/http"

func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, apiResponse{ //nolint:errcheck
		Success: true,
		Message: "OK",
		Data:    map[string]any{"parsers_count": s.registry.Len()},
	}, nil)
}
