package main

import (
	"encoding/json"
	"net/http"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// httpError writes the backend's error envelope:
// {"success": false, "error": {"code": ..., "message": ...}}.
func httpError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]any{
		"success": false,
		"error":   map[string]string{"code": code, "message": message},
	})
}
