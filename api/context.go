package api

import (
	"encoding/json"
	"net/http"
)

// Json is a shorthand for ad-hoc response bodies.
type Json map[string]any

var extraHeaders = map[string]string{
	"Server":        "fdns",
	"Cache-Control": "no-cache, no-store, no-transform, must-revalidate, private, max-age=0",
	"Pragma":        "no-cache",
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	buf, err := json.Marshal(data)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	_, _ = w.Write(buf)
}
