package httpauth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// readFields reads the named string fields from a urlencoded/multipart form
// or a JSON object body
func readFields(r *http.Request, names ...string) (map[string]string, *AuthError) {
	out := make(map[string]string, len(names))
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseForm(); err != nil {
			return nil, NewAuthError("PARSE_ERROR", "error parsing form", "")
		}
		for _, n := range names {
			out[n] = r.FormValue(n)
		}
		return out, nil
	}

	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil || data == nil {
		return nil, NewAuthError("PARSE_ERROR", "invalid post body", "")
	}
	for _, n := range names {
		if v, ok := data[n].(string); ok {
			out[n] = v
		}
	}
	return out, nil
}

func required(fields map[string]string, names ...string) *AuthError {
	for _, n := range names {
		if strings.TrimSpace(fields[n]) == "" {
			return NewAuthError("MISSING_FIELD", n+" is required", n)
		}
	}
	return nil
}
