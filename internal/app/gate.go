package app

import (
	"html/template"
	"net/http"
	"net/url"
	"strings"
)

var gateTemplate = template.Must(template.New("gate").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="robots" content="noindex">
<title>Leaving the board</title>
</head>
<body>
<main>
<h1>You are leaving the board</h1>
<p>This link goes to:</p>
<p><code>{{.Destination}}</code></p>
<p><a href="{{.Destination}}" rel="noopener noreferrer nofollow">Continue</a> &middot; <a href="{{.Back}}">Back</a></p>
</main>
</body>
</html>
`))

// gateDestination accepts only absolute http(s) URLs.
func gateDestination(raw string) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return nil, false
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return parsed, true
	}
	return nil, false
}

// handleGate shows the literal destination of an external link and requires
// an explicit click to follow it.
func (s *HTTPServer) handleGate(w http.ResponseWriter, r *http.Request) {
	destination, ok := gateDestination(r.URL.Query().Get("to"))
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_URL", "Only http and https links can be opened", nil)
		return
	}

	back := "/"
	if ref := r.Referer(); ref != "" {
		if parsed, err := url.Parse(ref); err == nil && parsed.Path != "" && strings.HasPrefix(parsed.Path, "/") {
			back = parsed.Path
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.WriteHeader(http.StatusOK)
	_ = gateTemplate.Execute(w, map[string]any{
		"Destination": destination.String(),
		"Back":        back,
	})
}
