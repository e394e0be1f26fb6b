package http

import (
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/Aaron-Gardien/homebridge-rti-proxy/accessory"
)

const noDataMessage = "No accessory data yet. Please try again shortly."

var tableTemplate = template.Must(template.New("table").Parse(`<html>
<head><title>Homebridge Accessories</title></head>
<body>
<h1>Discovered Accessories</h1>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Unique ID</th><th>Type</th><th>Human Type</th><th>Name</th></tr>
{{- range .}}
<tr><td>{{.UniqueID}}</td><td>{{.Type}}</td><td>{{.HumanType}}</td><td>{{.ServiceName}}</td></tr>
{{- end}}
</table>
</body>
</html>
`))

type accessoriesResponse struct {
	Accessories any `json:"accessories"`
}

// handleAccessories serves the canonical snapshot. Before any payload
// decoded it falls back to the last raw payload, then to 503.
func (g *Gateway) handleAccessories(w http.ResponseWriter, _ *http.Request) {
	view := g.store.View()
	switch {
	case view != nil && view.Loaded:
		accessories := view.Accessories
		if accessories == nil {
			accessories = []accessory.Accessory{}
		}
		writeJSON(w, http.StatusOK, accessoriesResponse{Accessories: accessories})
	case view != nil && len(view.Raw) > 0:
		writeJSON(w, http.StatusOK, accessoriesResponse{Accessories: json.RawMessage(view.Raw)})
	default:
		writeError(w, http.StatusServiceUnavailable, noDataMessage)
	}
}

func (g *Gateway) handleTable(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	view := g.store.View()
	if view == nil || !view.Loaded {
		_, _ = w.Write([]byte("<h1>No accessory data yet.</h1>"))
		return
	}

	if err := tableTemplate.Execute(w, view.Accessories); err != nil {
		g.logger.Warn("Render accessory table failed", "error", err)
	}
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if g.monitor == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}

	status := g.monitor.AggregateHealth(SystemName)
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (g *Gateway) handleStatus(w http.ResponseWriter, _ *http.Request) {
	g.statusMu.RLock()
	fns := make(map[string]func() any, len(g.statuses))
	for name, fn := range g.statuses {
		fns[name] = fn
	}
	g.statusMu.RUnlock()

	doc := make(map[string]any, len(fns))
	for name, fn := range fns {
		doc[name] = fn()
	}
	writeJSON(w, http.StatusOK, doc)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	data, _ := json.Marshal(map[string]string{"error": message})
	_, _ = w.Write(data)
}
