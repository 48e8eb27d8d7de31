package handlers

import (
	"net/http"

	"github.com/kimhsiao/habitnexus/internal/app"
	"github.com/kimhsiao/habitnexus/internal/errors"
)

// Register mounts every control endpoint on mux.
func Register(mux *http.ServeMux, a *app.App) {
	s := NewSyncHandler(a)
	rh := NewReminderHandler(a)

	mux.HandleFunc("GET "+Prefix+"/health", health)
	mux.HandleFunc("GET "+Prefix+"/status", s.GetStatus)
	mux.HandleFunc("POST "+Prefix+"/sync", s.TriggerSync)
	mux.HandleFunc("GET "+Prefix+"/queue", s.ListQueue)
	mux.HandleFunc("DELETE "+Prefix+"/queue", s.ClearQueue)
	mux.HandleFunc("GET "+Prefix+"/reminders", rh.List)
	mux.HandleFunc("GET "+Prefix+"/reminders/{id}/next", rh.Next)
	mux.HandleFunc("POST "+Prefix+"/reminders/{id}/actions", rh.Act)
	mux.HandleFunc(Prefix+"/", notFound)
}

// notFound keeps unknown control paths from being proxied upstream.
func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, errors.New(errors.ErrNotFound, "no control endpoint "+r.Method+" "+r.URL.Path))
}

// health answers for habitd itself, not the upstream API.
func health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "service": "habitd"})
}
