package interceptor

import (
	"encoding/json"
	"io"
	"net/http"

	apperrors "github.com/kimhsiao/habitnexus/internal/errors"
	"github.com/kimhsiao/habitnexus/internal/logging"
)

// ServeHTTP proxies an application request upstream through Do.
func (i *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, err := i.Resolve(r.URL.RequestURI())
	if err != nil {
		http.Error(w, "invalid request path", http.StatusBadRequest)
		return
	}

	out := r.Clone(r.Context())
	out.URL = target
	out.Host = target.Host
	out.RequestURI = ""
	out.Header = replayHeaders(r.Header)
	out.Header.Del("Accept-Encoding")

	resp, err := i.Do(out)
	if err != nil {
		writeError(w, err)
		return
	}
	defer resp.Body.Close()

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	for _, name := range hopHeaders {
		w.Header().Del(name)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logging.Debug("Client went away while copying response", map[string]interface{}{"url": target.String()})
	}
}

// writeError reports a mutation that was neither sent nor queued.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	message := "internal error"
	switch {
	case apperrors.IsStoreFailure(err):
		status = http.StatusInsufficientStorage
		message = "could not save, try again"
	case code == apperrors.ErrValidation, code == apperrors.ErrInvalid:
		status = http.StatusBadRequest
		message = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderQueueError, string(code))
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": message,
		"code":  code,
	})
}
