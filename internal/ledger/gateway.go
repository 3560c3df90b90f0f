package ledger

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

// RegisterGateway mounts a read-only HTTP/JSON view of l on mux:
//
//	GET /v1/anchors?hash=sha256:...   lookup by anchor hash
//	GET /v1/entries/{index}           entry by chain index
//	GET /v1/root                      chain tip and length
//	GET /v1/verify                    full chain verification
func RegisterGateway(mux *runtime.ServeMux, l Ledger) error {
	if err := mux.HandlePath(http.MethodGet, "/v1/anchors", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		hash := r.URL.Query().Get("hash")
		if err := validateAnchor(hash); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		e, err := l.Lookup(r.Context(), hash)
		switch {
		case errors.Is(err, ErrNotFound):
			writeJSON(w, http.StatusOK, map[string]any{"anchored": false})
		case err != nil:
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		default:
			writeJSON(w, http.StatusOK, map[string]any{"anchored": true, "entry": e})
		}
	}); err != nil {
		return err
	}

	if err := mux.HandlePath(http.MethodGet, "/v1/entries/{index}", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		idx, err := strconv.Atoi(params["index"])
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "index must be an integer"})
			return
		}
		e, err := l.Get(r.Context(), idx)
		switch {
		case errors.Is(err, ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		case err != nil:
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		default:
			writeJSON(w, http.StatusOK, e)
		}
	}); err != nil {
		return err
	}

	if err := mux.HandlePath(http.MethodGet, "/v1/root", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		root, err := l.Root(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
			return
		}
		n, err := l.Len(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"root": root, "length": n})
	}); err != nil {
		return err
	}

	return mux.HandlePath(http.MethodGet, "/v1/verify", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		if err := l.Verify(r.Context()); err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"intact": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"intact": true})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
