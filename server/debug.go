package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"typed-rpc/message"
)

// DebugHandler returns an HTTP handler exposing the registered RPCs and their call
// counters:
//
//	GET /debug/rpc       all entries, ordered by identifier
//	GET /debug/rpc/:id   one entry
func (svr *Server[S]) DebugHandler() http.Handler {
	router := httprouter.New()
	router.GET("/debug/rpc", svr.debugIndex)
	router.GET("/debug/rpc/:id", svr.debugEntry)
	return router
}

func (svr *Server[S]) debugIndex(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, svr.registry.Stats())
}

func (svr *Server[S]) debugEntry(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	n, err := strconv.ParseUint(ps.ByName("id"), 10, 32)
	if err != nil {
		http.Error(w, "invalid rpc id", http.StatusBadRequest)
		return
	}
	id := message.ID(n)
	for _, st := range svr.registry.Stats() {
		if st.ID == id {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	http.Error(w, "rpc not found: "+id.String(), http.StatusNotFound)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
