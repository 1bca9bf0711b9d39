package proxy

import (
	"encoding/json"
	"net/http"

	"github.com/jmgilman/go/errors"

	"github.com/Jake-Mok-Nelson/offline-cache/internal/connectivity"
	"github.com/Jake-Mok-Nelson/offline-cache/internal/lifecycle"
)

// Info is the body of GET /__offline-cache/info.
type Info struct {
	Cache        *lifecycle.Info      `json:"cache"`
	Pending      int                  `json:"pending"`
	Connectivity *connectivity.Status `json:"connectivity,omitempty"`
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+ControlPrefix+"message", s.handleMessage)
	mux.HandleFunc("GET "+ControlPrefix+"info", s.handleInfo)
	mux.HandleFunc("POST "+ControlPrefix+"sync", s.handleSync)
	return mux
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg lifecycle.Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, errors.CodeInvalidInput, "invalid control message"))
		return
	}

	reply, err := s.slot.Manager().HandleMessage(r.Context(), msg)
	if err != nil {
		writeError(w, httpStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.Info()
	if err != nil {
		writeError(w, httpStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.Drain(r.Context())
	if err != nil {
		writeError(w, httpStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Info reports the active generation, the sync queue length and the
// connectivity state.
func (s *Server) Info() (*Info, error) {
	cacheInfo, err := s.slot.Manager().Info()
	if err != nil {
		return nil, err
	}
	info := &Info{Cache: cacheInfo}
	if s.queue != nil {
		info.Pending = s.queue.Len()
	}
	if s.monitor != nil {
		status := s.monitor.Status()
		info.Connectivity = &status
	}
	return info, nil
}

func httpStatus(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeInvalidInput:
		return http.StatusBadRequest
	case errors.CodeConflict:
		return http.StatusConflict
	case errors.CodeNetwork, errors.CodeTimeout, errors.CodeUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
