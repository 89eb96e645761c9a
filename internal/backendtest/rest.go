package backendtest

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"clipster/internal/jobapi"
)

func (s *Server) handleQualities(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		http.Error(w, `{"error":"url is required"}`, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.metaURLs = append(s.metaURLs, rawURL)
	status, body := s.qualitiesStatus, s.qualitiesBody
	s.mu.Unlock()

	writeJSON(w, status, body)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobapi.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.URL == "" {
		http.Error(w, `{"error":"url is required"}`, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.jobRequests = append(s.jobRequests, req)
	status, body := s.jobStatus, s.jobBody
	s.mu.Unlock()

	if status == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"jobId": uuid.NewString()})
		return
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}
