package testkit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
)

// CMSURLProperty is the property CMSService publishes its base URL under
const CMSURLProperty = "cms_url"

// CMSService is an in-process content management API holding entries in
// memory. It accepts any api key and bumps _version on every update.
type CMSService struct {
	mu      sync.Mutex
	entries map[string]map[string]any
	updates []string
	server  *httptest.Server
}

// NewCMSService creates a CMS service. Entries are added with Put.
func NewCMSService() *CMSService {
	return &CMSService{entries: make(map[string]map[string]any)}
}

// GetName returns the service name
func (s *CMSService) GetName() string {
	return "cms"
}

// Start serves the API on a loopback port
func (s *CMSService) Start() (map[string]any, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v3/content_types/{ct}/entries/{uid}", s.handleGet)
	mux.HandleFunc("PUT /v3/content_types/{ct}/entries/{uid}", s.handlePut)
	s.server = httptest.NewServer(mux)
	return map[string]any{CMSURLProperty: s.server.URL}, nil
}

// Stop shuts the server down
func (s *CMSService) Stop() error {
	if s.server != nil {
		s.server.Close()
	}
	return nil
}

// Put stores an entry
func (s *CMSService) Put(contentTypeUID, entryUID string, entry map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key(contentTypeUID, entryUID)] = entry
}

// Entry returns the stored entry
func (s *CMSService) Entry(contentTypeUID, entryUID string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key(contentTypeUID, entryUID)]
	return e, ok
}

// Updates returns the ct/uid of each update, in order
func (s *CMSService) Updates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.updates...)
}

func key(contentTypeUID, entryUID string) string {
	return contentTypeUID + "/" + entryUID
}

func (s *CMSService) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("api_key") == "" {
		writeError(w, http.StatusUnauthorized, "api_key is required")
		return
	}
	entry, ok := s.Entry(r.PathValue("ct"), r.PathValue("uid"))
	if !ok {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	writeEntry(w, entry)
}

func (s *CMSService) handlePut(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Entry map[string]any `json:"entry"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Entry == nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid entry")
		return
	}

	k := key(r.PathValue("ct"), r.PathValue("uid"))
	s.mu.Lock()
	current, ok := s.entries[k]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	if sent, has := body.Entry["_version"]; has && fmt.Sprint(sent) != fmt.Sprint(current["_version"]) {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "version mismatch")
		return
	}
	version := 1
	if v, ok := current["_version"].(float64); ok {
		version = int(v) + 1
	} else if v, ok := current["_version"].(int); ok {
		version = v + 1
	}
	body.Entry["_version"] = version
	s.entries[k] = body.Entry
	s.updates = append(s.updates, k)
	s.mu.Unlock()

	writeEntry(w, body.Entry)
}

func writeEntry(w http.ResponseWriter, entry map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"entry": entry})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_message": msg,
		"error_code":    status,
	})
}
