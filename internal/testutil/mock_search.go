// Package testutil provides testing utilities for the harvester.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SearchPath is the path the mock serves search pages on.
const SearchPath = "/rest/api/2/search"

// MockResponse defines a scripted response for one request.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is what the mock saw for one request.
type RecordedRequest struct {
	Collection string
	Offset     int
	PageSize   int
	UserAgent  string
	Query      map[string][]string
}

type mockCollection struct {
	total     int
	hideTotal bool
}

// MockSearchAPI is a configurable mock of the paginated search API.
//
// Collections are derived from the filter parameter: a filter of
// "project=SPARK" addresses collection "SPARK". Scripted responses for a
// (collection, offset) pair are served in order before the default page.
type MockSearchAPI struct {
	server      *httptest.Server
	mu          sync.Mutex
	filterParam string
	collections map[string]*mockCollection
	scripts     map[string][]MockResponse
	requests    []RecordedRequest
}

// NewMockSearchAPI creates a new mock server reading the filter from filterParam.
func NewMockSearchAPI(filterParam string) *MockSearchAPI {
	mock := &MockSearchAPI{
		filterParam: filterParam,
		collections: make(map[string]*mockCollection),
		scripts:     make(map[string][]MockResponse),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the search endpoint URL.
func (m *MockSearchAPI) URL() string {
	return m.server.URL + SearchPath
}

// Close shuts down the mock server.
func (m *MockSearchAPI) Close() {
	m.server.Close()
}

// SetCollection registers a collection holding total issues.
func (m *MockSearchAPI) SetCollection(name string, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[name] = &mockCollection{total: total}
}

// HideTotal makes pages of the collection omit the total field.
func (m *MockSearchAPI) HideTotal(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[name]; ok {
		c.hideTotal = true
	}
}

// Script queues responses for requests at (collection, offset).
func (m *MockSearchAPI) Script(collection string, offset int, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := scriptKey(collection, offset)
	m.scripts[key] = append(m.scripts[key], responses...)
}

// Requests returns a copy of every request received.
func (m *MockSearchAPI) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestCount returns the number of requests received.
func (m *MockSearchAPI) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// OffsetsRequested returns the offsets requested for a collection, in order.
func (m *MockSearchAPI) OffsetsRequested(collection string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var offsets []int
	for _, r := range m.requests {
		if r.Collection == collection {
			offsets = append(offsets, r.Offset)
		}
	}
	return offsets
}

// Reset clears recorded requests and pending scripts.
func (m *MockSearchAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.scripts = make(map[string][]MockResponse)
}

func (m *MockSearchAPI) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != SearchPath {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	collection := strings.TrimPrefix(q.Get(m.filterParam), "project=")
	offset, _ := strconv.Atoi(q.Get("startAt"))
	pageSize, _ := strconv.Atoi(q.Get("maxResults"))

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Collection: collection,
		Offset:     offset,
		PageSize:   pageSize,
		UserAgent:  r.Header.Get("User-Agent"),
		Query:      q,
	})

	key := scriptKey(collection, offset)
	var scripted *MockResponse
	if queue := m.scripts[key]; len(queue) > 0 {
		resp := queue[0]
		m.scripts[key] = queue[1:]
		scripted = &resp
	}
	coll := m.collections[collection]
	m.mu.Unlock()

	if scripted != nil {
		writeResponse(w, r, *scripted)
		return
	}

	if coll == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `{"errorMessages":["project %q does not exist"]}`, collection)
		return
	}

	writePage(w, collection, offset, pageSize, coll.total, coll.hideTotal)
}

func writeResponse(w http.ResponseWriter, r *http.Request, resp MockResponse) {
	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

func writePage(w http.ResponseWriter, collection string, offset, pageSize, total int, hideTotal bool) {
	issues := make([]map[string]any, 0, pageSize)
	for i := offset; i < offset+pageSize && i < total; i++ {
		issues = append(issues, map[string]any{
			"id":  strconv.Itoa(i),
			"key": fmt.Sprintf("%s-%d", collection, i+1),
		})
	}

	page := map[string]any{
		"startAt":    offset,
		"maxResults": pageSize,
		"issues":     issues,
	}
	if !hideTotal {
		page["total"] = total
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(page)
}

func scriptKey(collection string, offset int) string {
	return collection + "@" + strconv.Itoa(offset)
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"errorMessages":["Rate limit exceeded"]}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewServerErrorResponse creates a 503 Service Unavailable response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusServiceUnavailable,
		Body:       `{"errorMessages":["Service unavailable"]}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewClientErrorResponse creates a 400 Bad Request response.
func NewClientErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       `{"errorMessages":["Error in the JQL Query"]}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewMalformedResponse creates a 200 response whose body is not JSON.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `<html><body>maintenance</body></html>`,
		Headers:    map[string]string{"Content-Type": "text/html"},
	}
}
