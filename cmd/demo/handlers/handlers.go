package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"
)

// Response is a generic JSON response structure
type Response struct {
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// Credentials is the body of a login request
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// DemoUser and DemoPassword are the only accepted login
const (
	DemoUser     = "demo"
	DemoPassword = "windowfence"
)

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	resp.Timestamp = time.Now().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// Health returns a health check endpoint
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Message: "WindowFence demo server is healthy"})
}

// Search handles search requests
func Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		query = "all"
	}

	writeJSON(w, http.StatusOK, Response{
		Message: "Search endpoint",
		Data: map[string]interface{}{
			"query":   query,
			"results": []string{"result1", "result2", "result3"},
		},
	})
}

// Create handles resource creation
func Create(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, Response{
		Message: "Create endpoint",
		Data: map[string]interface{}{
			"id":      "12345",
			"created": true,
		},
	})
}

// Login checks the demo credentials. Wrong credentials answer 401, which the
// lockout middleware counts as a failed attempt.
func Login(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Message: "Invalid JSON body"})
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(creds.Username), []byte(DemoUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(creds.Password), []byte(DemoPassword)) == 1
	if !userOK || !passOK {
		writeJSON(w, http.StatusUnauthorized, Response{Message: "Invalid username or password"})
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Message: "Logged in",
		Data: map[string]interface{}{
			"token": "mock-jwt-token",
			"user":  creds.Username,
		},
	})
}
