package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// criticalComponents must all be registered healthy before an engine
// reports ready. They match what Engine.Start registers; the ops server
// answering the probe is implicitly alive.
var criticalComponents = []string{"storage", "dispatcher", "health-manager"}

// HealthStatus is the JSON body of the health and readiness probes.
type HealthStatus struct {
	Status     string            `json:"status"` // "healthy", "unhealthy", "ready", "not_ready"
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	StartTime  time.Time         `json:"-"`
}

type componentHealth struct {
	healthy bool
	message string
	updated time.Time
}

// healthChecker is the process-wide component registry behind the probes.
type healthChecker struct {
	mu         sync.RWMutex
	components map[string]componentHealth
	startTime  time.Time
	version    string
}

var checker = &healthChecker{
	components: make(map[string]componentHealth),
	startTime:  time.Now(),
}

// SetVersion records the build version reported by the probes.
func SetVersion(version string) {
	checker.mu.Lock()
	defer checker.mu.Unlock()
	checker.version = version
}

// RegisterComponent records (or updates) one component's health.
func RegisterComponent(name string, healthy bool, message string) {
	checker.mu.Lock()
	defer checker.mu.Unlock()
	checker.components[name] = componentHealth{
		healthy: healthy,
		message: message,
		updated: time.Now(),
	}
}

// GetHealth reports overall health: unhealthy when any registered
// component is unhealthy.
func GetHealth() HealthStatus {
	checker.mu.RLock()
	defer checker.mu.RUnlock()

	status := "healthy"
	components := make(map[string]string)
	for name, comp := range checker.components {
		if !comp.healthy {
			status = "unhealthy"
			components[name] = "unhealthy: " + comp.message
		} else {
			components[name] = "healthy"
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Version:    checker.version,
		Uptime:     time.Since(checker.startTime).String(),
		StartTime:  checker.startTime,
	}
}

// GetReadiness reports whether every critical component has come up.
func GetReadiness() HealthStatus {
	checker.mu.RLock()
	defer checker.mu.RUnlock()

	status := "ready"
	message := ""
	components := make(map[string]string)
	for _, name := range criticalComponents {
		comp, ok := checker.components[name]
		switch {
		case !ok:
			status = "not_ready"
			message = "waiting for " + name + " initialization"
			components[name] = "not registered"
		case !comp.healthy:
			status = "not_ready"
			message = "waiting for " + name
			components[name] = "not ready: " + comp.message
		default:
			components[name] = "ready"
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    checker.version,
		Uptime:     time.Since(checker.startTime).String(),
		StartTime:  checker.startTime,
	}
}

// HealthHandler serves the health probe; 503 when unhealthy.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	}
}

// ReadyHandler serves the readiness probe; 503 until every critical
// component registered healthy.
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()
		w.Header().Set("Content-Type", "application/json")
		if readiness.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(readiness)
	}
}

// LivenessHandler answers 200 whenever the process can serve at all.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(checker.startTime).String(),
		})
	}
}
