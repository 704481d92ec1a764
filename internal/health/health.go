package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status — состояние компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// checkTimeout ограничивает каждую проверку, чтобы зависший компонент
// не подвешивал весь health-эндпоинт.
const checkTimeout = 3 * time.Second

// CheckFunc проверяет один компонент. Nil-ошибка означает здоровье.
type CheckFunc func(ctx context.Context) error

// Check — результат одной проверки в ответе эндпоинта.
type Check struct {
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Report — полный ответ health-эндпоинта.
type Report struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Registry собирает проверки компонентов и отдаёт агрегированный отчёт.
type Registry struct {
	mu        sync.RWMutex
	checks    map[string]CheckFunc
	version   string
	startTime time.Time
}

// NewRegistry создаёт пустой реестр проверок.
func NewRegistry(version string) *Registry {
	return &Registry{
		checks:    make(map[string]CheckFunc),
		version:   version,
		startTime: time.Now(),
	}
}

// Register добавляет проверку компонента под именем name.
func (r *Registry) Register(name string, fn CheckFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = fn
}

// Run выполняет все проверки и собирает отчёт.
func (r *Registry) Run(ctx context.Context) Report {
	r.mu.RLock()
	checks := make(map[string]CheckFunc, len(r.checks))
	for name, fn := range r.checks {
		checks[name] = fn
	}
	r.mu.RUnlock()

	report := Report{
		Status:        StatusHealthy,
		Timestamp:     time.Now(),
		Checks:        make(map[string]Check, len(checks)),
		Version:       r.version,
		UptimeSeconds: int64(time.Since(r.startTime).Seconds()),
	}

	for name, fn := range checks {
		report.Checks[name] = runOne(ctx, fn)
		if report.Checks[name].Status == StatusUnhealthy {
			report.Status = StatusUnhealthy
		}
	}
	return report
}

func runOne(ctx context.Context, fn CheckFunc) Check {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	check := Check{Status: StatusHealthy, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}

// ServeHTTP отдаёт полный отчёт; 503 при нездоровом компоненте.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	report := r.Run(req.Context())

	statusCode := http.StatusOK
	if report.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(report)
}

// LivenessHandler — liveness probe, всегда 200 пока процесс жив.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler отвечает 503, если хотя бы один компонент нездоров.
func (r *Registry) ReadinessHandler(w http.ResponseWriter, req *http.Request) {
	report := r.Run(req.Context())
	if report.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
