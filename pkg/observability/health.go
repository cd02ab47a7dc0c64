package observability

import (
	"context"
	"encoding/json"
	"net/http"
)

// ReadyCheck returns nil while its subsystem can serve.
type ReadyCheck func(ctx context.Context) error

type probeReply struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// HealthHandler answers liveness probes. A process that can answer is alive.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		reply(rw, http.StatusOK, probeReply{Status: "ok"})
	})
}

// ReadyHandler answers readiness probes with 503 and the reason of the
// first failing check, or 200 when all pass.
func ReadyHandler(checks ...ReadyCheck) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		for _, check := range checks {
			if err := check(req.Context()); err != nil {
				reply(rw, http.StatusServiceUnavailable, probeReply{Status: "unavailable", Reason: err.Error()})

				return
			}
		}

		reply(rw, http.StatusOK, probeReply{Status: "ok"})
	})
}

func reply(rw http.ResponseWriter, code int, body probeReply) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(body)
}
