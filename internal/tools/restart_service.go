package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RestartService restarts a systemd unit and verifies it came back.
// Each systemctl step lands in the response's audit fields.
type RestartService struct {
	timeout time.Duration
	log     *zap.Logger

	run func(ctx context.Context, name string, args ...string) (string, error)
}

// NewRestartService builds the tool around the host's systemctl.
func NewRestartService(log *zap.Logger) *RestartService {
	if log == nil {
		log = zap.NewNop()
	}
	rs := &RestartService{timeout: 90 * time.Second, log: log}
	rs.run = func(ctx context.Context, name string, args ...string) (string, error) {
		out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
		return string(out), err
	}
	return rs
}

func (rs *RestartService) Name() string      { return "restart_service" }
func (rs *RestartService) SideEffects() bool { return true }

// Execute handles inputs: service (required).
func (rs *RestartService) Execute(ctx context.Context, req Request) Response {
	service := stringInput(req.Inputs, "service")
	if service == "" {
		return failure(req, "missing input: service")
	}

	if !req.Apply() {
		return success(req, map[string]any{
			"service": service,
			"steps": []string{
				"systemctl restart " + service,
				"systemctl is-active " + service,
			},
			"applied": false,
		})
	}

	cctx, cancel := context.WithTimeout(ctx, rs.timeout)
	defer cancel()

	var steps []string

	out, err := rs.run(cctx, "systemctl", "restart", service)
	steps = append(steps, "systemctl restart "+service)
	if err != nil {
		resp := failure(req, fmt.Sprintf("restart %s: %v: %s", service, err, strings.TrimSpace(out)))
		resp.Audit = map[string]any{"service": service, "steps": steps}
		return resp
	}

	state, err := rs.run(cctx, "systemctl", "is-active", service)
	steps = append(steps, "systemctl is-active "+service)
	state = strings.TrimSpace(state)
	active := err == nil && state == "active"
	if !active {
		resp := failure(req, fmt.Sprintf("%s did not come back: state=%s", service, state))
		resp.Audit = map[string]any{"service": service, "steps": steps, "state": state}
		return resp
	}

	rs.log.Info("service restarted", zap.String("service", service))
	resp := success(req, map[string]any{
		"service": service,
		"state":   state,
		"applied": true,
	})
	resp.Audit = map[string]any{"service": service, "steps": steps, "state": state}
	return resp
}
