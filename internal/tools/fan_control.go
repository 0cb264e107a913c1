package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// FanControl writes a PWM duty cycle to a hwmon device node. The
// requested percentage maps to 0..255; the previous value is read first
// so the response carries a rollback pre-image. A duty cycle of 0 stops
// the fan and 255 pins it at maximum — both apply with a warning rather
// than an error.
type FanControl struct {
	sysfsRoot string
	log       *zap.Logger
}

// NewFanControl confines device writes to sysfsRoot (default
// /sys/class/hwmon).
func NewFanControl(sysfsRoot string, log *zap.Logger) *FanControl {
	if sysfsRoot == "" {
		sysfsRoot = "/sys/class/hwmon"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FanControl{sysfsRoot: filepath.Clean(sysfsRoot), log: log}
}

func (f *FanControl) Name() string      { return "fan_control" }
func (f *FanControl) SideEffects() bool { return true }

// Execute handles inputs: device (pwm node path, required), percent
// (0..100, required).
func (f *FanControl) Execute(_ context.Context, req Request) Response {
	device := stringInput(req.Inputs, "device")
	if device == "" {
		return failure(req, "missing input: device")
	}
	percent, ok := floatInput(req.Inputs, "percent")
	if !ok {
		return failure(req, "missing input: percent")
	}
	if percent < 0 || percent > 100 {
		return failure(req, fmt.Sprintf("percent out of range: %.1f", percent))
	}

	abs, err := filepath.Abs(device)
	if err != nil {
		return failure(req, fmt.Sprintf("resolve device: %v", err))
	}
	rel, err := filepath.Rel(f.sysfsRoot, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return failure(req, fmt.Sprintf("device not allowed: %s", device))
	}

	pwm := int(percent * 255 / 100)

	previous := -1
	if raw, err := os.ReadFile(abs); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(string(raw))); err == nil {
			previous = v
		}
	}

	outputs := map[string]any{
		"device":       abs,
		"percent":      percent,
		"pwm":          pwm,
		"previous_pwm": previous,
	}
	switch {
	case pwm == 0:
		outputs["warning"] = "duty cycle 0 stops the fan"
	case pwm >= 255:
		outputs["warning"] = "duty cycle 255 pins the fan at maximum"
	}

	if !req.Apply() {
		outputs["applied"] = false
		return success(req, outputs)
	}

	if err := os.WriteFile(abs, []byte(strconv.Itoa(pwm)), 0o644); err != nil {
		return failure(req, fmt.Sprintf("write pwm to %s: %v", abs, err))
	}

	f.log.Info("fan duty cycle set",
		zap.String("device", abs),
		zap.Int("pwm", pwm),
		zap.Int("previous_pwm", previous),
	)
	outputs["applied"] = true
	resp := success(req, outputs)
	resp.Audit = map[string]any{"device": abs, "pwm": pwm, "previous_pwm": previous}
	return resp
}
