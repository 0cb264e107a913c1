package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func boolPtr(b bool) *bool { return &b }

func testCtx(inputs map[string]any) Context {
	return Context{
		User:   "admin",
		Host:   "workstation.local",
		Now:    time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC),
		Inputs: inputs,
	}
}

func TestReadOnlyBypassesPolicy(t *testing.T) {
	doc := &Document{DefaultAllow: false}
	e := NewEngine(doc, zap.NewNop())

	d := e.Decide("anything", false, testCtx(nil))
	assert.True(t, d.Allow)
	assert.Equal(t, "read-only", d.Reason)
}

func TestDefaultAllowGoverned(t *testing.T) {
	tests := []struct {
		name         string
		defaultAllow bool
		toolAllow    *bool
		want         bool
	}{
		{"default allow, no entry", true, nil, true},
		{"default deny, no entry", false, nil, false},
		{"default deny, tool allows", false, boolPtr(true), true},
		{"default allow, tool denies", true, boolPtr(false), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := &Document{DefaultAllow: tt.defaultAllow}
			if tt.toolAllow != nil {
				doc.Tools = map[string]ToolPolicy{"x": {Allow: tt.toolAllow}}
			}
			e := NewEngine(doc, zap.NewNop())
			d := e.Decide("x", true, testCtx(nil))
			assert.Equal(t, tt.want, d.Allow, d.Reason)
		})
	}
}

func TestUserCondition(t *testing.T) {
	doc := &Document{
		DefaultAllow: true,
		Tools: map[string]ToolPolicy{
			"write_config": {Conditions: Conditions{Users: []string{"admin", "ops"}}},
		},
	}
	e := NewEngine(doc, zap.NewNop())

	allowed := e.Decide("write_config", true, testCtx(nil))
	assert.True(t, allowed.Allow)

	ctx := testCtx(nil)
	ctx.User = "guest"
	denied := e.Decide("write_config", true, ctx)
	assert.False(t, denied.Allow)
	assert.Equal(t, "user not allowed", denied.Reason)
}

func TestHostGlobCondition(t *testing.T) {
	doc := &Document{
		DefaultAllow: true,
		Tools: map[string]ToolPolicy{
			"restart_service": {Conditions: Conditions{Hosts: []string{"*.local"}}},
		},
	}
	e := NewEngine(doc, zap.NewNop())

	allowed := e.Decide("restart_service", true, testCtx(nil))
	assert.True(t, allowed.Allow)

	ctx := testCtx(nil)
	ctx.Host = "remote.example.com"
	denied := e.Decide("restart_service", true, ctx)
	assert.False(t, denied.Allow)
	assert.Equal(t, "host not allowed", denied.Reason)
}

func TestHoursCondition(t *testing.T) {
	doc := &Document{
		DefaultAllow: true,
		Tools: map[string]ToolPolicy{
			"package_update": {Conditions: Conditions{HoursAllow: []string{"22:00-06:00"}}},
		},
	}
	e := NewEngine(doc, zap.NewNop())

	at := func(hour, minute int) Context {
		ctx := testCtx(nil)
		ctx.Now = time.Date(2026, 8, 25, hour, minute, 0, 0, time.UTC)
		return ctx
	}

	// Wrap-around range matches late night and early morning.
	assert.True(t, e.Decide("package_update", true, at(23, 0)).Allow)
	assert.True(t, e.Decide("package_update", true, at(5, 0)).Allow)
	assert.True(t, e.Decide("package_update", true, at(22, 0)).Allow)
	assert.True(t, e.Decide("package_update", true, at(6, 0)).Allow)

	denied := e.Decide("package_update", true, at(14, 30))
	assert.False(t, denied.Allow)
	assert.Equal(t, "outside allowed hours", denied.Reason)
}

func TestPathGlobConditions(t *testing.T) {
	doc := &Document{
		DefaultAllow: true,
		Tools: map[string]ToolPolicy{
			"write_config": {Conditions: Conditions{
				PathsAllow: []string{"/etc/cerebric/*"},
				PathsDeny:  []string{"/etc/cerebric/secrets*"},
			}},
		},
	}
	e := NewEngine(doc, zap.NewNop())

	allowed := e.Decide("write_config", true, testCtx(map[string]any{"path": "/etc/cerebric/app.yaml"}))
	assert.True(t, allowed.Allow)

	denied := e.Decide("write_config", true, testCtx(map[string]any{"path": "/etc/passwd"}))
	assert.False(t, denied.Allow)
	assert.Equal(t, "path not allowed", denied.Reason)

	deniedGlob := e.Decide("write_config", true, testCtx(map[string]any{"path": "/etc/cerebric/secrets.yaml"}))
	assert.False(t, deniedGlob.Allow)
	assert.Equal(t, "path denied", deniedGlob.Reason)
}

func TestAbsentInputFieldNotApplicable(t *testing.T) {
	doc := &Document{
		DefaultAllow: true,
		Tools: map[string]ToolPolicy{
			"write_config": {Conditions: Conditions{
				PathsAllow: []string{"/etc/cerebric/*"},
				NamesAllow: []string{"app"},
			}},
		},
	}
	e := NewEngine(doc, zap.NewNop())

	// No path or name inputs: neither condition applies.
	d := e.Decide("write_config", true, testCtx(map[string]any{"other": 1}))
	assert.True(t, d.Allow, d.Reason)
}

func TestNamesAllowCondition(t *testing.T) {
	doc := &Document{
		DefaultAllow: true,
		Tools: map[string]ToolPolicy{
			"restart_service": {Conditions: Conditions{NamesAllow: []string{"nginx", "sshd"}}},
		},
	}
	e := NewEngine(doc, zap.NewNop())

	assert.True(t, e.Decide("restart_service", true, testCtx(map[string]any{"name": "nginx"})).Allow)

	denied := e.Decide("restart_service", true, testCtx(map[string]any{"name": "dockerd"}))
	assert.False(t, denied.Allow)
	assert.Equal(t, "name not allowed", denied.Reason)
}

func TestConditionOrderFirstFailureWins(t *testing.T) {
	doc := &Document{
		DefaultAllow: true,
		Tools: map[string]ToolPolicy{
			"x": {Conditions: Conditions{
				Users:      []string{"nobody"},
				PathsAllow: []string{"/nowhere/*"},
			}},
		},
	}
	e := NewEngine(doc, zap.NewNop())

	d := e.Decide("x", true, testCtx(map[string]any{"path": "/etc/passwd"}))
	require.False(t, d.Allow)
	// Users evaluates before paths.
	assert.Equal(t, "user not allowed", d.Reason)
}

func TestDecisionCarriesToolFlags(t *testing.T) {
	doc := &Document{
		DefaultAllow: true,
		Tools: map[string]ToolPolicy{
			"write_config": {
				SimulationRequired: true,
				RollbackRequired:   true,
				Approvals:          []string{"admin"},
			},
		},
	}
	e := NewEngine(doc, zap.NewNop())

	d := e.Decide("write_config", true, testCtx(nil))
	require.True(t, d.Allow)
	assert.True(t, d.SimulationRequired)
	assert.True(t, d.RollbackRequired)
	assert.Equal(t, []string{"admin"}, d.ApprovalsNeeded)
}

func TestDenyMonotonicUnderAddedConditions(t *testing.T) {
	base := Conditions{Users: []string{"nobody"}}
	doc := &Document{
		DefaultAllow: true,
		Tools:        map[string]ToolPolicy{"x": {Conditions: base}},
	}
	e := NewEngine(doc, zap.NewNop())
	require.False(t, e.Decide("x", true, testCtx(nil)).Allow)

	// Adding more conditions can never flip a denial to an allowance.
	withMore := base
	withMore.Hosts = []string{"*"}
	withMore.NamesAllow = []string{"anything"}
	e.Reload(&Document{DefaultAllow: true, Tools: map[string]ToolPolicy{"x": {Conditions: withMore}}})
	assert.False(t, e.Decide("x", true, testCtx(nil)).Allow)
}

func TestParseDocument(t *testing.T) {
	data := []byte(`
default_allow: true
tools:
  write_config:
    allow: true
    simulation_required: true
    rollback_required: true
    approvals: [admin]
    conditions:
      users: [admin]
      hosts: ["*.local"]
      hours_allow: ["08:00-18:00"]
      paths_allow: ["/etc/cerebric/*"]
      paths_deny: ["/etc/cerebric/secrets*"]
      names_allow: [app]
  dangerous_tool:
    allow: false
`)
	doc, err := Parse(data)
	require.NoError(t, err)
	assert.True(t, doc.DefaultAllow)

	wc := doc.Tools["write_config"]
	require.NotNil(t, wc.Allow)
	assert.True(t, *wc.Allow)
	assert.True(t, wc.SimulationRequired)
	assert.Equal(t, []string{"/etc/cerebric/*"}, wc.Conditions.PathsAllow)

	dt := doc.Tools["dangerous_tool"]
	require.NotNil(t, dt.Allow)
	assert.False(t, *dt.Allow)
}

func TestParseRejectsBadHourRange(t *testing.T) {
	data := []byte(`
default_allow: true
tools:
  x:
    conditions:
      hours_allow: ["25:00-26:00"]
`)
	_, err := Parse(data)
	require.Error(t, err)
}

func TestHourRangeParsing(t *testing.T) {
	start, end, err := parseHourRange("22:00-06:00")
	require.NoError(t, err)
	assert.Equal(t, 22*60, start)
	assert.Equal(t, 6*60, end)

	_, _, err = parseHourRange("22:00")
	assert.Error(t, err)
}
