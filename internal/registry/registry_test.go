package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func pass(context.Context) error { return nil }

func fail(reason string) Probe {
	return func(context.Context) error { return errors.New(reason) }
}

func TestProbeRecordsOutcome(t *testing.T) {
	r := New(zap.NewNop())

	got := r.Probe(context.Background(), CapModelProvider, pass)
	assert.True(t, got.Available)
	assert.False(t, got.CheckedAt.IsZero())

	got = r.Probe(context.Background(), CapSystemd, fail("systemctl not on PATH"))
	assert.False(t, got.Available)
	assert.Equal(t, "systemctl not on PATH", got.Reason)
}

func TestAvailable(t *testing.T) {
	r := New(zap.NewNop())
	r.Probe(context.Background(), CapRetriever, pass)
	r.Probe(context.Background(), CapSensors, fail("no hwmon"))

	assert.True(t, r.Available(CapRetriever))
	assert.False(t, r.Available(CapSensors))
	assert.False(t, r.Available("never_probed"))
}

func TestRequireReturnsTypedError(t *testing.T) {
	r := New(zap.NewNop())
	r.Probe(context.Background(), CapPackageManager, fail("no apt-get or dnf"))

	err := r.Require(CapPackageManager)
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.Contains(t, err.Error(), "feature_unavailable")
	assert.Contains(t, err.Error(), "no apt-get or dnf")

	var ue *UnavailableError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, CapPackageManager, ue.Capability)
}

func TestRequireUnprobed(t *testing.T) {
	r := New(zap.NewNop())

	err := r.Require(CapModelProvider)
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.Contains(t, err.Error(), "not probed")
}

func TestRequireAvailable(t *testing.T) {
	r := New(zap.NewNop())
	r.Probe(context.Background(), CapModelProvider, pass)
	assert.NoError(t, r.Require(CapModelProvider))
}

func TestReprobeReplaces(t *testing.T) {
	r := New(zap.NewNop())
	r.Probe(context.Background(), CapModelProvider, fail("connection refused"))
	require.False(t, r.Available(CapModelProvider))

	r.Probe(context.Background(), CapModelProvider, pass)
	assert.True(t, r.Available(CapModelProvider))
}

func TestListSorted(t *testing.T) {
	r := New(zap.NewNop())
	r.Probe(context.Background(), CapSystemd, pass)
	r.Probe(context.Background(), CapModelProvider, pass)
	r.Probe(context.Background(), CapRetriever, fail("index corrupt"))

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, CapModelProvider, list[0].Name)
	assert.Equal(t, CapRetriever, list[1].Name)
	assert.Equal(t, CapSystemd, list[2].Name)
}

func TestProbeAny(t *testing.T) {
	ok := ProbeAny(fail("first down"), pass)
	assert.NoError(t, ok(context.Background()))

	allFail := ProbeAny(fail("first down"), fail("second down"))
	err := allFail(context.Background())
	require.Error(t, err)
	assert.Equal(t, "second down", err.Error())
}

func TestIsUnavailableOnWrapped(t *testing.T) {
	err := fmt.Errorf("loading model: %w", &UnavailableError{Capability: CapModelProvider, Reason: "down"})
	assert.True(t, IsUnavailable(err))
	assert.False(t, IsUnavailable(errors.New("plain")))
}
