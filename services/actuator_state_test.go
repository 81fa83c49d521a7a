package services

import (
	"os"
	"testing"

	"plantops/models"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestActuatorStateStore_DefaultWhenMissing(t *testing.T) {
	store := NewActuatorStateStore(t.TempDir(), zap.NewNop())
	assert.Equal(t, models.DefaultActuatorState(), store.Load())
}

func TestActuatorStateStore_CorruptFileFallsBack(t *testing.T) {
	store := NewActuatorStateStore(t.TempDir(), zap.NewNop())
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o644))
	assert.Equal(t, models.DefaultActuatorState(), store.Load())
}

func TestActuatorStateStore_RoundTrip(t *testing.T) {
	store := NewActuatorStateStore(t.TempDir(), zap.NewNop())
	want := models.ActuatorState{
		Light:         models.StateOn,
		Heater:        models.StateOff,
		Pump:          models.StateRunning,
		Circulation:   models.StateIdle,
		WaterTank:     models.StateLow,
		HeaterLockout: models.StateActive,
	}

	require.NoError(t, store.Save(want))
	if diff := cmp.Diff(want, store.Load()); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestActuatorStateStore_UpdateAfterAction(t *testing.T) {
	store := NewActuatorStateStore(t.TempDir(), zap.NewNop())

	store.UpdateAfterAction(models.ActionLightOn)
	assert.Equal(t, models.StateOn, store.Load().Light)

	store.UpdateAfterAction(models.ActionHeaterOn)
	store.UpdateAfterAction(models.ActionHeaterOff)
	assert.Equal(t, models.StateOff, store.Load().Heater)

	// Timed actuators return to idle once the bridge call finished.
	store.UpdateAfterAction(models.ActionWater)
	assert.Equal(t, models.StateIdle, store.Load().Pump)

	before := store.Load()
	store.UpdateAfterAction(models.ActionNotifyHuman)
	assert.Equal(t, before, store.Load())
}

func TestActuatorStateStore_ReconcilePrefersHardware(t *testing.T) {
	store := NewActuatorStateStore(t.TempDir(), zap.NewNop())
	store.UpdateAfterAction(models.ActionLightOn)
	store.UpdateAfterAction(models.ActionHeaterOn)

	reading := &models.SensorReading{
		LightOn:       models.Bool(false),
		WaterPumpOn:   models.Bool(true),
		WaterTankOK:   models.Bool(false),
		HeaterLockout: models.Bool(true),
		// HeaterOn not reported: the cache stands.
	}

	got := store.Reconcile(reading)
	want := models.ActuatorState{
		Light:         models.StateOff,
		Heater:        models.StateOn,
		Pump:          models.StateRunning,
		Circulation:   models.StateIdle,
		WaterTank:     models.StateLow,
		HeaterLockout: models.StateActive,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reconciled state mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, got, store.Load(), "reconciled state is persisted")
}
