package mqtt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()
	assert.Equal(t, "evflex/capacity", cfg.CapacityTopic)
	assert.Equal(t, "evflex/regulation", cfg.RegulationTopic)
	assert.NotEmpty(t, cfg.ClientID)
	assert.Equal(t, 5000, cfg.ConnectTimeoutMS)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Enabled: true}
	assert.Error(t, cfg.Validate())
	cfg.Broker = "tcp://localhost:1883"
	assert.NoError(t, cfg.Validate())
	// a disabled transport needs no broker
	assert.NoError(t, Config{}.Validate())
}

func TestRegulationMessageRoundTrip(t *testing.T) {
	payload, err := json.Marshal(RegulationMessage{Tariff: "ev-flex", KWh: -7.5})
	require.NoError(t, err)

	var msg RegulationMessage
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, "ev-flex", msg.Tariff)
	assert.InDelta(t, -7.5, msg.KWh, 1e-9)
}

func TestCapacityMessageFields(t *testing.T) {
	payload, err := json.Marshal(CapacityMessage{Timeslot: 42, Tariff: "default", MinKWh: 24, MaxKWh: 36, NominalKWh: 30})
	require.NoError(t, err)
	assert.JSONEq(t, `{"timeslot":42,"tariff":"default","min_kwh":24,"max_kwh":36,"nominal_kwh":30}`, string(payload))
}
