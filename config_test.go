package rtusensors

import (
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv(EnvMQTTToken, "")
	t.Setenv(EnvMQTTBroker, "")

	config, err := LoadConfig("testdata/config")
	require.NoError(t, err)

	require.Len(t, config.Serials, 1)
	serial := config.Serials[0]
	assert.Equal(t, "ttyS2", serial.ID())
	assert.Equal(t, "rtu:///dev/ttyS2", serial.Url)
	assert.Equal(t, 5, serial.Attempts)
	assert.Equal(t, 50, serial.Delay)
	require.Len(t, serial.Sensors, 3)
	assert.Equal(t, Sensor{Name: "ph", Type: "soilph", Address: 3}, serial.Sensors[1])
	assert.Zero(t, serial.Sensors[2].Address)

	assert.Equal(t, path.Join("testdata/config", "addresses.json"), config.AddressFile)
	assert.Equal(t, path.Join("testdata/config", "readings.db"), config.History)
	assert.Equal(t, "tcp://localhost:1883", config.MQTT.Broker)
	assert.Equal(t, "secret-from-env-file", config.MQTT.Token)
}

func TestLoadConfigProcessEnvWins(t *testing.T) {
	t.Setenv(EnvMQTTToken, "from-process")
	t.Setenv(EnvMQTTBroker, "tcp://broker:1883")

	config, err := LoadConfig("testdata/config")
	require.NoError(t, err)
	assert.Equal(t, "from-process", config.MQTT.Token)
	assert.Equal(t, "tcp://broker:1883", config.MQTT.Broker)
}

func TestLoadConfigMissing(t *testing.T) {
	_, err := LoadConfig(t.TempDir())
	assert.ErrorContains(t, err, "configuration file not found")
}

func TestSerialIDFallsBackToURL(t *testing.T) {
	assert.Equal(t, "rtuovertcp://localhost:5502", Serial{Url: "rtuovertcp://localhost:5502"}.ID())
}
