package rtusensors

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path"

	"github.com/joho/godotenv"
)

// Config is the content of <config dir>/config.json.
type Config struct {
	Serials      []Serial `json:"serial"`
	PollInterval int      `json:"poll_interval"` // milliseconds between poll cycles
	AddressFile  string   `json:"address_file"`
	History      string   `json:"history"` // sqlite file, empty disables the reading history
	Metrics      string   `json:"metrics"` // listen address of the /metrics endpoint
	MQTT         MQTT     `json:"mqtt"`
}

// Serial describes one RS-485 bus and the sensors attached to it.
type Serial struct {
	Name     string   `json:"name"`
	Url      string   `json:"url"`     // rtu:///dev/ttyS2 or rtuovertcp://host:port
	Timeout  int      `json:"timeout"` // response timeout in milliseconds
	Speed    int      `json:"speed"`
	DataBits int      `json:"data_bits"`
	Parity   int      `json:"parity"` // 0 none, 1 even, 2 odd
	StopBits int      `json:"stop_bits"`
	Attempts int      `json:"attempts"`
	Delay    int      `json:"delay"` // inter-attempt delay in milliseconds
	Sensors  []Sensor `json:"sensors"`
}

// ID returns the name of the bus, falling back to its url.
func (s Serial) ID() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Url
}

type Sensor struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Address uint8  `json:"address,omitempty"`
}

type MQTT struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Token    string `json:"token"`
	Topic    string `json:"topic"`
}

// Environment variables that override the MQTT section. They are read from the
// process environment first and from <config dir>/.env second.
const (
	EnvMQTTBroker = "MQTT_BROKER"
	EnvMQTTToken  = "MQTT_TOKEN"
)

func LoadConfig(configPath string) (Config, error) {
	if !exists(path.Join(configPath, "config.json")) {
		return Config{}, fmt.Errorf("configuration file not found: %s", path.Join(configPath, "config.json"))
	}

	bb, err := os.ReadFile(path.Join(configPath, "config.json"))
	if err != nil {
		return Config{}, fmt.Errorf("error reading file: %w", err)
	}
	var config Config
	if err := json.NewDecoder(bytes.NewReader(bb)).Decode(&config); err != nil {
		return Config{}, fmt.Errorf("error decoding file: %w", err)
	}

	env := map[string]string{}
	if envFile := path.Join(configPath, ".env"); exists(envFile) {
		env, err = godotenv.Read(envFile)
		if err != nil {
			return Config{}, fmt.Errorf("error reading env file: %w", err)
		}
	}
	if v := lookupEnv(env, EnvMQTTBroker); v != "" {
		config.MQTT.Broker = v
	}
	if v := lookupEnv(env, EnvMQTTToken); v != "" {
		config.MQTT.Token = v
	}

	if config.AddressFile != "" && !path.IsAbs(config.AddressFile) {
		config.AddressFile = path.Join(configPath, config.AddressFile)
	}
	if config.History != "" && !path.IsAbs(config.History) {
		config.History = path.Join(configPath, config.History)
	}
	return config, nil
}

func lookupEnv(env map[string]string, key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return env[key]
}

func exists(filePath string) bool {
	_, err := os.Stat(filePath)
	return err == nil || !os.IsNotExist(err)
}
