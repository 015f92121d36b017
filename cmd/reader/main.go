// Reader reads a sensor once and prints the frames on the wire and the
// decoded values. The sensor is either taken from the configuration or given
// by url, type and address.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/rwirdemann/rtusensors"
	"github.com/rwirdemann/rtusensors/modbus"
	"github.com/rwirdemann/rtusensors/poller"
	"github.com/rwirdemann/rtusensors/sensor"
	"github.com/rwirdemann/rtusensors/store"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration directory")
	name := flag.String("sensor", "", "name of a configured sensor")
	url := flag.String("url", "", "bus url, rtu://<device> or rtuovertcp://<host:port>")
	typ := flag.String("type", "", "sensor type, one of the known profiles")
	address := flag.Uint("address", 0, "slave address, 0 for the default of the type")
	query := flag.Bool("query", false, "ask the sensor for its address first")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	os.Exit(run(*configPath, *name, *url, *typ, uint8(*address), *query))
}

func run(configPath, name, url, typ string, address uint8, query bool) int {
	bus, dev, err := open(configPath, name, url, typ, address)
	if err != nil {
		slog.Error(err.Error())
		return 1
	}
	defer bus.Close()
	cfg := bus.Config()

	if query {
		a, err := sensor.QueryAddress(bus, dev.Profile, cfg)
		if err != nil {
			slog.Error(err.Error())
			return 1
		}
		fmt.Printf("%s answers on address %d\n", dev.Profile.Type, a)
		dev.Address = a
	}

	req := modbus.NewReadRequest(dev.Address, dev.Profile.Start, dev.Profile.Count)
	fmt.Printf("request : %s\n", req.Frame())
	res, err := bus.Execute(req, cfg)
	if err != nil {
		slog.Error("read failed", "sensor", dev.Name, "err", err)
		return 1
	}
	fmt.Printf("response: %s (%d attempts)\n", res.Frame, res.Attempts)

	values, err := sensor.Decode(dev.Profile, res.Data())
	if err != nil {
		slog.Error(err.Error())
		return 1
	}
	for _, f := range dev.Profile.Fields {
		fmt.Printf("%-18s %10.2f %s\n", f.Name, values[f.Name], f.Unit)
	}
	return 0
}

// open returns the bus and device to read. A named sensor comes from the
// configuration, with the address file taking precedence.
func open(configPath, name, url, typ string, address uint8) (*modbus.Bus, sensor.Device, error) {
	if name == "" {
		if url == "" || typ == "" {
			return nil, sensor.Device{}, fmt.Errorf("either -sensor or -url and -type are required")
		}
		dev, err := sensor.NewDevice(typ, typ, address)
		if err != nil {
			return nil, sensor.Device{}, err
		}
		serial := rtusensors.Serial{Url: url, Speed: dev.Profile.DefaultBaud}
		link, err := modbus.OpenLink(serial)
		if err != nil {
			return nil, sensor.Device{}, err
		}
		return modbus.NewBus(serial.ID(), link, modbus.ConfigFromSerial(serial)), dev, nil
	}

	config, err := rtusensors.LoadConfig(configPath)
	if err != nil {
		return nil, sensor.Device{}, err
	}
	for _, serial := range config.Serials {
		for _, s := range serial.Sensors {
			if s.Name != name {
				continue
			}
			one := serial
			one.Sensors = []rtusensors.Sensor{s}
			var addresses *store.Store
			if config.AddressFile != "" {
				if addresses, err = store.Open(config.AddressFile); err != nil {
					return nil, sensor.Device{}, err
				}
			}
			pool, err := modbus.OpenPool([]rtusensors.Serial{one})
			if err != nil {
				return nil, sensor.Device{}, err
			}
			targets, err := poller.Targets(rtusensors.Config{Serials: []rtusensors.Serial{one}}, pool, addresses)
			if err != nil {
				_ = pool.Close()
				return nil, sensor.Device{}, err
			}
			return targets[0].Bus, targets[0].Devices[0], nil
		}
	}
	return nil, sensor.Device{}, fmt.Errorf("sensor %q not configured", name)
}
