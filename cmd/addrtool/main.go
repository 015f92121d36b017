// Addrtool is a small desktop tool to assign new slave addresses to the
// configured sensors and to scan a bus for sensors of a given type.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
	"github.com/rwirdemann/rtusensors"
	"github.com/rwirdemann/rtusensors/modbus"
	"github.com/rwirdemann/rtusensors/poller"
	"github.com/rwirdemann/rtusensors/sensor"
	"github.com/rwirdemann/rtusensors/store"
)

type SensorEntry struct {
	bus    *modbus.Bus
	device sensor.Device
}

var configPath string

func main() {
	flag.StringVar(&configPath, "config", "", "path to the configuration directory")
	flag.Parse()
	if configPath == "" {
		flag.PrintDefaults()
		os.Exit(0)
	}

	os.Exit(run())
}

func run() int {
	config, err := rtusensors.LoadConfig(configPath)
	if err != nil {
		slog.Error(err.Error())
		return 1
	}
	if config.AddressFile == "" {
		slog.Error("no address file configured")
		return 1
	}
	addresses, err := store.Open(config.AddressFile)
	if err != nil {
		slog.Error(err.Error())
		return 1
	}

	pool, err := modbus.OpenPool(config.Serials)
	if err != nil {
		slog.Error(err.Error())
		return 1
	}
	defer pool.Close()

	targets, err := poller.Targets(config, pool, addresses)
	if err != nil {
		slog.Error(err.Error())
		return 1
	}
	var data []*SensorEntry
	for _, t := range targets {
		for _, d := range t.Devices {
			data = append(data, &SensorEntry{bus: t.Bus, device: d})
		}
	}

	logArea := widget.NewTextGrid()

	myApp := app.New()
	myWindow := myApp.NewWindow("Sensor addresses")

	logScrollContainer := container.NewScroll(logArea)
	logScrollContainer.SetMinSize(fyne.NewSize(400, 500))

	appendAndScroll := func(text string) {
		fyne.Do(func() {
			logArea.Append(time.Now().Format(time.DateTime) + " " + text)
			logScrollContainer.ScrollToBottom()
		})
	}

	selected := -1
	list := widget.NewList(
		func() int {
			return len(data)
		},
		func() fyne.CanvasObject {
			name := widget.NewLabel("template")
			typ := widget.NewLabel("template")
			address := widget.NewLabel("template")
			return container.NewHBox(name, typ, address)
		},
		func(i widget.ListItemID, o fyne.CanvasObject) {
			cont := o.(*fyne.Container)
			entry := data[i]
			cont.Objects[0].(*widget.Label).SetText(entry.device.Name)
			cont.Objects[1].(*widget.Label).SetText(entry.device.Profile.Type)
			cont.Objects[2].(*widget.Label).SetText(strconv.Itoa(int(entry.device.Address)))
		})
	list.OnSelected = func(id widget.ListItemID) { selected = id }

	addressEntry := widget.NewEntry()
	addressEntry.SetPlaceHolder("new address (1-247)")

	setButton := widget.NewButton("Set address", func() {
		if selected < 0 {
			appendAndScroll("select a sensor first")
			return
		}
		to, err := strconv.ParseUint(addressEntry.Text, 10, 8)
		if err != nil {
			appendAndScroll(fmt.Sprintf("invalid address %q", addressEntry.Text))
			return
		}
		entry := data[selected]
		go func() {
			moved, err := sensor.Relocate(entry.bus, entry.device, uint8(to), addresses)
			if err != nil {
				appendAndScroll(fmt.Sprintf("%s: %v", entry.device.Name, err))
			}
			if moved.Address == entry.device.Address {
				return
			}
			appendAndScroll(fmt.Sprintf("%s: %d -> %d", moved.Name, entry.device.Address, moved.Address))
			fyne.Do(func() {
				entry.device = moved
				list.Refresh()
			})
		}()
	})
	setButton.Importance = widget.DangerImportance

	queryButton := widget.NewButton("Query address", func() {
		if selected < 0 {
			appendAndScroll("select a sensor first")
			return
		}
		entry := data[selected]
		go func() {
			a, err := sensor.QueryAddress(entry.bus, entry.device.Profile, entry.bus.Config())
			if err != nil {
				appendAndScroll(fmt.Sprintf("%s: %v", entry.device.Name, err))
				return
			}
			appendAndScroll(fmt.Sprintf("%s answers on %d", entry.device.Name, a))
		}()
	})

	scanButton := widget.NewButton("Scan bus", func() {
		if selected < 0 {
			appendAndScroll("select a sensor first")
			return
		}
		entry := data[selected]
		go func() {
			appendAndScroll(fmt.Sprintf("scanning %s for %s sensors", entry.bus.Name, entry.device.Profile.Type))
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			found, err := sensor.Scan(ctx, entry.bus, entry.device.Profile, 1, 247, entry.bus.Config())
			if err != nil {
				appendAndScroll(fmt.Sprintf("scan aborted: %v", err))
			}
			appendAndScroll(fmt.Sprintf("found %v", found))
		}()
	})

	resetButton := widget.NewButton("Reset to default", func() {
		if selected < 0 {
			appendAndScroll("select a sensor first")
			return
		}
		entry := data[selected]
		go func() {
			var back sensor.Device
			err := entry.bus.Session(func(s *modbus.Session) error {
				var err error
				back, err = sensor.Reset(s, entry.device, entry.bus.Config())
				return err
			})
			if err != nil {
				appendAndScroll(fmt.Sprintf("%s: %v", entry.device.Name, err))
				return
			}
			addresses.Set(back.Name, back.Address)
			if err := addresses.Save(); err != nil {
				appendAndScroll(fmt.Sprintf("%s: %v", back.Name, err))
			}
			appendAndScroll(fmt.Sprintf("%s: reset to %d", back.Name, back.Address))
			fyne.Do(func() {
				entry.device = back
				list.Refresh()
			})
		}()
	})

	baudSelect := widget.NewSelect([]string{"2400", "4800", "9600", "19200", "38400", "57600", "115200"}, func(v string) {
		if selected < 0 {
			appendAndScroll("select a sensor first")
			return
		}
		baud, _ := strconv.Atoi(v)
		entry := data[selected]
		go func() {
			if err := sensor.SetBaud(entry.bus, entry.device, baud, entry.bus.Config()); err != nil {
				appendAndScroll(fmt.Sprintf("%s: %v", entry.device.Name, err))
				return
			}
			appendAndScroll(fmt.Sprintf("%s: baud rate %d, reconnect the bus at the new speed", entry.device.Name, baud))
		}()
	})
	baudSelect.PlaceHolder = "baud rate"

	controls := container.NewVBox(addressEntry, setButton, queryButton, scanButton, resetButton, baudSelect)
	rightSide := container.NewVBox(controls, logScrollContainer)

	split := container.NewHSplit(list, rightSide)
	split.SetOffset(0.33)

	myWindow.Resize(fyne.NewSize(900, 600))
	myWindow.SetContent(split)
	myWindow.ShowAndRun()
	return 0
}
