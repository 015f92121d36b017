// Rtusim simulates the sensors of a configuration behind RTU-over-TCP
// listeners. Sensors can be switched on and off from the list.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rwirdemann/rtusensors"
	"github.com/rwirdemann/rtusensors/modbus"
	"github.com/rwirdemann/rtusensors/sensor"
)

var (
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#909090",
		Dark:  "#626262",
	}).Padding(0, 1)

	panelStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder())
)

// sample values shown by freshly started sensors
var samples = map[string]sensor.Values{
	"soil":       {"soil_temperature": 21.5, "soil_moisture": 34.2},
	"wind":       {"wind_speed": 3.4, "wind_direction": 270},
	"solar":      {"radiation": 640},
	"airth":      {"humidity": 58.3, "temperature": 24.1},
	"ultrasonic": {"distance": 182},
	"rain":       {"rain_tips": 12},
	"soilph":     {"ph": 7.01, "soil_temperature": 25.16},
	"soilec":     {"ec": 1.35, "salinity": 675},
	"level":      {"water_level": 4.36},
}

// Slave is an entry in the slave list. It refers to the simulator it belongs
// to in order to switch the slave on and off.
type Slave struct {
	URL    string
	mem    *modbus.MemoryMap
	Name   string
	Type   string
	Server *modbus.Simulator
}

// address looks the slave up by its memory, since writes to the address
// register move it.
func (c Slave) address() (uint8, bool) {
	for _, a := range c.Server.Slaves() {
		if mem, ok := c.Server.Memory(a); ok && mem == c.mem {
			return a, true
		}
	}
	return 0, false
}

func (c Slave) Title() string {
	a, _ := c.address()
	connected := " online"
	if !c.Server.Online(a) {
		connected = "offline"
	}
	return fmt.Sprintf("%-24s %3d %-10s", c.URL, a, connected)
}

func (c Slave) Description() string {
	return c.Name + " (" + c.Type + ")"
}

func (c Slave) FilterValue() string {
	return c.URL + " " + c.Name
}

type model struct {
	width, height int
	list          list.Model
	logger        *logger
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second*1, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.logger.resize(msg.Height - 3)
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(int(float32(m.width)*0.35), m.height-3)
		return m, nil

	case tea.KeyMsg:
		switch keypress := msg.String(); keypress {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "enter":
			if len(m.list.Items()) > 0 {
				selected := m.list.SelectedItem().(Slave)
				a, ok := selected.address()
				if !ok {
					return m, nil
				}
				ts := time.Now().Format(time.DateTime)
				if selected.Server.Online(a) {
					selected.Server.Disconnect(a)
					m.logger.Append(fmt.Sprintf("%s %s:%d: disconnected", ts, selected.URL, a))
				} else {
					selected.Server.Connect(a)
					m.logger.Append(fmt.Sprintf("%s %s:%d: connected", ts, selected.URL, a))
				}
				return m, m.list.SetItem(m.list.Index(), selected)
			}
			return m, nil

		case "c":
			if len(m.list.Items()) > 0 {
				selected := m.list.SelectedItem().(Slave)
				selected.Server.CorruptNext(1)
				m.logger.Append(fmt.Sprintf("%s %s: corrupting next response", time.Now().Format(time.DateTime), selected.URL))
			}
			return m, nil
		}
	case tickMsg:
		cmds = append(cmds, tickCmd())
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	listWidth := int(float32(m.width) * 0.35)
	left := panelStyle.Width(listWidth).Height(m.height - 3).Render(m.list.View())
	right := panelStyle.Width(m.width - listWidth - 4).Height(m.height - 3).Render(m.logger.String())
	help := helpStyle.Render("enter - connect/disconnect • c - corrupt next response • q - quit")
	return lipgloss.JoinVertical(lipgloss.Top, lipgloss.JoinHorizontal(lipgloss.Top, left, right), help)
}

// logger collects simulator activity for the log panel. The simulators append
// from their connection goroutines.
type logger struct {
	mu       sync.Mutex
	items    []string
	maxItems int
}

func (l *logger) Append(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, s)
	if l.maxItems > 0 && len(l.items) > l.maxItems {
		l.items = l.items[len(l.items)-l.maxItems:]
	}
}

func (l *logger) resize(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxItems = n
	if n > 0 && len(l.items) > n {
		l.items = l.items[len(l.items)-n:]
	}
}

func (l *logger) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.items, "\n")
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config", "path to the configuration directory")
	flag.Parse()
	if configPath == "" {
		flag.PrintDefaults()
		os.Exit(0)
	}

	config, err := rtusensors.LoadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger := &logger{maxItems: 100}
	var connections []list.Item
	for _, serial := range config.Serials {
		ms := modbus.NewSimulator(logger)
		if err := ms.Start(serial.Url); err != nil {
			log.Fatal(err)
		}
		defer ms.Stop()

		for _, s := range serial.Sensors {
			dev, err := sensor.NewDevice(s.Name, s.Type, s.Address)
			if err != nil {
				log.Fatal(err)
			}
			mem := sensor.Memory(dev.Profile, dev.Address, samples[s.Type])
			ms.AddSlave(dev.Address, mem)
			connections = append(connections, Slave{
				URL:    serial.Url,
				mem:    mem,
				Name:   s.Name,
				Type:   s.Type,
				Server: ms,
			})
		}
	}

	l := list.New(connections, list.NewDefaultDelegate(), 0, 0)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.SetShowTitle(false)

	m := model{
		list:   l,
		logger: logger,
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatal(err)
	}
}
