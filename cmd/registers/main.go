// Registers provides a TUI to view and change the registers of the configured
// sensors. Writing the address register moves the sensor and records the new
// address in the address file.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rwirdemann/rtusensors"
	"github.com/rwirdemann/rtusensors/modbus"
	"github.com/rwirdemann/rtusensors/poller"
	"github.com/rwirdemann/rtusensors/sensor"
	"github.com/rwirdemann/rtusensors/store"
)

const (
	focusRegisterList = iota
	focusRegisterInput
	focusSlaves
	ratioLeftPanelWidth = 0.6
)

var baseStyle = lipgloss.NewStyle().
	BorderStyle(lipgloss.RoundedBorder())

var activeStyle = baseStyle.
	BorderForeground(lipgloss.Color("white"))

var passiveStyle = baseStyle.
	BorderForeground(lipgloss.Color("240"))

var helpStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
	Light: "#909090",
	Dark:  "#626262",
}).Padding(0, 1)

type slave struct {
	device  sensor.Device
	bus     *modbus.Bus
	adapter modbus.Adapter
	updated time.Time
}

func (s slave) registers() []rtusensors.Register {
	return sensor.Registers(s.device)
}

type model struct {
	slaves           []*slave
	addresses        *store.Store
	focus            int
	registerTable    table.Model
	slaveTable       table.Model
	register         []rtusensors.Register
	currentRegister  rtusensors.Register
	registerInput    textinput.Model
	status           string
	fullHeight       int
	fullWidth        int
	leftPanelWidth   int
	rightPanelWidth  int
	slavePanelHeight int
	editPanelHeight  int
}

func newModel(slaves []*slave, addresses *store.Store) model {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(true)

	columns := []table.Column{
		{Title: "Slave", Width: 6},
		{Title: "Address", Width: 8},
		{Title: "Name", Width: 18},
		{Title: "Action", Width: 6},
		{Title: "Datatype", Width: 10},
		{Title: "Value", Width: 12},
	}
	registerTable := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
	)
	registerTable.SetStyles(s)

	slaveColumns := []table.Column{
		{Title: "Bus", Width: 10},
		{Title: "Sensor", Width: 12},
		{Title: "Type", Width: 10},
		{Title: "Addr", Width: 5},
		{Title: "Updated", Width: 9},
	}
	slaveTable := table.New(
		table.WithColumns(slaveColumns),
		table.WithFocused(false),
	)
	slaveTable.SetStyles(s)

	m := model{
		slaves:        slaves,
		addresses:     addresses,
		registerTable: registerTable,
		registerInput: textinput.New(),
		focus:         focusRegisterList,
		slaveTable:    slaveTable,
	}
	m.slaveTable.SetRows(m.slavesToTableRows())
	m.refresh()
	return m
}

func (m *model) selected() *slave {
	return m.slaves[m.slaveTable.Cursor()]
}

// refresh reads the registers of the selected sensor.
func (m *model) refresh() {
	s := m.selected()
	m.register = s.adapter.ReadRegister(s.registers())
	if len(m.register) > 0 {
		s.updated = time.Now()
	}
	m.registerTable.SetRows(registersToTableRows(m.register))
	m.slaveTable.SetRows(m.slavesToTableRows())
}

func (m model) slavesToTableRows() []table.Row {
	var rows []table.Row
	for _, s := range m.slaves {
		updated := "-"
		if !s.updated.IsZero() {
			updated = s.updated.Format(time.TimeOnly)
		}
		rows = append(rows, table.Row{
			s.bus.Name,
			s.device.Name,
			s.device.Profile.Type,
			fmt.Sprintf("%d", s.device.Address),
			updated,
		})
	}
	return rows
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second*1, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Init() tea.Cmd { return tickCmd() }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmds []tea.Cmd
		cmd  tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.fullHeight = msg.Height
		m.fullWidth = msg.Width

		m.leftPanelWidth = int(float32(m.fullWidth) * ratioLeftPanelWidth)
		m.rightPanelWidth = m.fullWidth - m.leftPanelWidth - 4

		m.slavePanelHeight = (m.fullHeight - 5) / 2
		m.editPanelHeight = (m.fullHeight - 5) / 2
		if m.fullHeight%2 != 0 {
			m.editPanelHeight -= 1
		}

		m.registerTable.SetHeight(m.fullHeight - 4)
		m.slaveTable.SetHeight(m.slavePanelHeight - 4)
		return m, nil

	case tea.KeyMsg:
		switch m.focus {
		case focusRegisterList:
			m.registerTable, cmd = m.registerTable.Update(msg)
			cmds = append(cmds, cmd)

			switch msg.String() {
			case "tab":
				m.focus = focusSlaves
				m.registerTable.Blur()
				m.slaveTable.Focus()
			case "q", "ctrl+c":
				return m, tea.Quit
			case "enter":
				if m.registerTable.Cursor() >= len(m.register) {
					break
				}
				m.currentRegister = m.register[m.registerTable.Cursor()]
				if m.currentRegister.Action != "write" {
					m.status = fmt.Sprintf("%s is read only", m.currentRegister.Name)
					break
				}
				m.status = ""
				m.registerInput.SetValue(fmt.Sprintf("%v", m.currentRegister.RawData))
				m.registerInput.SetCursor(len(m.registerInput.Value()))
				m.registerInput.Focus()
				m.registerTable.Blur()
				m.focus = focusRegisterInput
			}

		case focusSlaves:
			oldCursor := m.slaveTable.Cursor()
			m.slaveTable, cmd = m.slaveTable.Update(msg)
			cmds = append(cmds, cmd)

			if oldCursor != m.slaveTable.Cursor() {
				m.registerTable.SetCursor(0)
				m.refresh()
			}

			switch msg.String() {
			case "tab":
				m.focus = focusRegisterList
				m.slaveTable.Blur()
				m.registerTable.Focus()
			case "q", "ctrl+c":
				return m, tea.Quit
			}

		case focusRegisterInput:
			m.registerInput, cmd = m.registerInput.Update(msg)
			cmds = append(cmds, cmd)

			switch msg.String() {
			case "esc":
				m.registerInput.Blur()
				m.registerTable.Focus()
				m.focus = focusRegisterList
			case "enter":
				if err := m.write(m.registerInput.Value()); err != nil {
					slog.Error("error writing register", "register", m.currentRegister.Name, "err", err)
					m.status = err.Error()
				}
				m.registerInput.Blur()
				m.registerTable.Focus()
				m.focus = focusRegisterList
				m.refresh()
			}
		}

	case tickMsg:
		if m.focus != focusRegisterInput {
			m.refresh()
		}
		cmds = append(cmds, tickCmd())
	}

	return m, tea.Batch(cmds...)
}

// write stores the edited value in the current register. The address register
// is changed through sensor.Relocate, which sends the save command where the
// sensor needs one and records the new address.
func (m *model) write(input string) error {
	s := m.selected()
	r := m.currentRegister
	if r.Name == "address" {
		v, err := strconv.ParseUint(strings.TrimSpace(input), 10, 8)
		if err != nil {
			return err
		}
		var book sensor.AddressBook
		if m.addresses != nil {
			book = m.addresses
		}
		moved, err := sensor.Relocate(s.bus, s.device, uint8(v), book)
		if moved.Address != s.device.Address {
			s.device = moved
			m.status = fmt.Sprintf("%s moved to %d", moved.Name, moved.Address)
		}
		return err
	}

	switch r.Datatype {
	case "UINT16":
		v, err := strconv.ParseUint(strings.TrimSpace(input), 10, 16)
		if err != nil {
			return err
		}
		r.RawData = uint16(v)
	case "SINT16":
		v, err := strconv.ParseInt(strings.TrimSpace(input), 10, 16)
		if err != nil {
			return err
		}
		r.RawData = int16(v)
	}
	return s.adapter.WriteRegister(r)
}

func (m model) View() string {
	configPanel := m.renderConfigTable()
	registerForm := m.renderRegisterForm()
	panels := lipgloss.JoinVertical(lipgloss.Top, configPanel, registerForm)
	registerTable := m.renderRegisterTable()
	return lipgloss.JoinHorizontal(lipgloss.Top, registerTable, panels)
}

func (m model) renderRegisterTable() string {
	var style lipgloss.Style
	if m.focus == focusRegisterList {
		style = activeStyle
	} else {
		style = passiveStyle
	}
	style = style.Height(m.fullHeight - 4).Width(m.leftPanelWidth)
	return style.Render(m.registerTable.View()) + "\n  " + m.registerTable.HelpView() + helpStyle.Render(" • <enter> update register value • <tab> switch panel") + "\n"
}

func (m model) renderRegisterForm() string {
	var style lipgloss.Style
	if m.focus == focusRegisterInput {
		style = activeStyle
	} else {
		style = passiveStyle
	}

	s := m.status
	if m.focus == focusRegisterInput {
		s = fmt.Sprintf("\nAddress : 0x%04X\n", m.currentRegister.Address)
		s = fmt.Sprintf("%sRegister: %s (%s)\n\n", s, m.currentRegister.Name, m.currentRegister.Datatype)
		m.registerInput.Prompt = "Value   : "
		s += m.registerInput.View()
	}

	style = style.Border(generateBorder("Edit Register", m.rightPanelWidth))
	return lipgloss.JoinVertical(
		lipgloss.Top,
		style.Padding(0, 1).Height(m.editPanelHeight).Width(m.rightPanelWidth).Render(s),
		helpStyle.Render("enter - save • esc - discard"))
}

func (m model) renderConfigTable() string {
	var style lipgloss.Style
	if m.focus == focusSlaves {
		style = activeStyle
	} else {
		style = passiveStyle
	}
	return style.Height(m.slavePanelHeight).Width(m.rightPanelWidth).Render(m.slaveTable.View())
}

func generateBorder(title string, width int) lipgloss.Border {
	if width < 0 {
		return lipgloss.RoundedBorder()
	}
	border := lipgloss.RoundedBorder()
	border.Top = border.Top + border.MiddleRight + " " + title + " " + border.MiddleLeft + strings.Repeat(border.Top, width)
	return border
}

func registersToTableRows(registers []rtusensors.Register) []table.Row {
	var rows []table.Row
	for _, r := range registers {
		rows = append(rows, buildTableRow(r))
	}
	return rows
}

func buildTableRow(r rtusensors.Register) table.Row {
	value := fmt.Sprintf("%v", r.RawData)
	if f, ok := r.RawData.(float32); ok {
		value = strconv.FormatFloat(float64(f), 'f', 2, 32)
	}
	return table.Row{
		fmt.Sprintf("%d", r.SlaveAddress),
		fmt.Sprintf("0x%04X", r.Address),
		r.Name,
		r.Action,
		r.Datatype,
		value,
	}
}

func main() {
	configPath := flag.String("config", "config", "config base directory")
	help := flag.Bool("help", false, "print usage")
	flag.Parse()

	if *help {
		flag.Usage()
		os.Exit(0)
	}

	config, err := rtusensors.LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	// The TUI owns the terminal, so log lines go to a file.
	f, err := os.OpenFile("registers.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	slog.SetDefault(slog.New(slog.NewTextHandler(f, nil)))

	pool, err := modbus.OpenPool(config.Serials)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	var addresses *store.Store
	if config.AddressFile != "" {
		if addresses, err = store.Open(config.AddressFile); err != nil {
			log.Fatal(err)
		}
	}
	targets, err := poller.Targets(config, pool, addresses)
	if err != nil {
		log.Fatal(err)
	}

	var slaves []*slave
	for _, t := range targets {
		for _, d := range t.Devices {
			slaves = append(slaves, &slave{device: d, bus: t.Bus, adapter: modbus.NewAdapter(t.Bus)})
		}
	}
	if len(slaves) == 0 {
		log.Fatal("no sensors configured")
	}

	if _, err := tea.NewProgram(newModel(slaves, addresses), tea.WithAltScreen()).Run(); err != nil {
		fmt.Println("Error running program:", err)
		os.Exit(1)
	}
}
