// Cockpit polls the configured sensors and shows their latest values next to
// the poller's log.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rwirdemann/rtusensors"
	"github.com/rwirdemann/rtusensors/modbus"
	"github.com/rwirdemann/rtusensors/poller"
	"github.com/rwirdemann/rtusensors/store"
)

var (
	itemStyle = lipgloss.NewStyle().
			PaddingLeft(1).
			PaddingRight(1)

	selectedItemStyle = lipgloss.NewStyle().
				PaddingLeft(1).
				PaddingRight(1).
				Foreground(lipgloss.Color("#FAFAFA")).
				Background(lipgloss.Color("#F25D94"))

	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F25D94"))

	sensorStyle = lipgloss.NewStyle().Height(20).Width(64).Border(lipgloss.NormalBorder())
	logStyle    = lipgloss.NewStyle().Height(20).Width(80).Border(lipgloss.NormalBorder())
)

// Reading is an entry in the sensor list.
type Reading struct {
	poller.Status
}

func (r Reading) Title() string {
	return fmt.Sprintf("%-12s %-10s %-8s %3d", r.Device.Name, r.Device.Profile.Type, r.Bus, r.Device.Address)
}

func (r Reading) Description() string {
	if r.Err != nil {
		return errorStyle.Render("unreachable: " + r.Err.Error())
	}
	var parts []string
	for _, f := range r.Device.Profile.Fields {
		if v, ok := r.Values[f.Name]; ok {
			parts = append(parts, fmt.Sprintf("%s %.2f%s", f.Name, v, f.Unit))
		}
	}
	return strings.Join(parts, "  ") + " @ " + r.Read.Format(time.TimeOnly)
}

func (r Reading) FilterValue() string {
	return r.Device.Name
}

type model struct {
	list     list.Model
	state    *poller.State
	quitting bool
	logger   *logger
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
		m.list.SetWidth(msg.Width)
		return m, nil

	case tea.KeyMsg:
		switch keypress := msg.String(); keypress {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}
	case tickMsg:
		var items []list.Item
		for _, st := range m.state.Snapshot() {
			items = append(items, Reading{st})
		}
		cmds = append(cmds, m.list.SetItems(items), tickCmd())
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	var b strings.Builder
	for i, item := range m.list.Items() {
		r := item.(Reading)

		var style lipgloss.Style
		if i == m.list.Index() {
			style = selectedItemStyle
		} else {
			style = itemStyle
		}

		b.WriteString(style.Render(r.Title()))
		b.WriteString("\n")
		b.WriteString(itemStyle.Render(r.Description()))
		b.WriteString("\n")
	}
	if len(m.list.Items()) == 0 {
		b.WriteString("waiting for the first poll cycle...\n")
	}

	b.WriteString("\n")
	b.WriteString("Press 'q' to quit")

	logs := logStyle.Render(m.logger.String())
	return lipgloss.JoinHorizontal(lipgloss.Top, sensorStyle.Render(b.String()), logs)
}

// logger keeps the latest log lines, newest first. It receives the text
// output of slog from the poll goroutines.
type logger struct {
	mu    sync.Mutex
	items []string
}

func (l *logger) Write(p []byte) (int, error) {
	l.Append(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func (l *logger) Append(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) >= 20 {
		l.items = l.items[:19]
	}
	l.items = append([]string{s}, l.items...)
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

	logger := &logger{}
	slog.SetDefault(slog.New(slog.NewTextHandler(logger, &slog.HandlerOptions{
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format(time.TimeOnly))
			}
			return a
		},
	})))

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
	p := poller.New(targets, nil, time.Duration(config.PollInterval)*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.SetShowTitle(false)

	m := model{
		list:   l,
		state:  p.State(),
		logger: logger,
	}

	prog := tea.NewProgram(m, tea.WithAltScreen())
	_, err = prog.Run()
	cancel()
	<-done
	if err != nil {
		log.Fatal(err)
	}
}
