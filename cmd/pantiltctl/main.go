// Command pantiltctl runs a program or calibration against the device and
// shows its progress.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mastercactapus/pantilt/config"
	"github.com/mastercactapus/pantilt/device"
	fakedevice "github.com/mastercactapus/pantilt/fake/device"
	"github.com/mastercactapus/pantilt/machine"
	"github.com/mastercactapus/pantilt/program"
	"github.com/mastercactapus/pantilt/spjs"
	log "github.com/sirupsen/logrus"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] run <file> | calibrate\n\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	cfgFile := flag.String("config", "", "Path to a TOML config file.")
	port := flag.String("port", "", "Port path (or name if using SPJS).")
	spjsURL := flag.String("spjs", "", "Websocket URL of the SPJS server to use.")
	simulate := flag.Bool("simulate", false, "Use a simulated device instead of a serial port.")
	logFile := flag.String("log", "", "Write logs to this file instead of discarding them.")
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.WithError(err).Fatalln("load config")
	}
	if *port != "" {
		cfg.Device.Port = *port
	}
	if *spjsURL != "" {
		cfg.Device.SPJSURL = *spjsURL
	}

	// the terminal belongs to the UI
	if *logFile != "" {
		f, err := tea.LogToFile(*logFile, "pantiltctl")
		if err != nil {
			log.WithError(err).Fatalln("open log")
		}
		defer f.Close()
		log.SetOutput(f)
	} else {
		log.SetOutput(nopWriter{})
	}

	opener, closeOpener := newOpener(cfg.Device, *simulate)
	defer closeOpener()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var p *tea.Program
	m := machine.NewMachine(cfg.MachineConfig(opener, machine.ReporterFunc(func(e machine.Event) { p.Send(e) })))
	defer m.Close()

	var start func()
	switch {
	case args[0] == "run" && len(args) == 2:
		f, err := os.Open(args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cmds, err := program.Parse(f)
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", args[1], err)
			os.Exit(1)
		}
		name := strings.TrimSuffix(filepath.Base(args[1]), filepath.Ext(args[1]))
		p = tea.NewProgram(newModel(fmt.Sprintf("Sending %s (%d commands) to %s", name, len(cmds), cfg.Device.Port)))
		start = func() {
			_, err := m.Run(name, cmds)
			if err != nil {
				p.Send(machine.Event{Kind: machine.EventFailed, Source: name, Error: err.Error()})
			}
		}
	case args[0] == "calibrate" && len(args) == 1:
		p = tea.NewProgram(newModel("Calibrating " + cfg.Device.Port))
		start = func() { p.Send(calibratedMsg(m.Calibrate())) }
	default:
		usage()
		os.Exit(2)
	}

	go start()
	final, err := p.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if !final.(model).ok {
		os.Exit(1)
	}
}

// newOpener picks the transport for the device. The returned function
// releases it.
func newOpener(cfg config.DeviceConfig, simulate bool) (device.Opener, func()) {
	switch {
	case simulate:
		return &fakedevice.Simulator{}, func() {}
	case cfg.SPJSURL != "":
		sp := spjs.NewClient(cfg.SPJSURL)
		return spjs.Opener{Client: sp, Port: cfg.Port, BaudRate: cfg.BaudRate}, func() { sp.Close() }
	}
	return device.SerialOpener{
		Port:        cfg.Port,
		BaudRate:    cfg.BaudRate,
		ReadTimeout: cfg.ReadTimeout.Std(),
	}, func() {}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
