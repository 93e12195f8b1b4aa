package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mastercactapus/pantilt/config"
	"github.com/mastercactapus/pantilt/device"
	fakedevice "github.com/mastercactapus/pantilt/fake/device"
	"github.com/mastercactapus/pantilt/machine"
	"github.com/mastercactapus/pantilt/program"
	"github.com/mastercactapus/pantilt/spjs"
	log "github.com/sirupsen/logrus"
)

func setupLogging(cfg config.LogConfig) {
	lvl, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.WithError(err).Warnln("invalid log level, using info")
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func main() {
	cfgFile := flag.String("config", "", "Path to a TOML config file.")
	port := flag.String("port", "", "Port path (or name if using SPJS).")
	spjsURL := flag.String("spjs", "", "Websocket URL of the SPJS server to use.")
	addr := flag.String("addr", "", "Address to bind the pantilt server to.")
	dir := flag.String("dir", "", "Data directory to use.")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error).")
	simulate := flag.Bool("simulate", false, "Use a simulated device instead of a serial port.")
	flag.Parse()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.WithError(err).Fatalln("load config")
	}
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.Device.Port, *port)
	override(&cfg.Device.SPJSURL, *spjsURL)
	override(&cfg.Server.Addr, *addr)
	override(&cfg.Server.DataDir, *dir)
	override(&cfg.Log.Level, *logLevel)
	err = cfg.Validate()
	if err != nil {
		log.WithError(err).Fatalln("invalid config")
	}
	setupLogging(cfg.Log)

	var opener device.Opener
	var ports func() ([]device.PortInfo, error)
	switch {
	case *simulate:
		log.Warnln("using simulated device")
		opener = &fakedevice.Simulator{}
	case cfg.Device.SPJSURL != "":
		sp := spjs.NewClient(cfg.Device.SPJSURL)
		defer sp.Close()
		opener = spjs.Opener{Client: sp, Port: cfg.Device.Port, BaudRate: cfg.Device.BaudRate}
		ports = func() ([]device.PortInfo, error) {
			var res []device.PortInfo
			for _, p := range sp.SerialPorts() {
				res = append(res, device.PortInfo{
					Name:         p.Name,
					USB:          p.USBVID != "",
					VID:          p.USBVID,
					PID:          p.USBPID,
					SerialNumber: p.SerialNumber,
					Product:      p.Friendly,
				})
			}
			return res, nil
		}
	default:
		opener = device.SerialOpener{
			Port:        cfg.Device.Port,
			BaudRate:    cfg.Device.BaudRate,
			ReadTimeout: cfg.Device.ReadTimeout.Std(),
		}
	}

	b := machine.NewBroadcaster()
	m := machine.NewMachine(cfg.MachineConfig(opener, b))

	events, unsubscribe := b.Subscribe(100)
	a := newAPI(m, program.NewStore(cfg.Server.DataDir), cfg.Kinematics, events)
	if ports != nil {
		a.ports = ports
	}

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: a}
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Infoln("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	log.WithField("addr", cfg.Server.Addr).Infoln("listening")
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatalln("serve")
	}

	m.Close()
	unsubscribe()
	a.sse.Shutdown()
}
