package device

import (
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// SerialOpener opens a local serial port for every session.
type SerialOpener struct {
	Port     string
	BaudRate int

	// ReadTimeout bounds each read so Close can interrupt the reader.
	ReadTimeout time.Duration
}

func (o SerialOpener) Open() (Channel, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        o.Port,
		Baud:        o.BaudRate,
		ReadTimeout: o.ReadTimeout,
	})
	if err != nil {
		return nil, &ChannelError{Op: "open", Err: err}
	}
	logger.WithFields(log.Fields{
		"port": o.Port,
		"baud": o.BaudRate,
	}).Infoln("serial connection established")

	return NewConn(&pollingPort{Port: p, closed: make(chan struct{})}), nil
}

// pollingPort retries timed-out reads until it is closed, since a timed out
// read is reported as an empty read (or EOF) by the driver.
type pollingPort struct {
	*serial.Port
	closed chan struct{}
}

func (p *pollingPort) Read(b []byte) (int, error) {
	for {
		n, err := p.Port.Read(b)
		if n > 0 {
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, err
		}
		select {
		case <-p.closed:
			return 0, io.EOF
		default:
		}
	}
}

func (p *pollingPort) Close() error {
	close(p.closed)
	return p.Port.Close()
}
