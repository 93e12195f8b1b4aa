// Package spjs reaches a serial port through a Serial Port JSON Server.
package spjs

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithFields(log.Fields{
	"pkg": "spjs",
})

var (
	ErrClientClosed = errors.New("spjs client closed")
	ErrWriteTimeout = errors.New("spjs write timed out")
)

// DefaultWriteTimeout bounds how long a write waits for the server connection.
const DefaultWriteTimeout = 5 * time.Second

type Client struct {
	url string

	// WriteTimeout bounds each outgoing message. Zero means DefaultWriteTimeout.
	WriteTimeout time.Duration

	// Reconnect is the delay between connection attempts.
	Reconnect time.Duration

	mx          sync.RWMutex
	serialPorts []SerialPort
	ports       map[string]*Port

	outgoing chan message
	done     chan struct{}
	once     sync.Once
}

type message struct {
	done    chan struct{}
	payload []byte
}

type DataFrame struct {
	Port string `json:"P"`
	Data string `json:"D"`
}
type CmdStatus struct {
	Cmd        string
	QueueCount int `json:"QCnt"`
	Port       string
	ID         string `json:"Id"`
}

type ErrorMessage struct {
	Error string
}
type SerialPortList struct {
	SerialPorts []SerialPort
}
type SerialPort struct {
	Name         string
	Friendly     string
	SerialNumber string
	IsOpen       bool
	Baud         int
	USBVID       string
	USBPID       string
}

func NewClient(url string) *Client {
	c := &Client{
		url:       url,
		Reconnect: 3 * time.Second,
		ports:     make(map[string]*Port),
		outgoing:  make(chan message, 1000),
		done:      make(chan struct{}),
	}

	go c.loop()

	return c
}

// SerialPorts returns the most recent port list reported by the server.
func (c *Client) SerialPorts() []SerialPort {
	c.mx.RLock()
	defer c.mx.RUnlock()
	return append([]SerialPort(nil), c.serialPorts...)
}

func parseMessage(data []byte, msg map[string]json.RawMessage) (val interface{}, err error) {
	check := func(fieldName string, v interface{}) bool {
		if msg[fieldName] == nil {
			return false
		}
		val = v
		err = json.Unmarshal(data, val)
		return true
	}
	if check("Error", &ErrorMessage{}) {
		return
	}
	if check("SerialPorts", &SerialPortList{}) {
		return
	}
	if check("Cmd", &CmdStatus{}) {
		return
	}
	if check("D", &DataFrame{}) {
		return
	}

	return nil, errors.New("unknown message: " + string(data))
}

func (c *Client) handle(val interface{}) {
	switch msg := val.(type) {
	case *SerialPortList:
		c.mx.Lock()
		c.serialPorts = msg.SerialPorts
		c.mx.Unlock()
	case *DataFrame:
		if p := c.port(msg.Port); p != nil {
			p.data(msg.Data)
		}
	case *ErrorMessage:
		// errors are not tagged with a port
		c.mx.RLock()
		ports := make([]*Port, 0, len(c.ports))
		for _, p := range c.ports {
			ports = append(ports, p)
		}
		c.mx.RUnlock()
		for _, p := range ports {
			p.fail(errors.New(msg.Error))
		}
	case *CmdStatus:
		logger.WithFields(log.Fields{"cmd": msg.Cmd, "id": msg.ID}).Debugln("command status")
	}
}

func (c *Client) port(name string) *Port {
	c.mx.RLock()
	defer c.mx.RUnlock()
	return c.ports[name]
}

func (c *Client) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			logger.WithError(err).Errorln("read")
			return
		}
		if !bytes.HasPrefix(data, []byte("{")) {
			// ignore echo messages
			continue
		}
		var msg map[string]json.RawMessage
		err = json.Unmarshal(data, &msg)
		if err != nil {
			logger.WithError(err).Errorln("read")
			continue
		}
		val, err := parseMessage(data, msg)
		if err != nil {
			logger.WithError(err).Debugln("parse")
			continue
		}
		c.handle(val)
	}
}

func (c *Client) loop() {
	var nextUp message

reconnect:
	for {
		select {
		case <-c.done:
			return
		default:
		}

		logger.WithField("url", c.url).Infoln("connecting")
		ws, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			logger.WithError(err).Errorln("connect")
			select {
			case <-time.After(c.Reconnect):
			case <-c.done:
				return
			}
			continue
		}
		logger.Infoln("connected")
		ch := make(chan struct{})
		go c.readLoop(ws, ch)
		go c.WriteString("list") // refresh list on reconnect

		for {
			if nextUp.done != nil {
				err = ws.WriteMessage(websocket.TextMessage, nextUp.payload)
				if err != nil {
					logger.WithError(err).Errorln("send")
					ws.Close()
					continue reconnect
				}
				close(nextUp.done)
				nextUp.done = nil
			}

			select {
			case <-ch:
				ws.Close()
				continue reconnect
			case <-c.done:
				ws.Close()
				return
			case nextUp = <-c.outgoing:
			}
		}
	}
}

// Close stops the client. Pending writes fail with ErrClientClosed.
func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

type JSON struct {
	Port string `json:"P"`
	Data []Data
}
type Data struct {
	Data string `json:"D"`
	ID   string `json:"Id"`
}

func (c *Client) SendJSON(v JSON) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.send(append([]byte("sendjson "), data...))
}

func (c *Client) WriteString(data string) error {
	return c.send([]byte(data))
}

func (c *Client) send(payload []byte) error {
	timeout := c.WriteTimeout
	if timeout == 0 {
		timeout = DefaultWriteTimeout
	}
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()

	ch := make(chan struct{})
	select {
	case c.outgoing <- message{done: ch, payload: payload}:
	case <-c.done:
		return ErrClientClosed
	case <-t.C:
		return ErrWriteTimeout
	}

	select {
	case <-ch:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-t.C:
		return ErrWriteTimeout
	}
}
