package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	stdlog "log"
	"math"
	"net/http"
	"strconv"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/mastercactapus/pantilt/config"
	"github.com/mastercactapus/pantilt/coord"
	"github.com/mastercactapus/pantilt/device"
	"github.com/mastercactapus/pantilt/kinematics"
	"github.com/mastercactapus/pantilt/machine"
	"github.com/mastercactapus/pantilt/program"
	log "github.com/sirupsen/logrus"
)

const eventsChannel = "/events/machine"

type Machine interface {
	Draw(machine.DrawRequest) (*machine.DrawResult, error)
	Run(name string, cmds []string) (int64, error)
	Calibrate() bool
	Status() machine.Status
}

type api struct {
	http.Handler
	m     Machine
	store *program.Store
	sse   *sse.Server
	kin   config.KinematicsConfig
	ports func() ([]device.PortInfo, error)
}

func newAPI(m Machine, store *program.Store, kin config.KinematicsConfig, events <-chan machine.Event) *api {
	r := mux.NewRouter()

	a := &api{
		Handler: withCORS(r),
		m:       m,
		store:   store,
		kin:     kin,
		ports:   device.ListPorts,
		sse: sse.NewServer(&sse.Options{
			Logger: stdlog.New(ioutil.Discard, "", 0),
		}),
	}
	r.Use(logRequests)

	r.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		io.WriteString(w, "Hello World!")
	}).Methods("GET")
	for _, name := range []string{"cross", "circle", "square", "test"} {
		r.HandleFunc("/"+name, a.runCanned(name)).Methods("GET")
	}

	r.HandleFunc("/api/draw", a.draw).Methods("POST")
	r.HandleFunc("/api/calibrate", a.calibrate).Methods("POST")
	r.HandleFunc("/api/status", a.status).Methods("GET")
	r.HandleFunc("/api/ports", a.listPorts).Methods("GET")
	r.HandleFunc("/api/programs", a.listPrograms).Methods("GET")
	r.HandleFunc("/api/programs/{name}/run", a.runProgram).Methods("POST")

	r.HandleFunc("/data/{name}", a.getFile).Methods("GET")
	r.HandleFunc("/data/{name}", a.putFile).Methods("PUT")
	r.HandleFunc("/data/{name}", a.deleteFile).Methods("DELETE")

	r.PathPrefix("/events/").Handler(a.sse)
	if events != nil {
		go func() {
			for e := range events {
				data, err := json.Marshal(e)
				if err != nil {
					log.WithError(err).Errorln("marshal event")
					continue
				}
				a.sse.SendMessage(eventsChannel, sse.SimpleMessage(string(data)))
			}
		}()
	}

	return a
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if req.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, req)
	})
}

func logRequests(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		log.WithFields(log.Fields{
			"method": req.Method,
			"path":   req.URL.Path,
			"remote": req.RemoteAddr,
		}).Debugln("request")
		h.ServeHTTP(w, req)
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.WithError(err).Errorln("encode response")
	}
}

type errorResponse struct {
	Error   string        `json:"error"`
	Message string        `json:"message,omitempty"`
	Details []fieldDetail `json:"details,omitempty"`
}

type fieldDetail struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

type validationError struct {
	details []fieldDetail
}

func (e *validationError) Error() string {
	return fmt.Sprintf("validation error: %d problem(s)", len(e.details))
}

func (e *validationError) add(path, msg string) {
	e.details = append(e.details, fieldDetail{Path: path, Message: msg})
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	var verr *validationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Validation error", Details: verr.details})
	case errors.Is(err, kinematics.ErrUnreachable):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "Unreachable point", Message: err.Error()})
	case errors.Is(err, machine.ErrBusy), errors.Is(err, machine.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Device busy", Message: err.Error()})
	case errors.Is(err, program.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not found", Message: err.Error()})
	case errors.Is(err, program.ErrInvalidProgram):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid program", Message: err.Error()})
	case errors.Is(err, program.ErrInvalidName):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid name", Message: err.Error()})
	default:
		log.WithError(err).Errorln("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error", Message: "Something went wrong"})
	}
}

type drawRequest struct {
	Points     [][]float64 `json:"points"`
	Distance   *float64    `json:"distance"`
	Repeat     *float64    `json:"repeat"`
	CanvasSize *float64    `json:"canvasSize"`
}

type drawResponse struct {
	Message string      `json:"message"`
	Points  [][]float64 `json:"points"`
	Gcode   []string    `json:"gcode"`
	Job     int64       `json:"job"`
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func (a *api) parseDraw(r io.Reader) (*drawRequest, *machine.DrawRequest, error) {
	var req drawRequest
	verr := &validationError{}
	err := json.NewDecoder(r).Decode(&req)
	if err != nil {
		verr.add("", err.Error())
		return nil, nil, verr
	}

	if len(req.Points) == 0 {
		verr.add("points", "Array must contain at least 1 element(s)")
	}
	for i, p := range req.Points {
		if len(p) != 2 {
			verr.add("points."+strconv.Itoa(i), "Expected [x, y]")
		}
	}
	switch {
	case req.Distance == nil:
		verr.add("distance", "Required")
	case !(*req.Distance > 0) || !finite(*req.Distance):
		verr.add("distance", "Number must be greater than 0")
	}
	repeat := 1
	if req.Repeat != nil {
		v := *req.Repeat
		switch {
		case !(v > 0):
			verr.add("repeat", "Number must be greater than 0")
		case v > float64(a.kin.MaxRepeat):
			verr.add("repeat", fmt.Sprintf("Number must be less than or equal to %d", a.kin.MaxRepeat))
		case v != math.Trunc(v):
			verr.add("repeat", "Expected integer")
		default:
			repeat = int(v)
		}
	}
	if req.CanvasSize != nil && !(*req.CanvasSize > 0) {
		verr.add("canvasSize", "Number must be greater than 0")
	}
	if len(verr.details) > 0 {
		return nil, nil, verr
	}

	dr := &machine.DrawRequest{
		Points:   make([]coord.Point, len(req.Points)),
		Distance: *req.Distance,
		Repeat:   repeat,
	}
	for i, p := range req.Points {
		pt := coord.Point{X: p[0], Y: p[1]}
		if req.CanvasSize != nil {
			pt = coord.CanvasToWorld(pt.X, pt.Y, *req.CanvasSize, dr.Distance, a.kin.MaxAngle)
		}
		dr.Points[i] = pt
	}
	return &req, dr, nil
}

func (a *api) draw(w http.ResponseWriter, req *http.Request) {
	body, dr, err := a.parseDraw(req.Body)
	if err != nil {
		a.writeError(w, err)
		return
	}

	res, err := a.m.Draw(*dr)
	if err != nil {
		a.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, drawResponse{
		Message: "Points received successfully",
		Points:  body.Points,
		Gcode:   res.Commands,
		Job:     res.Job,
	})
}

func (a *api) runCanned(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		_, err := a.run(name)
		if err != nil {
			a.writeError(w, err)
			return
		}
		io.WriteString(w, "Sending "+name+" commands to device")
	}
}

func (a *api) run(name string) (int64, error) {
	cmds, err := a.store.Load(name)
	if err != nil {
		return 0, err
	}
	return a.m.Run(name, cmds)
}

func (a *api) runProgram(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	id, err := a.run(name)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"job": id, "program": name})
}

func (a *api) listPrograms(w http.ResponseWriter, req *http.Request) {
	names, err := a.store.List()
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"programs": names})
}

func (a *api) calibrate(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"calibrated": a.m.Calibrate()})
}

func (a *api) status(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, a.m.Status())
}

func (a *api) listPorts(w http.ResponseWriter, req *http.Request) {
	ports, err := a.ports()
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]device.PortInfo{"ports": ports})
}

func (a *api) getFile(w http.ResponseWriter, req *http.Request) {
	rc, err := a.store.Open(mux.Vars(req)["name"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, err = io.Copy(w, rc)
	if err != nil {
		log.WithError(err).Errorln("read program")
	}
}

func (a *api) putFile(w http.ResponseWriter, req *http.Request) {
	err := a.store.Save(mux.Vars(req)["name"], req.Body)
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) deleteFile(w http.ResponseWriter, req *http.Request) {
	err := a.store.Delete(mux.Vars(req)["name"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
