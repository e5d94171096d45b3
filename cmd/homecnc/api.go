package main

import (
	"encoding/json"
	"io"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"

	"github.com/mastercactapus/homecnc/coord"
	"github.com/mastercactapus/homecnc/gcode"
	"github.com/mastercactapus/homecnc/homing"
	"github.com/mastercactapus/homecnc/machine"
)

// Machine is the part of machine.Machine served over HTTP.
type Machine interface {
	Run(gcode.Block) error
	Home(axes []coord.Axis, commit bool) error
	FeedHold()
	Resume() error
	Abort()
	CurrentState() machine.State
	State() chan machine.State
	Diagnostics() chan homing.Diagnostic
}

var _ Machine = &machine.Machine{}

type api struct {
	http.Handler
	m       Machine
	dataDir string
	sse     *sse.Server
}

func newAPI(m Machine, dir string) *api {
	r := mux.NewRouter()

	a := &api{
		Handler: r,
		m:       m,
		dataDir: dir,
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(ioutil.Discard, "", 0),
		}),
	}

	fs := http.FileServer(http.Dir(dir))
	data := http.StripPrefix("/data", fs)
	r.PathPrefix("/data/").Methods("GET").Handler(data)
	r.PathPrefix("/data/").Methods("PUT").HandlerFunc(a.putFile)
	r.PathPrefix("/data/").Methods("DELETE").HandlerFunc(a.deleteFile)

	sub := r.PathPrefix("/api").Subrouter()
	sub.HandleFunc("/home", a.home(true)).Methods("POST")
	sub.HandleFunc("/home/probe", a.home(false)).Methods("POST")
	sub.HandleFunc("/run", a.run).Methods("POST")
	sub.HandleFunc("/hold", a.hold).Methods("POST")
	sub.HandleFunc("/resume", a.resume).Methods("POST")
	sub.HandleFunc("/abort", a.abort).Methods("POST")
	sub.HandleFunc("/state", a.state).Methods("GET")

	r.PathPrefix("/events/").Handler(a.sse)

	return a
}

// forward publishes machine state and homing diagnostics as events
// until both channels are closed.
func (a *api) forward() {
	send := func(channel string, v interface{}) {
		data, err := json.Marshal(v)
		if err != nil {
			log.Printf("ERROR: marshal json: %+v", err)
			return
		}
		a.sse.SendMessage(channel, sse.SimpleMessage(string(data)))
	}

	states, diags := a.m.State(), a.m.Diagnostics()
	for states != nil || diags != nil {
		select {
		case s, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			send("/events/state", s)
		case d, ok := <-diags:
			if !ok {
				diags = nil
				continue
			}
			send("/events/diagnostics", diagnostic{
				Code:    int(d.Code),
				Axis:    d.Axis.String(),
				Message: d.Message,
			})
		}
	}
}

type diagnostic struct {
	Code    int
	Axis    string
	Message string
}

func safePath(base, name string) (bool, string) {
	if filepath.Separator != '/' && strings.ContainsRune(name, filepath.Separator) {
		log.Println("invalid path '" + name + "'")
		return false, ""
	}
	dir := string(base)
	if dir == "" {
		dir = "."
	}
	fullName := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+name)))
	return true, fullName
}

func (a *api) writeState(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(a.m.CurrentState())
	if err != nil {
		log.Println("ERROR: encode:", err)
	}
}

func (a *api) state(w http.ResponseWriter, req *http.Request) { a.writeState(w, http.StatusOK) }

func (a *api) home(commit bool) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		axes, err := coord.ParseAxes(req.FormValue("axes"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = a.m.Home(axes, commit)
		if err == machine.ErrCycleActive {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		if err != nil {
			log.Printf("ERROR: home: %+v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		a.writeState(w, http.StatusAccepted)
	}
}

// run executes G-code from the request body, or from a stored file named
// by the file parameter.
func (a *api) run(w http.ResponseWriter, req *http.Request) {
	var src io.Reader = req.Body
	if name := req.FormValue("file"); name != "" {
		ok, fullName := safePath(a.dataDir, name)
		if !ok {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		f, err := os.Open(fullName)
		if err != nil {
			log.Printf("ERROR: open '%s': %+v", fullName, err)
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		defer f.Close()
		src = f
	}

	p := gcode.NewParser(src)
	for {
		b, err := p.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = a.m.Run(b)
		if err == machine.ErrCycleActive {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		if err != nil {
			log.Printf("ERROR: run '%s': %+v", b, err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

func (a *api) hold(w http.ResponseWriter, req *http.Request) {
	a.m.FeedHold()
	a.writeState(w, http.StatusOK)
}

func (a *api) resume(w http.ResponseWriter, req *http.Request) {
	err := a.m.Resume()
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	a.writeState(w, http.StatusOK)
}

func (a *api) abort(w http.ResponseWriter, req *http.Request) {
	a.m.Abort()
	a.writeState(w, http.StatusOK)
}

func (a *api) putFile(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.dataDir, strings.TrimPrefix(req.URL.Path, "/data"))
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	os.MkdirAll(filepath.Dir(name), 0755)
	f, err := os.Create(name)
	if err != nil {
		log.Printf("ERROR: create '%s': %+v", name, err)
		http.Error(w, err.Error(), 500)
		return
	}
	defer f.Close()
	_, err = io.Copy(f, req.Body)
	if err != nil {
		log.Printf("ERROR: write '%s': %+v", name, err)
		http.Error(w, err.Error(), 500)
		return
	}
}

func (a *api) deleteFile(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.dataDir, strings.TrimPrefix(req.URL.Path, "/data"))
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	err := os.Remove(name)
	if err != nil {
		log.Printf("ERROR: delete '%s': %+v", name, err)
		http.Error(w, err.Error(), 500)
		return
	}
}
