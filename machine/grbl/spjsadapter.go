package grbl

import (
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/mastercactapus/homecnc/spjs"
)

var lastID int64

func nextID() string {
	id := atomic.AddInt64(&lastID, 1)
	return "cmd_" + strconv.FormatInt(id, 36)
}

// ErrWipedQueue is returned for lines dropped by the server.
var ErrWipedQueue = errors.New("wiped queue")

// SPJSTransport reaches grbl through a Serial Port JSON Server, which
// does the buffer accounting itself.
type SPJSTransport struct {
	sp   *spjs.SPJS
	port string
	baud int

	mx      sync.Mutex
	waiting map[string]chan error

	lines   chan string
	closeCh chan struct{}
	done    chan struct{}
}

var _ Transport = &SPJSTransport{}

// NewSPJSTransport uses port on sp, opening it at baud when the server
// lists it closed.
func NewSPJSTransport(sp *spjs.SPJS, port string, baud int) *SPJSTransport {
	if baud <= 0 {
		baud = 115200
	}
	t := &SPJSTransport{
		sp:      sp,
		port:    port,
		baud:    baud,
		waiting: make(map[string]chan error, 100),
		lines:   make(chan string, 64),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *SPJSTransport) Lines() <-chan string { return t.lines }

func (t *SPJSTransport) finish(id string, err error) {
	t.mx.Lock()
	defer t.mx.Unlock()
	if id == "" {
		for key, ch := range t.waiting {
			ch <- err
			delete(t.waiting, key)
		}
		return
	}
	if ch := t.waiting[id]; ch != nil {
		ch <- err
		delete(t.waiting, id)
	}
}

func (t *SPJSTransport) handle(resp interface{}) {
	switch msg := resp.(type) {
	case *spjs.DataFrame:
		if msg.Port != "" && msg.Port != t.port {
			return
		}
		for _, line := range strings.Split(msg.Data, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			select {
			case t.lines <- line:
			case <-t.closeCh:
				return
			}
		}
	case *spjs.CmdStatus:
		switch msg.Cmd {
		case "WipedQueue":
			t.finish("", ErrWipedQueue)
		case "Complete":
			t.finish(msg.ID, nil)
		case "Error":
			t.finish(msg.ID, errors.Errorf("spjs: %s", strings.Join(msg.Data, " ")))
		}
	case *spjs.ErrorMessage:
		log.Println("ERROR: spjs:", msg.Error)
	case *spjs.SerialPortList:
		for _, port := range msg.SerialPorts {
			if port.Name != t.port || port.IsOpen {
				continue
			}
			go func() {
				err := t.sp.WriteString("open " + t.port + " " + strconv.Itoa(t.baud) + " grbl")
				if err != nil {
					log.Println("ERROR: open port:", err)
				}
			}()
		}
	}
}

func (t *SPJSTransport) loop() {
	defer close(t.done)
	defer close(t.lines)
	for {
		select {
		case <-t.closeCh:
			return
		case resp, ok := <-t.sp.Messages():
			if !ok {
				return
			}
			t.handle(resp)
		}
	}
}

// WriteLine sends one line and waits for the server to report it complete.
func (t *SPJSTransport) WriteLine(line string) error {
	id := nextID()
	wait := make(chan error, 1)
	t.mx.Lock()
	t.waiting[id] = wait
	t.mx.Unlock()

	err := t.sp.SendJSON(spjs.JSON{
		Port: t.port,
		Data: []spjs.Data{{Data: strings.TrimSpace(line) + "\n", ID: id}},
	})
	if err != nil {
		t.mx.Lock()
		delete(t.waiting, id)
		t.mx.Unlock()
		return errors.Wrap(err, "send line")
	}

	select {
	case err = <-wait:
		return err
	case <-t.closeCh:
		return errors.New("transport closed")
	}
}

// WriteByte sends a realtime command without waiting for it.
func (t *SPJSTransport) WriteByte(b byte) error {
	// extended commands arrive UTF-8 encoded; grbl drops the unknown lead byte
	err := t.sp.SendJSON(spjs.JSON{
		Port: t.port,
		Data: []spjs.Data{{Data: string(rune(b)), ID: nextID()}},
	})
	return errors.Wrap(err, "send realtime command")
}

// Close stops reading; the SPJS client is left to its owner.
func (t *SPJSTransport) Close() error {
	select {
	case <-t.closeCh:
	default:
		close(t.closeCh)
	}
	<-t.done
	return nil
}
