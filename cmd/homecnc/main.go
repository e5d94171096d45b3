package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"go.uber.org/multierr"

	"github.com/mastercactapus/homecnc/config"
	"github.com/mastercactapus/homecnc/homing"
	"github.com/mastercactapus/homecnc/machine"
)

func main() {
	log.SetFlags(log.Lshortfile)

	confFile := flag.String("config", "", "Machine configuration file (defaults to a simulated 3 axis machine).")
	kind := flag.String("backend", BackendSim, "Motion backend: sim, grbl or spjs.")
	port := flag.String("port", "/dev/ttyUSB0", "Port path (or name if using SPJS).")
	baud := flag.Int("baud", 115200, "Serial baud rate.")
	spjsURL := flag.String("spjs", "ws://cnc-bridge:8989/ws", "Websocket URL of the SPJS server to use.")
	addr := flag.String("addr", ":9091", "Address to bind the server to.")
	dir := flag.String("dir", "./data", "Data directory to use.")
	tick := flag.Duration("tick", 5*time.Millisecond, "Interval between homing polls.")
	flag.Parse()

	conf := config.Default()
	if *confFile != "" {
		var err error
		conf, err = config.Load(*confFile)
		if err != nil {
			log.Fatalf("ERROR: %+v", err)
		}
	}

	b, err := newBackend(conf, backendOptions{
		Kind:    *kind,
		Port:    *port,
		Baud:    *baud,
		SPJSURL: *spjsURL,
	})
	if err != nil {
		log.Fatalf("ERROR: %+v", err)
	}

	m := machine.NewMachine(machineConfig(conf, b))
	log.Printf("Homing order %v, backend %s, inputs %s", m.Order(), *kind, conf.Inputs)

	a := newAPI(m, *dir)
	go a.forward()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	go runTicks(ctx, m, b, *tick)

	srv := &http.Server{
		Addr: *addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "*")
			log.Printf("%s %s - %s", req.Method, req.URL.Path, req.RemoteAddr)
			a.ServeHTTP(w, req)
		}),
	}
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		log.Println("Shutting down.")
		m.Abort()
		shutCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		err := multierr.Combine(srv.Shutdown(shutCtx), b.Close())
		if err != nil {
			log.Printf("ERROR: shutdown: %+v", err)
		}
	}()

	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
	<-stopped
	a.sse.Shutdown()
}

// runTicks steps the backend and polls the homing cycle until ctx is done.
func runTicks(ctx context.Context, m *machine.Machine, b *backend, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			b.poll(now.Sub(last))
			last = now
			res, err := m.Tick()
			if res == homing.Failed {
				log.Printf("ERROR: homing failed: %+v", err)
			}
		}
	}
}
