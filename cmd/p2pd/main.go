// Command p2pd runs the rendezvous server: the stateful signaling server,
// the SIMPLE/UDP responder, the PUB/SUB broker, and the admin/metrics HTTP
// endpoint, all sharing one process the way the teacher's cmd/omnicloud
// wires its subsystems together behind one signal-driven shutdown.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/omnicloud/p2psession/internal/adminhttp"
	"github.com/omnicloud/p2psession/internal/signaling"
	"github.com/omnicloud/p2psession/internal/signaling/pubsub"
	"github.com/omnicloud/p2psession/internal/signaling/simple"
)

func main() {
	statefulPort := flag.Int("stateful-port", 8888, "TCP port for the stateful signaling server")
	simplePort := flag.Int("simple-port", 8889, "UDP port for the SIMPLE signaling responder")
	adminAddr := flag.String("admin-addr", ":8890", "address for the admin/metrics HTTP server")
	maxCandidateCache := flag.Int("max-candidate-cache", signaling.DefaultMaxCandidates, "bounded candidate cache per peer")
	flag.Parse()

	log.Printf("Starting p2pd rendezvous server...")

	ctx, cancel := context.WithCancel(context.Background())

	statefulServer := signaling.NewServer(*statefulPort, *maxCandidateCache)
	go func() {
		if err := statefulServer.Start(ctx); err != nil {
			log.Printf("stateful signaling server stopped: %v", err)
		}
	}()
	log.Printf("Stateful signaling server listening on :%d", *statefulPort)

	simpleConn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: *simplePort})
	if err != nil {
		log.Fatalf("simple signaling: listen udp: %v", err)
	}
	simpleServer := simple.NewServer(simpleConn)
	go func() {
		buf := make([]byte, 2048)
		for {
			n, from, err := simpleConn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			simpleServer.Serve(buf[:n], from)
		}
	}()
	log.Printf("SIMPLE signaling responder listening on :%d", *simplePort)

	broker := pubsub.NewBroker()
	admin := adminhttp.NewServer(statefulServer.Table())
	mux := http.NewServeMux()
	mux.Handle("/ws", broker)
	mux.Handle("/", admin)
	httpServer := &http.Server{Addr: *adminAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("admin http server stopped: %v", err)
		}
	}()
	log.Printf("Admin/metrics/pubsub HTTP server listening on %s", *adminAddr)

	log.Println("p2pd is running. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutdown signal received, stopping p2pd...")
	cancel()
	simpleConn.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("error shutting down admin http server: %v", err)
	}

	log.Println("p2pd stopped")
}
