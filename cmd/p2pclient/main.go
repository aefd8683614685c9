// Command p2pclient is a reference peer: it loads Config, creates a
// Session, drives its tick loop, and echoes whatever it receives back to
// the peer — useful for exercising the punch/transport stack end to end.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/omnicloud/p2psession/internal/config"
	"github.com/omnicloud/p2psession/internal/session"
)

func main() {
	configPath := flag.String("config", "", "path to a key=value config file")
	remoteID := flag.String("remote-id", "", "remote peer id to connect to (empty = passive/wait)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sess *session.Session
	sess, err = session.Create(cfg, session.Callbacks{
		OnConnected: func() {
			log.Println("connected")
		},
		OnDisconnected: func() {
			log.Println("disconnected")
		},
		OnData: func(b []byte) {
			log.Printf("received %d bytes, echoing back", len(b))
			if _, err := sess.Send(b); err != nil {
				log.Printf("echo failed: %v", err)
			}
		},
	})
	if err != nil {
		log.Fatalf("session.Create: %v", err)
	}

	if err := sess.Connect(ctx, *remoteID); err != nil {
		log.Fatalf("session.Connect: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(cfg.UpdateIntervalMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			log.Println("shutdown signal received, closing session...")
			sess.Close()
			for i := 0; i < 200 && sess.State() != session.Closed; i++ {
				sess.Tick()
				time.Sleep(10 * time.Millisecond)
			}
			return
		case <-ticker.C:
			if err := sess.Tick(); err != nil {
				log.Printf("session error: %v", err)
				if sess.State() == session.ErrorState {
					return
				}
			}
		}
	}
}
