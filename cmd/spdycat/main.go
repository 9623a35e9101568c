// Command spdycat is a small diagnostic client for the spdy engine: it
// connects to a server, measures ping round-trip times and can pump stdin
// into a stream.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/getlantern/golog"
	"github.com/spf13/pflag"

	"github.com/muxkit/spdy"
)

var log = golog.LoggerFor("spdycat")

var (
	addr        = pflag.StringP("addr", "a", "localhost:9443", "address to connect to")
	bindAddr    = pflag.String("bind", "", "local address to bind the socket to")
	version     = pflag.Uint16P("version", "v", 2, "protocol version (2 or 3)")
	idleTimeout = pflag.Duration("idle-timeout", 30*time.Second, "close the connection after this much inactivity")
	window      = pflag.Int("window", spdy.DefaultInitialWindowSize, "initial flow-control window size in bytes")
	selectors   = pflag.Int("selectors", 0, "reactor selector loops (0 = heuristic from core count)")
	acceptors   = pflag.Int("acceptors", 0, "acceptor loops (0 = heuristic from core count)")
	workers     = pflag.Int("workers", 0, "executor workers (0 = core count)")
	timeout     = pflag.Duration("timeout", 10*time.Second, "how long to wait for the session")
	pingEvery   = pflag.Duration("ping-interval", time.Second, "interval between pings")
)

type listener struct{}

func (listener) OnControl(s *spdy.Session, f *spdy.ControlFrame) {
	log.Debugf("control frame type=%d flags=%d len=%d", f.Type, f.Flags, len(f.Payload))
}

func (listener) OnData(s *spdy.Session, f *spdy.DataFrame) {
	os.Stdout.Write(f.Data)
}

func (listener) OnPing(s *spdy.Session, id uint32, rtt time.Duration) {
	fmt.Fprintf(os.Stderr, "ping %d rtt=%v ema=%v\n", id, rtt, s.EMARTT())
}

func (listener) OnGoAway(s *spdy.Session) {
	fmt.Fprintln(os.Stderr, "server going away")
}

func main() {
	pflag.Parse()

	factory := spdy.NewFactory(&spdy.FactoryOpts{
		IdleTimeout:       *idleTimeout,
		InitialWindowSize: *window,
		SelectorCount:     *selectors,
		AcceptorCount:     *acceptors,
		WorkerCount:       *workers,
	})
	if err := factory.Start(); err != nil {
		log.Fatalf("Unable to start factory: %v", err)
	}
	defer factory.Stop()

	client := factory.NewClient(*version)
	if *bindAddr != "" {
		laddr, err := net.ResolveTCPAddr("tcp", *bindAddr)
		if err != nil {
			log.Fatalf("Bad bind address: %v", err)
		}
		client.SetBindAddress(laddr)
	}
	client.SetInitialWindowSize(*window)

	promise, err := client.Connect(*addr, listener{})
	if err != nil {
		log.Fatalf("Unable to connect: %v", err)
	}
	session, err := promise.Session(*timeout)
	if err != nil {
		log.Fatalf("Connect failed: %v", err)
	}
	fmt.Fprintf(os.Stderr, "connected to %v (version %d, window %d)\n",
		session.EndPoint().RemoteAddr(), session.Version(), session.WindowSize())

	interrupted := make(chan os.Signal, 1)
	signal.Notify(interrupted, os.Interrupt)

	go func() {
		for {
			if _, err := session.Ping(); err != nil {
				return
			}
			time.Sleep(*pingEvery)
		}
	}()

	streamID, err := session.OpenStream()
	if err != nil {
		log.Fatalf("Unable to open stream: %v", err)
	}
	go func() {
		buf := make([]byte, 8192)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if sendErr := session.SendData(streamID, buf[:n], false, time.Time{}); sendErr != nil {
					log.Errorf("Unable to send: %v", sendErr)
					return
				}
			}
			if err != nil {
				session.SendData(streamID, nil, true, time.Time{})
				return
			}
		}
	}()

	select {
	case <-interrupted:
		session.GoAway()
	case <-session.Done():
	}
}
