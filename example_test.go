package spdy

import (
	"net"
	"time"
)

func ExampleClient_Connect() {
	factory := NewFactory(&FactoryOpts{
		Pool: NewBufferPool(1024 * 1024),
	})
	if err := factory.Start(); err != nil {
		return
	}
	defer factory.Stop()

	client := factory.NewClient(Version3)
	promise, err := client.Connect("myserver:9352", nil)
	if err != nil {
		return
	}

	// Wait for the session to become available
	session, err := promise.Session(10 * time.Second)
	if err != nil {
		return
	}

	streamID, _ := session.OpenStream()
	session.SendData(streamID, []byte("hello"), true, time.Time{})
}

func ExampleFactory_WrapListener() {
	factory := NewFactory(nil)
	if err := factory.Start(); err != nil {
		return
	}
	defer factory.Stop()

	wrapped, err := net.Listen("tcp", ":9352")
	if err != nil {
		return
	}

	l, err := factory.WrapListener(wrapped, &ServerOpts{
		Version:  Version3,
		Listener: echoListener{},
	})
	if err != nil {
		return
	}
	for {
		session, err := l.AcceptSession()
		if err != nil {
			// handle error
			return
		}
		go watchSession(session)
	}
}

func watchSession(s *Session) {
	// empty, just used for example
}

type echoListener struct{}

func (echoListener) OnControl(s *Session, f *ControlFrame) {}

func (echoListener) OnData(s *Session, f *DataFrame) {
	s.SendData(f.StreamID, f.Data, f.Flags&FlagFin != 0, time.Time{})
}

func (echoListener) OnPing(s *Session, id uint32, rtt time.Duration) {}

func (echoListener) OnGoAway(s *Session) {}
