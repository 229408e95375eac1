package dashboard

import (
	"log"

	"github.com/timetracker-dev/tt/internal/events"
)

// Bridge forwards engine events to dashboard clients. Event types map
// straight onto message types, so whatever the engine emits is what the
// browser sees.
type Bridge struct {
	server *Server
	logger *log.Logger
	cancel func()
	done   chan struct{}
}

// NewBridge subscribes to an event emitter and relays everything it
// publishes to the server's clients until Stop is called.
func NewBridge(server *Server, emitter *events.Emitter, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.Default()
	}

	ch, cancel := emitter.Subscribe(64)
	b := &Bridge{
		server: server,
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go b.run(ch)
	return b
}

func (b *Bridge) run(ch <-chan events.Event) {
	defer close(b.done)

	for ev := range ch {
		b.server.Broadcast(Message{
			Type:      MessageType(ev.Type),
			Timestamp: ev.Timestamp,
			Data:      ev.Data,
		})
	}
}

// Stop detaches from the emitter and waits for the relay to drain.
func (b *Bridge) Stop() {
	b.cancel()
	<-b.done
}
