package rpc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

// Side names which end of the split a NATS transport serves. Each worker
// gets a subject pair under the prefix; the host listens on ".host" and
// answers on ".client", the client the other way around.
type Side string

const (
	SideHost   Side = "host"
	SideClient Side = "client"
)

// natsTransport moves messages over a subject pair of one worker.
type natsTransport struct {
	conn    *nats.Conn
	sendSub string
	sub     *nats.Subscription
	recv    chan Message
	done    chan struct{}
	once    sync.Once
}

// NewNATS creates a transport end over an established NATS connection. The
// connection is shared infrastructure and stays open after Close.
func NewNATS(conn *nats.Conn, prefix, workerID string, side Side) (Transport, error) {
	recvSub := fmt.Sprintf("%s.%s.%s", prefix, workerID, side)
	peer := SideHost
	if side == SideHost {
		peer = SideClient
	}

	t := &natsTransport{
		conn:    conn,
		sendSub: fmt.Sprintf("%s.%s.%s", prefix, workerID, peer),
		recv:    make(chan Message, 64),
		done:    make(chan struct{}),
	}

	raw := make(chan *nats.Msg, 64)
	sub, err := conn.ChanSubscribe(recvSub, raw)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", recvSub, err)
	}
	t.sub = sub

	go func() {
		defer close(t.recv)
		for {
			select {
			case <-t.done:
				return
			case natsMsg, ok := <-raw:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal(natsMsg.Data, &msg); err != nil {
					// Undecodable frames are dropped; the peer's request
					// times out rather than poisoning the stream.
					continue
				}
				select {
				case t.recv <- msg:
				case <-t.done:
					return
				}
			}
		}
	}()
	return t, nil
}

func (t *natsTransport) Send(msg Message) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := t.conn.Publish(t.sendSub, raw); err != nil {
		return fmt.Errorf("publish %s: %w", t.sendSub, err)
	}
	return nil
}

func (t *natsTransport) Receive() <-chan Message { return t.recv }

func (t *natsTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		err = t.sub.Unsubscribe()
	})
	return err
}
