package rpc

import (
	"sync"

	"github.com/gorilla/websocket"
)

// wsTransport frames messages as JSON over a caller-supplied websocket
// connection. No listener or dialer lives here; the embedding application
// owns connection establishment and hands the conn over.
type wsTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	recv    chan Message
	done    chan struct{}
	once    sync.Once
}

// NewWebsocket wraps an established websocket connection as a transport.
// Closing the transport closes the connection.
func NewWebsocket(conn *websocket.Conn) Transport {
	t := &wsTransport{
		conn: conn,
		recv: make(chan Message, 64),
		done: make(chan struct{}),
	}

	go func() {
		defer close(t.recv)
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				// Read errors are terminal for a websocket; undecodable
				// frames surface here too.
				t.Close()
				return
			}
			select {
			case t.recv <- msg:
			case <-t.done:
				return
			}
		}
	}()
	return t
}

func (t *wsTransport) Send(msg Message) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteJSON(msg)
}

func (t *wsTransport) Receive() <-chan Message { return t.recv }

func (t *wsTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}
