package rpc

import (
	"errors"
	"sync"
)

// ErrTransportClosed is returned by Send after the transport was closed.
var ErrTransportClosed = errors.New("transport closed")

// Transport moves messages between one host and one client. Receive's
// channel closes when the transport does; Send fails afterwards.
type Transport interface {
	Send(msg Message) error
	Receive() <-chan Message
	Close() error
}

// pipe is an in-process transport end: two ends share crossed channels.
type pipe struct {
	out  chan Message
	recv chan Message
	done chan struct{}
	once *sync.Once
}

// NewPipe returns two connected in-process transport ends. Closing either
// end closes both directions.
func NewPipe() (Transport, Transport) {
	aToB := make(chan Message, 64)
	bToA := make(chan Message, 64)
	done := make(chan struct{})
	once := &sync.Once{}
	a := &pipe{out: aToB, recv: make(chan Message), done: done, once: once}
	b := &pipe{out: bToA, recv: make(chan Message), done: done, once: once}
	go pump(bToA, a.recv, done)
	go pump(aToB, b.recv, done)
	return a, b
}

func pump(in <-chan Message, out chan<- Message, done <-chan struct{}) {
	defer close(out)
	for {
		select {
		case <-done:
			return
		case msg := <-in:
			select {
			case out <- msg:
			case <-done:
				return
			}
		}
	}
}

func (p *pipe) Send(msg Message) error {
	select {
	case <-p.done:
		return ErrTransportClosed
	case p.out <- msg:
		return nil
	}
}

func (p *pipe) Receive() <-chan Message { return p.recv }

func (p *pipe) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
