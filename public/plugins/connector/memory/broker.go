package memory

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/fujin-io/stompbridge/public/plugins/connector"
	"github.com/fujin-io/stompbridge/public/stomp/destination"
)

var (
	brokers   = make(map[string]*Broker)
	brokersMu sync.Mutex
)

// GetBroker returns the named in-process broker, creating it on first use.
func GetBroker(name string) *Broker {
	brokersMu.Lock()
	defer brokersMu.Unlock()

	b, ok := brokers[name]
	if !ok {
		b = NewBroker()
		brokers[name] = b
	}
	return b
}

// Broker is a topic based in-process message broker. Readers sharing a
// group and a topic pattern compete for messages in round-robin order;
// every other reader gets its own copy.
type Broker struct {
	mu     sync.RWMutex
	groups map[groupKey]*group
	seq    atomic.Uint64
}

type groupKey struct {
	name    string
	pattern string
}

type group struct {
	readers []*Reader
	next    int
}

func NewBroker() *Broker {
	return &Broker{groups: make(map[groupKey]*group)}
}

// Publish routes a message to every matching subscription and returns the
// number of readers it was handed to.
func (b *Broker) Publish(topic string, body []byte, headers [][]byte) int {
	msg := connector.Message{
		Topic:   topic,
		Body:    append([]byte(nil), body...),
		Headers: cloneHeaders(headers),
		MsgID:   strconv.AppendUint(nil, b.seq.Add(1), 10),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for key, g := range b.groups {
		if !destination.Match(key.pattern, topic) {
			continue
		}
		if key.name == "" {
			for _, r := range g.readers {
				r.enqueue(msg)
				n++
			}
			continue
		}
		if g.pick().enqueue(msg) {
			n++
		}
	}
	return n
}

// requeue hands an unsettled message back to the reader's group. Messages
// of exclusive readers only go back to the same reader.
func (b *Broker) requeue(key groupKey, from *Reader, msg connector.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.groups[key]
	if !ok {
		return
	}
	if key.name != "" {
		g.pick().enqueue(msg)
		return
	}
	for _, r := range g.readers {
		if r == from {
			r.enqueue(msg)
			return
		}
	}
}

func (b *Broker) add(key groupKey, r *Reader) {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.groups[key]
	if !ok {
		g = &group{}
		b.groups[key] = g
	}
	g.readers = append(g.readers, r)
}

func (b *Broker) remove(key groupKey, r *Reader) {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.groups[key]
	if !ok {
		return
	}
	for i, gr := range g.readers {
		if gr == r {
			g.readers = append(g.readers[:i], g.readers[i+1:]...)
			break
		}
	}
	if len(g.readers) == 0 {
		delete(b.groups, key)
	}
}

// Subscribers returns the number of readers bound to topics matching pattern.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for key, g := range b.groups {
		if destination.Match(key.pattern, topic) {
			n += len(g.readers)
		}
	}
	return n
}

func (g *group) pick() *Reader {
	r := g.readers[g.next%len(g.readers)]
	g.next++
	return r
}

func cloneHeaders(hs [][]byte) [][]byte {
	if len(hs) == 0 {
		return nil
	}
	out := make([][]byte, len(hs))
	for i, h := range hs {
		out[i] = append([]byte(nil), h...)
	}
	return out
}
