package signaler

import (
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/textileio/filsync/types"
)

var (
	log = logging.Logger("signaler")
)

// Signaler is a hub that notifies listeners about newly adopted heads.
type Signaler struct {
	lock      sync.Mutex
	listeners []chan *types.TipSet
	closed    bool
}

// New returns a new Signaler.
func New() *Signaler {
	return &Signaler{}
}

// Listen returns a new channel that receives every adopted head. A listener
// that isn't keeping up only misses intermediate heads.
func (s *Signaler) Listen() <-chan *types.TipSet {
	c := make(chan *types.TipSet, 1)
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		close(c)
		return c
	}
	s.listeners = append(s.listeners, c)
	return c
}

// Unregister unregisters and closes a listener channel.
func (s *Signaler) Unregister(c <-chan *types.TipSet) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for i := range s.listeners {
		if s.listeners[i] == c {
			close(s.listeners[i])
			s.listeners[i] = s.listeners[len(s.listeners)-1]
			s.listeners = s.listeners[:len(s.listeners)-1]
			return
		}
	}
}

// Signal notifies all listeners about a new head.
func (s *Signaler) Signal(ts *types.TipSet) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, c := range s.listeners {
		select {
		case c <- ts:
		default:
			// Replace the stale head the listener hasn't read yet.
			select {
			case <-c:
			default:
			}
			select {
			case c <- ts:
			default:
				log.Warn("dropping signal on blocked listener")
			}
		}
	}
}

// Close closes the Signaler. Any channel that wasn't explicitly unregistered,
// is closed.
func (s *Signaler) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, c := range s.listeners {
		close(c)
	}
	s.listeners = nil
}
