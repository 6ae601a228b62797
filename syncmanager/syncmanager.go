package syncmanager

import (
	"sort"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/textileio/filsync/types"
)

var (
	log = logging.Logger("syncmanager")
)

// BucketHandle identifies a sync bucket.
type BucketHandle uint64

// SyncBucket groups related candidate tipsets: tipsets sharing parents or
// linked as parent and child.
type SyncBucket struct {
	tips []*types.TipSet
}

// Tipsets returns the bucket members.
func (sb *SyncBucket) Tipsets() []*types.TipSet {
	out := make([]*types.TipSet, len(sb.tips))
	copy(out, sb.tips)
	return out
}

// Heaviest returns the member with the greatest weight.
func (sb *SyncBucket) Heaviest() *types.TipSet {
	var best *types.TipSet
	for _, ts := range sb.tips {
		if best == nil || types.Heavier(ts, best) {
			best = ts
		}
	}
	return best
}

// Contains returns true if the tipset is a member of the bucket.
func (sb *SyncBucket) Contains(key types.TipSetKey) bool {
	for _, ts := range sb.tips {
		if ts.Key().Equals(key) {
			return true
		}
	}
	return false
}

func (sb *SyncBucket) relatedTo(ts *types.TipSet) bool {
	for _, m := range sb.tips {
		if m.Parents().Equals(ts.Parents()) || ts.IsChildOf(m) || m.IsChildOf(ts) {
			return true
		}
	}
	return false
}

func (sb *SyncBucket) copy() *SyncBucket {
	return &SyncBucket{tips: sb.Tipsets()}
}

// Manager tracks the head claimed by each peer and the buckets of candidate
// tipsets waiting to be synced. It's safe for concurrent use.
type Manager struct {
	lock      sync.Mutex
	peerHeads map[peer.ID]*types.TipSet
	buckets   map[BucketHandle]*SyncBucket
	nextID    BucketHandle
}

// New returns a new Manager.
func New() *Manager {
	return &Manager{
		peerHeads: make(map[peer.ID]*types.TipSet),
		buckets:   make(map[BucketHandle]*SyncBucket),
	}
}

// SetPeerHead records ts as the latest head claimed by p.
func (m *Manager) SetPeerHead(p peer.ID, ts *types.TipSet) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.peerHeads[p] = ts
}

// PeerHead returns the latest head claimed by p.
func (m *Manager) PeerHead(p peer.ID) (*types.TipSet, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	ts, ok := m.peerHeads[p]
	return ts, ok
}

// PeerHeads returns a snapshot of the peer head table.
func (m *Manager) PeerHeads() map[peer.ID]*types.TipSet {
	m.lock.Lock()
	defer m.lock.Unlock()
	res := make(map[peer.ID]*types.TipSet, len(m.peerHeads))
	for p, ts := range m.peerHeads {
		res[p] = ts
	}
	return res
}

// RemovePeer forgets the head claimed by p.
func (m *Manager) RemovePeer(p peer.ID) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.peerHeads, p)
}

// AddTipSet places ts in the bucket of its related tipsets, or in a new
// bucket if none is related. When ts relates to more than one bucket,
// those buckets are merged.
func (m *Manager) AddTipSet(ts *types.TipSet) BucketHandle {
	m.lock.Lock()
	defer m.lock.Unlock()

	var related []BucketHandle
	for h, b := range m.buckets {
		if b.Contains(ts.Key()) {
			return h
		}
		if b.relatedTo(ts) {
			related = append(related, h)
		}
	}
	if len(related) == 0 {
		m.nextID++
		m.buckets[m.nextID] = &SyncBucket{tips: []*types.TipSet{ts}}
		log.Debugf("new sync bucket %d for %s", m.nextID, ts)
		return m.nextID
	}

	sort.Slice(related, func(i, j int) bool { return related[i] < related[j] })
	target := m.buckets[related[0]]
	for _, h := range related[1:] {
		log.Debugf("merging sync bucket %d into %d", h, related[0])
		target.tips = append(target.tips, m.buckets[h].tips...)
		delete(m.buckets, h)
	}
	target.tips = append(target.tips, ts)
	return related[0]
}

// Bucket returns a snapshot of a bucket.
func (m *Manager) Bucket(h BucketHandle) (*SyncBucket, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	b, ok := m.buckets[h]
	if !ok {
		return nil, false
	}
	return b.copy(), true
}

// HeaviestBucket returns the bucket holding the heaviest candidate.
func (m *Manager) HeaviestBucket() (BucketHandle, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	var (
		best   *types.TipSet
		handle BucketHandle
	)
	for h, b := range m.buckets {
		hts := b.Heaviest()
		if hts == nil {
			continue
		}
		if best == nil || types.Heavier(hts, best) {
			best, handle = hts, h
		}
	}
	return handle, best != nil
}

// RemoveBucket discards a bucket.
func (m *Manager) RemoveBucket(h BucketHandle) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.buckets, h)
}

// Len returns the number of buckets.
func (m *Manager) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.buckets)
}

// PeersFor returns the peers whose claimed head is a member of the bucket,
// sorted by id.
func (m *Manager) PeersFor(h BucketHandle) []peer.ID {
	m.lock.Lock()
	defer m.lock.Unlock()
	b, ok := m.buckets[h]
	if !ok {
		return nil
	}
	var res []peer.ID
	for p, ts := range m.peerHeads {
		if b.Contains(ts.Key()) {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}
