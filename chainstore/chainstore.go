package chainstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"sort"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	cbor "github.com/ipfs/go-ipld-cbor"
	logging "github.com/ipfs/go-log/v2"
	"github.com/textileio/filsync/types"
)

const (
	maxCheckpoints  = 10
	tipsetCacheSize = 1024
)

var (
	log = logging.Logger("chainstore")

	dsNsData  = datastore.NewKey("/head/data")
	dsNsID    = datastore.NewKey("/head/id")
	dsGenesis = datastore.NewKey("/genesis")

	// ErrNotFound is returned when a requested object isn't stored.
	ErrNotFound = errors.New("not found")
	// ErrNoHead is returned when the store has no genesis nor head.
	ErrNoHead = errors.New("store has no head")
)

func init() {
	cbor.RegisterCborType(headRecord{})
}

// Datastore is the metadata and block storage backing a Store.
type Datastore interface {
	datastore.Batching
	NewTransaction(readOnly bool) (datastore.Txn, error)
}

// headRecord is the persisted form of an adopted head.
type headRecord struct {
	Cids   []cid.Cid
	Height int64
}

type checkpoint struct {
	id uint64
	ts types.TipSetKey
}

// Store persists headers, messages and the adopted head. Adopted heads
// are journaled as checkpoints, the most recent being the current head.
type Store struct {
	ds    Datastore
	bs    blockstore.Blockstore
	cache *lru.ARCCache

	lock        sync.Mutex
	genesis     *types.TipSet
	heaviest    *types.TipSet
	checkpoints []checkpoint
	lastID      uint64
}

// New returns a new Store, restoring the genesis and the last adopted head
// if they were persisted before.
func New(ds Datastore) (*Store, error) {
	cache, err := lru.NewARC(tipsetCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating tipset cache: %s", err)
	}
	s := &Store{
		ds:    ds,
		bs:    blockstore.NewBlockstore(ds),
		cache: cache,
	}
	if err := s.loadGenesis(); err != nil {
		return nil, fmt.Errorf("loading genesis: %s", err)
	}
	if err := s.loadCheckpoints(); err != nil {
		return nil, fmt.Errorf("loading checkpoints: %s", err)
	}
	if len(s.checkpoints) > 0 {
		last := s.checkpoints[len(s.checkpoints)-1]
		ts, err := s.LoadTipSet(context.Background(), last.ts)
		if err != nil {
			return nil, fmt.Errorf("loading head %s: %s", last.ts, err)
		}
		s.heaviest = ts
	}
	return s, nil
}

// SetGenesis persists the genesis block. If the store has no head yet, the
// genesis tipset becomes the head.
func (s *Store) SetGenesis(ctx context.Context, gen *types.BlockHeader) error {
	ts, err := types.NewTipSet([]*types.BlockHeader{gen})
	if err != nil {
		return fmt.Errorf("creating genesis tipset: %s", err)
	}
	if err := s.PutTxMeta(ctx, &types.TxMeta{}); err != nil {
		return err
	}
	if err := s.PersistHeaders(ctx, ts); err != nil {
		return err
	}
	if err := s.ds.Put(dsGenesis, ts.Key().Bytes()); err != nil {
		return fmt.Errorf("saving genesis key: %s", err)
	}
	s.lock.Lock()
	s.genesis = ts
	hasHead := s.heaviest != nil
	s.lock.Unlock()
	if hasHead {
		return nil
	}
	return s.SetHead(ctx, ts)
}

// Genesis returns the genesis tipset, or nil if unknown.
func (s *Store) Genesis() *types.TipSet {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.genesis
}

// HeaviestTipSet returns the adopted head.
func (s *Store) HeaviestTipSet(ctx context.Context) (*types.TipSet, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.heaviest == nil {
		return nil, ErrNoHead
	}
	return s.heaviest, nil
}

// PersistHeaders stores every header of the tipset.
func (s *Store) PersistHeaders(ctx context.Context, ts *types.TipSet) error {
	blks := ts.Blocks()
	sbs := make([]blocks.Block, 0, len(blks))
	for _, h := range blks {
		sb, err := h.ToStorageBlock()
		if err != nil {
			return fmt.Errorf("creating storage block for header %s: %s", h.Cid(), err)
		}
		sbs = append(sbs, sb)
	}
	if err := s.bs.PutMany(sbs); err != nil {
		return fmt.Errorf("persisting headers: %s", err)
	}
	return nil
}

// PutMessages stores the messages.
func (s *Store) PutMessages(ctx context.Context, msgs []types.ChainMsg) error {
	if len(msgs) == 0 {
		return nil
	}
	sbs := make([]blocks.Block, 0, len(msgs))
	for _, m := range msgs {
		sb, err := m.ToStorageBlock()
		if err != nil {
			return fmt.Errorf("creating storage block for message: %s", err)
		}
		sbs = append(sbs, sb)
	}
	if err := s.bs.PutMany(sbs); err != nil {
		return fmt.Errorf("persisting messages: %s", err)
	}
	return nil
}

// PutTxMeta stores the message list of a block.
func (s *Store) PutTxMeta(ctx context.Context, meta *types.TxMeta) error {
	sb, err := meta.ToStorageBlock()
	if err != nil {
		return fmt.Errorf("creating storage block for tx meta: %s", err)
	}
	if err := s.bs.Put(sb); err != nil {
		return fmt.Errorf("persisting tx meta: %s", err)
	}
	return nil
}

// GetBlock returns a stored header.
func (s *Store) GetBlock(ctx context.Context, c cid.Cid) (*types.BlockHeader, error) {
	sb, err := s.bs.Get(c)
	if err == blockstore.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting block %s: %s", c, err)
	}
	return types.DecodeBlockHeader(sb.RawData())
}

// LoadTipSet returns a stored tipset.
func (s *Store) LoadTipSet(ctx context.Context, key types.TipSetKey) (*types.TipSet, error) {
	if v, ok := s.cache.Get(key); ok {
		return v.(*types.TipSet), nil
	}
	cids := key.Cids()
	if len(cids) == 0 {
		return nil, types.ErrEmptyTipSet
	}
	blks := make([]*types.BlockHeader, len(cids))
	for i, c := range cids {
		h, err := s.GetBlock(ctx, c)
		if err != nil {
			return nil, err
		}
		blks[i] = h
	}
	ts, err := types.NewTipSet(blks)
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, ts)
	return ts, nil
}

// HasTipSet returns true if every header of the tipset is stored.
func (s *Store) HasTipSet(ctx context.Context, key types.TipSetKey) (bool, error) {
	if s.cache.Contains(key) {
		return true, nil
	}
	cids := key.Cids()
	if len(cids) == 0 {
		return false, nil
	}
	for _, c := range cids {
		ok, err := s.bs.Has(c)
		if err != nil {
			return false, fmt.Errorf("checking block %s: %s", c, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// LoadMessages returns the messages included in a stored block.
func (s *Store) LoadMessages(ctx context.Context, h *types.BlockHeader) ([]*types.Message, []*types.SignedMessage, error) {
	sb, err := s.bs.Get(h.Messages())
	if err == blockstore.ErrNotFound {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("getting tx meta %s: %s", h.Messages(), err)
	}
	var meta types.TxMeta
	if err := meta.UnmarshalCBOR(bytes.NewReader(sb.RawData())); err != nil {
		return nil, nil, fmt.Errorf("decoding tx meta: %s", err)
	}
	bls := make([]*types.Message, len(meta.BlsMessages))
	for i, c := range meta.BlsMessages {
		var m types.Message
		if err := s.loadObject(c, &m); err != nil {
			return nil, nil, err
		}
		bls[i] = &m
	}
	secpk := make([]*types.SignedMessage, len(meta.SecpkMessages))
	for i, c := range meta.SecpkMessages {
		var m types.SignedMessage
		if err := s.loadObject(c, &m); err != nil {
			return nil, nil, err
		}
		secpk[i] = &m
	}
	return bls, secpk, nil
}

// LoadFullTipSet returns a stored tipset with the messages of every block.
func (s *Store) LoadFullTipSet(ctx context.Context, key types.TipSetKey) (*types.FullTipSet, error) {
	ts, err := s.LoadTipSet(ctx, key)
	if err != nil {
		return nil, err
	}
	fbs := make([]*types.FullBlock, 0, len(ts.Blocks()))
	for _, h := range ts.Blocks() {
		bls, secpk, err := s.LoadMessages(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("loading messages of %s: %s", h.Cid(), err)
		}
		fbs = append(fbs, &types.FullBlock{Header: h, BlsMessages: bls, SecpkMessages: secpk})
	}
	return types.NewFullTipSet(fbs), nil
}

// SetHead adopts ts as the new head. Journaled heads which aren't
// ancestors of ts are pruned.
func (s *Store) SetHead(ctx context.Context, ts *types.TipSet) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	for i := len(s.checkpoints) - 1; i >= 0; i-- {
		c := s.checkpoints[i]
		ok, err := s.precedes(ctx, c.ts, ts.Key())
		if err != nil {
			return fmt.Errorf("checking head ancestry: %s", err)
		}
		if ok {
			break
		}
		log.Debugf("pruning reorged head %s", c.ts)
		if err := s.delete(c); err != nil {
			return err
		}
		s.checkpoints = s.checkpoints[:i]
	}
	if err := s.save(ts); err != nil {
		return fmt.Errorf("saving head: %s", err)
	}
	s.cache.Add(ts.Key(), ts)
	s.heaviest = ts
	return nil
}

// RecentHeads returns the journaled heads, oldest first.
func (s *Store) RecentHeads() []types.TipSetKey {
	s.lock.Lock()
	defer s.lock.Unlock()
	res := make([]types.TipSetKey, len(s.checkpoints))
	for i, c := range s.checkpoints {
		res[i] = c.ts
	}
	return res
}

// Precedes returns true if from is an ancestor of (or equal to) to.
// Both tipsets must be stored.
func (s *Store) Precedes(ctx context.Context, from, to types.TipSetKey) (bool, error) {
	return s.precedes(ctx, from, to)
}

func (s *Store) precedes(ctx context.Context, from, to types.TipSetKey) (bool, error) {
	if from.IsEmpty() || from.Equals(to) {
		return true, nil
	}
	fts, err := s.LoadTipSet(ctx, from)
	if err != nil {
		return false, fmt.Errorf("loading tipset %s: %s", from, err)
	}
	curr, err := s.LoadTipSet(ctx, to)
	if err != nil {
		return false, fmt.Errorf("loading tipset %s: %s", to, err)
	}
	for curr.Height() > fts.Height() {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		pk := curr.Parents()
		if pk.IsEmpty() {
			return false, nil
		}
		if pk.Equals(from) {
			return true, nil
		}
		curr, err = s.LoadTipSet(ctx, pk)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("loading tipset %s: %s", pk, err)
		}
	}
	return false, nil
}

func (s *Store) loadObject(c cid.Cid, v interface{ UnmarshalCBOR(io.Reader) error }) error {
	sb, err := s.bs.Get(c)
	if err == blockstore.ErrNotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("getting object %s: %s", c, err)
	}
	if err := v.UnmarshalCBOR(bytes.NewReader(sb.RawData())); err != nil {
		return fmt.Errorf("decoding object %s: %s", c, err)
	}
	return nil
}

func (s *Store) save(ts *types.TipSet) error {
	txn, err := s.ds.NewTransaction(false)
	if err != nil {
		return err
	}
	defer txn.Discard()
	buf, err := cbor.DumpObject(headRecord{Cids: ts.Cids(), Height: int64(ts.Height())})
	if err != nil {
		return err
	}
	c := checkpoint{id: s.lastID + 1, ts: ts.Key()}
	if err := txn.Put(toKeyData(c.ts), buf); err != nil {
		return err
	}
	if err := txn.Put(toKeyID(c.id), c.ts.Bytes()); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}

	s.checkpoints = append(s.checkpoints, c)
	if len(s.checkpoints) > maxCheckpoints {
		dc := s.checkpoints[0]
		if err := s.delete(dc); err != nil {
			return err
		}
		copy(s.checkpoints, s.checkpoints[1:])
		s.checkpoints = s.checkpoints[:len(s.checkpoints)-1]
	}
	s.lastID++

	return nil
}

func (s *Store) delete(c checkpoint) error {
	txn, err := s.ds.NewTransaction(false)
	if err != nil {
		return err
	}
	defer txn.Discard()

	if err := txn.Delete(toKeyData(c.ts)); err != nil {
		return err
	}
	if err := txn.Delete(toKeyID(c.id)); err != nil {
		return err
	}
	return txn.Commit()
}

func toKeyData(ts types.TipSetKey) datastore.Key {
	return dsNsData.ChildString(ts.String())
}

func toKeyID(id uint64) datastore.Key {
	return dsNsID.ChildString(strconv.FormatUint(id, 10))
}

func (s *Store) loadGenesis() error {
	buf, err := s.ds.Get(dsGenesis)
	if err == datastore.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	key, err := types.TipSetKeyFromBytes(buf)
	if err != nil {
		return err
	}
	ts, err := s.LoadTipSet(context.Background(), key)
	if err != nil {
		return err
	}
	s.genesis = ts
	return nil
}

func (s *Store) loadCheckpoints() error {
	res, err := s.ds.Query(query.Query{Prefix: dsNsID.String()})
	if err != nil {
		return err
	}
	defer func() { _ = res.Close() }()
	es, err := res.Rest()
	if err != nil {
		return err
	}
	lst := make([]checkpoint, len(es))
	for i, e := range es {
		ts, err := types.TipSetKeyFromBytes(e.Value)
		if err != nil {
			return err
		}
		parts := datastore.RawKey(e.Key).List()
		id, err := strconv.ParseUint(parts[len(parts)-1], 10, bits.UintSize)
		if err != nil {
			return err
		}
		lst[i] = checkpoint{
			id: id,
			ts: ts,
		}
	}
	sort.Slice(lst, func(i, j int) bool {
		return lst[i].id < lst[j].id
	})
	if len(lst) > 0 {
		s.lastID = lst[len(lst)-1].id
	}
	s.checkpoints = lst
	return nil
}
