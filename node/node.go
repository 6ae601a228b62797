package node

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/filecoin-project/go-state-types/abi"
	badger "github.com/ipfs/go-ds-badger2"
	logging "github.com/ipfs/go-log/v2"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/textileio/filsync/chainstore"
	"github.com/textileio/filsync/chainsync"
	"github.com/textileio/filsync/exchange"
	"github.com/textileio/filsync/fchost"
	"github.com/textileio/filsync/health"
	"github.com/textileio/filsync/hello"
	"github.com/textileio/filsync/lotus"
	"github.com/textileio/filsync/syncmanager"
	"github.com/textileio/filsync/types"
	"github.com/textileio/filsync/util"
)

const (
	datastoreFolderName = "datastore"
)

var (
	log = logging.Logger("node")
)

// Node is a running sync node: a libp2p host serving the exchange and
// hello protocols, backed by a persistent chain store.
type Node struct {
	host    *fchost.FilecoinHost
	ds      *badger.Datastore
	cs      *chainstore.Store
	exch    *exchange.Server
	syncer  *chainsync.Syncer
	hello   *hello.Service
	health  *health.Module
	monitor *lotus.SyncMonitor
}

// Config specifies node settings.
type Config struct {
	RepoPath string
	// GenesisPath is a file with the encoded genesis header. It's required
	// the first time a repo is used, and must match the stored genesis
	// afterwards.
	GenesisPath string
	Host        fchost.Config
	Sync        chainsync.Config
	// LotusAddress enables state queries to a Lotus node. Without it, state
	// dependent checks are reported as incomplete.
	LotusAddress   ma.Multiaddr
	LotusAuthToken string `json:"-"`
}

// New starts and returns a new node with the given configuration.
func New(ctx context.Context, conf Config) (*Node, error) {
	path := filepath.Join(conf.RepoPath, datastoreFolderName)
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return nil, fmt.Errorf("creating repo folder: %s", err)
	}
	ds, err := badger.NewDatastore(path, &badger.DefaultOptions)
	if err != nil {
		return nil, fmt.Errorf("opening datastore on repo: %s", err)
	}
	n := &Node{ds: ds}

	if n.cs, err = chainstore.New(ds); err != nil {
		n.close()
		return nil, fmt.Errorf("creating chain store: %s", err)
	}
	if err := loadGenesis(ctx, n.cs, conf.GenesisPath); err != nil {
		n.close()
		return nil, err
	}

	if n.host, err = fchost.New(ctx, conf.Host); err != nil {
		n.close()
		return nil, fmt.Errorf("creating filecoin host: %s", err)
	}
	client := exchange.NewClient(n.host)
	n.exch = exchange.NewServer(n.host, n.cs)

	var opts []chainsync.Option
	var cb lotus.ClientBuilder
	if conf.LotusAddress != nil {
		cb = lotus.NewBuilder(conf.LotusAddress, conf.LotusAuthToken)
		opts = append(opts, chainsync.WithStateManager(lotus.NewStateClient(cb)))
	}
	n.syncer = chainsync.New(conf.Sync, n.cs, client, syncmanager.New(), opts...)
	n.syncer.Start()
	n.hello = hello.New(n.host, n.cs, client, n.syncer)
	blockDelay := conf.Sync.BlockDelay
	if blockDelay == 0 {
		blockDelay = util.DefaultBlockDelay
	}
	n.health = health.New(n.host.Network(), n.syncer, n.cs, blockDelay, conf.Sync.Clock)

	if err := n.host.Bootstrap(ctx); err != nil {
		n.close()
		return nil, fmt.Errorf("bootstrapping filecoin host: %s", err)
	}

	if cb != nil {
		local := lotus.HeadReaderFunc(func(ctx context.Context) (abi.ChainEpoch, error) {
			head, err := n.cs.HeaviestTipSet(ctx)
			if err != nil {
				return 0, err
			}
			return head.Height(), nil
		})
		if n.monitor, err = lotus.NewSyncMonitor(cb, local); err != nil {
			n.close()
			return nil, fmt.Errorf("creating lotus sync monitor: %s", err)
		}
	}

	log.Infof("node %s listening on %s", n.host.ID(), n.host.Addrs())
	return n, nil
}

func loadGenesis(ctx context.Context, cs *chainstore.Store, path string) error {
	if path == "" {
		if cs.Genesis() == nil {
			return fmt.Errorf("a genesis file is required for an empty repo")
		}
		return nil
	}
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading genesis file: %s", err)
	}
	gen, err := types.DecodeBlockHeader(b)
	if err != nil {
		return fmt.Errorf("parsing genesis file: %s", err)
	}
	if stored := cs.Genesis(); stored != nil {
		if !stored.Contains(gen.Cid()) {
			return fmt.Errorf("genesis %s doesn't match stored genesis %s", gen.Cid(), stored.Key())
		}
		return nil
	}
	if err := cs.SetGenesis(ctx, gen); err != nil {
		return fmt.Errorf("setting genesis: %s", err)
	}
	log.Infof("initialized repo with genesis %s", gen.Cid())
	return nil
}

// Host returns the node libp2p host.
func (n *Node) Host() *fchost.FilecoinHost {
	return n.host
}

// ChainStore returns the node chain store.
func (n *Node) ChainStore() *chainstore.Store {
	return n.cs
}

// Syncer returns the node syncer.
func (n *Node) Syncer() *chainsync.Syncer {
	return n.syncer
}

// Health returns the node health module.
func (n *Node) Health() *health.Module {
	return n.health
}

// Close shuts down the node.
func (n *Node) Close() {
	n.close()
}

func (n *Node) close() {
	if n.monitor != nil {
		if err := n.monitor.Close(); err != nil {
			log.Errorf("closing lotus sync monitor: %s", err)
		}
	}
	if n.hello != nil {
		if err := n.hello.Close(); err != nil {
			log.Errorf("closing hello service: %s", err)
		}
	}
	if n.syncer != nil {
		if err := n.syncer.Close(); err != nil {
			log.Errorf("closing syncer: %s", err)
		}
	}
	if n.exch != nil {
		if err := n.exch.Close(); err != nil {
			log.Errorf("closing exchange server: %s", err)
		}
	}
	if n.host != nil {
		if err := n.host.Close(); err != nil {
			log.Errorf("closing host: %s", err)
		}
	}
	if err := n.ds.Close(); err != nil {
		log.Errorf("closing datastore: %s", err)
	}
}
