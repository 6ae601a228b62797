package lotus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/filecoin-project/go-state-types/abi"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
)

const maxHeightDiff = 10

var metricHeightInterval = time.Second * 120

// HeadReader returns the local head height.
type HeadReader interface {
	Height(context.Context) (abi.ChainEpoch, error)
}

// HeadReaderFunc adapts a function to a HeadReader.
type HeadReaderFunc func(context.Context) (abi.ChainEpoch, error)

// Height calls f.
func (f HeadReaderFunc) Height(ctx context.Context) (abi.ChainEpoch, error) {
	return f(ctx)
}

// SyncMonitor compares the local head with the head of a Lotus node and
// exports both heights as metrics.
type SyncMonitor struct {
	cb    ClientBuilder
	local HeadReader

	lock       sync.Mutex
	height     int64
	heightDiff int64

	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}
}

// NewSyncMonitor starts monitoring the Lotus node head.
func NewSyncMonitor(cb ClientBuilder, local HeadReader) (*SyncMonitor, error) {
	ctx, cancel := context.WithCancel(context.Background())
	sm := &SyncMonitor{
		cb:       cb,
		local:    local,
		ctx:      ctx,
		cancel:   cancel,
		finished: make(chan struct{}),
	}
	meter := global.Meter("filsync")
	_ = metric.Must(meter).NewInt64ValueObserver("filsync.lotus.height", func(ctx context.Context, result metric.Int64ObserverResult) {
		sm.lock.Lock()
		defer sm.lock.Unlock()
		result.Observe(sm.height)
	}, metric.WithDescription("Height of the Lotus node"))
	_ = metric.Must(meter).NewInt64ValueObserver("filsync.lotus.height_diff", func(ctx context.Context, result metric.Int64ObserverResult) {
		result.Observe(sm.SyncHeightDiff())
	}, metric.WithDescription("Lotus height minus local head height"))

	if err := sm.refresh(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("getting initial sync height diff: %s", err)
	}
	go sm.run()
	return sm, nil
}

// SyncHeightDiff returns how many epochs the local head is behind Lotus.
func (sm *SyncMonitor) SyncHeightDiff() int64 {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	return sm.heightDiff
}

// Close stops the monitor.
func (sm *SyncMonitor) Close() error {
	sm.cancel()
	<-sm.finished
	return nil
}

func (sm *SyncMonitor) run() {
	defer close(sm.finished)
	for {
		select {
		case <-sm.ctx.Done():
			log.Debug("closing lotus sync monitor")
			return
		case <-time.After(metricHeightInterval):
			if err := sm.refresh(sm.ctx); err != nil {
				log.Errorf("refreshing sync height diff: %s", err)
			}
		}
	}
}

func (sm *SyncMonitor) refresh(ctx context.Context) error {
	c, cls, err := sm.cb(ctx)
	if err != nil {
		return fmt.Errorf("creating lotus client: %s", err)
	}
	defer cls()

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()
	head, err := c.ChainHead(ctx)
	if err != nil {
		return fmt.Errorf("getting lotus head: %s", err)
	}
	local, err := sm.local.Height(ctx)
	if err != nil {
		return fmt.Errorf("getting local height: %s", err)
	}

	diff := int64(head.Height - local)
	sm.lock.Lock()
	sm.height = int64(head.Height)
	sm.heightDiff = diff
	sm.lock.Unlock()
	if diff > maxHeightDiff {
		log.Warnf("local chain behind lotus with height diff %d", diff)
	}
	return nil
}
