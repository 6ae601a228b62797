package chainsync

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/unit"
)

var (
	attrAccepted   = attribute.Key("result").String("accepted")
	attrIgnored    = attribute.Key("result").String("ignored")
	attrPending    = attribute.Key("result").String("pending")
	attrRejected   = attribute.Key("result").String("rejected")
	attrIncomplete = attribute.Key("result").String("incomplete")

	attrFetchSuccess = attribute.Key("status").String("success")
	attrFetchFail    = attribute.Key("status").String("fail")
)

func (s *Syncer) initMetrics() {
	meter := global.Meter("filsync")

	s.metricAnnouncements = metric.Must(meter).NewInt64Counter("filsync.chainsync.announcements.total", metric.WithDescription("Announced tipsets by outcome"))
	s.metricValidations = metric.Must(meter).NewInt64Counter("filsync.chainsync.validations.total", metric.WithDescription("Validated blocks by outcome"))
	s.metricFetches = metric.Must(meter).NewInt64Counter("filsync.chainsync.fetches.total", metric.WithDescription("Chain fetches by status"))
	s.metricSyncDuration = metric.Must(meter).NewInt64ValueRecorder("filsync.chainsync.bucket.duration", metric.WithDescription("Bucket sync duration"), metric.WithUnit(unit.Milliseconds))
	_ = metric.Must(meter).NewInt64ValueObserver("filsync.chainsync.head.height", s.observeHead, metric.WithDescription("Height of the adopted head"))
	_ = metric.Must(meter).NewInt64ValueObserver("filsync.chainsync.buckets", s.observeBuckets, metric.WithDescription("Candidate buckets waiting to be synced"))
}

func (s *Syncer) observeHead(ctx context.Context, result metric.Int64ObserverResult) {
	head, err := s.cs.HeaviestTipSet(ctx)
	if err != nil {
		return
	}
	result.Observe(int64(head.Height()))
}

func (s *Syncer) observeBuckets(ctx context.Context, result metric.Int64ObserverResult) {
	result.Observe(int64(s.sm.Len()))
}

func validationAttr(err error) attribute.KeyValue {
	switch {
	case err == nil:
		return attrAccepted
	case isIncomplete(err):
		return attrIncomplete
	default:
		return attrRejected
	}
}
