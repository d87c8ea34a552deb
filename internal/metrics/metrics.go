package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vbonduro/purrfect/internal/blobstore"
)

const namespace = "purrfect"

// StoreMetrics records blob store traffic and display reference usage.
type StoreMetrics struct {
	duration *prometheus.HistogramVec
	failure  *prometheus.CounterVec
}

// NewStoreMetrics registers the store metrics on the provided registerer.
// outstanding, when non-nil, is sampled on every scrape.
func NewStoreMetrics(reg prometheus.Registerer, outstanding func() int) *StoreMetrics {
	if reg == nil {
		return &StoreMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "blob_op_duration_seconds",
		Help:      "Duration of blob store operations in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blob_op_failures_total",
		Help:      "Failed blob store operations by kind.",
	}, []string{"op", "kind"})
	reg.MustRegister(duration, failure)

	if outstanding != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "display_refs_outstanding",
			Help:      "Display references minted and not yet revoked.",
		}, func() float64 { return float64(outstanding()) }))
	}

	return &StoreMetrics{duration: duration, failure: failure}
}

func (m *StoreMetrics) observe(op string, start time.Time, err error) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		m.failure.WithLabelValues(op, errorKind(err)).Inc()
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, blobstore.ErrStorageUnavailable):
		return "unavailable"
	case errors.Is(err, blobstore.ErrRead):
		return "read"
	case errors.Is(err, blobstore.ErrWrite):
		return "write"
	case errors.Is(err, blobstore.ErrDelete):
		return "delete"
	default:
		return "other"
	}
}

// InstrumentBlobStore wraps next so every call is timed and failures counted.
func InstrumentBlobStore(next blobstore.BlobStore, m *StoreMetrics) blobstore.BlobStore {
	return &instrumented{next: next, m: m}
}

type instrumented struct {
	next blobstore.BlobStore
	m    *StoreMetrics
}

func (i *instrumented) GetAll(ctx context.Context) (recs []*blobstore.Record, err error) {
	defer func(start time.Time) { i.m.observe("get_all", start, err) }(time.Now())
	return i.next.GetAll(ctx)
}

func (i *instrumented) Put(ctx context.Context, rec *blobstore.Record) (err error) {
	defer func(start time.Time) { i.m.observe("put", start, err) }(time.Now())
	return i.next.Put(ctx, rec)
}

func (i *instrumented) Delete(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { i.m.observe("delete", start, err) }(time.Now())
	return i.next.Delete(ctx, id)
}

func (i *instrumented) DeleteMany(ctx context.Context, ids []string) (err error) {
	defer func(start time.Time) { i.m.observe("delete_many", start, err) }(time.Now())
	return i.next.DeleteMany(ctx, ids)
}

func (i *instrumented) Close() error {
	return i.next.Close()
}
