package reconciler

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/libra/pkg/events"
	"github.com/cuemby/libra/pkg/log"
	"github.com/cuemby/libra/pkg/metrics"
	"github.com/cuemby/libra/pkg/pod"
	"github.com/cuemby/libra/pkg/types"
)

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
	jitterFrac = 0.2
)

// Desired is one entry in a Source's desired set: the pod spec plus a
// content hash used to detect a changed spec without a structural diff.
type Desired struct {
	Spec *types.PodSpec
	Hash string
}

// Source supplies the reconcile loop's desired set. DirSource (this
// package) reads a manifest directory; pkg/nodeagent implements the same
// interface over a gRPC assignment stream.
type Source interface {
	Load(ctx context.Context) (map[string]Desired, error)
	// Events fires (best-effort, may drop bursts) whenever the source's
	// underlying data changed. A Source with no push notifications may
	// return nil; the reconciler falls back to its jittered ticker alone.
	Events() <-chan struct{}
}

// Config wires the reconcile loop's collaborators.
type Config struct {
	Source       Source
	Pods         *pod.Manager
	Events       *events.Broker
	BaseInterval time.Duration // default 10s if zero
}

// Reconciler is MWR.
type Reconciler struct {
	cfg Config
	log zerolog.Logger

	stopCh chan struct{}

	mu      sync.Mutex
	running bool
	pending bool

	backoffMu sync.Mutex
	backoff   map[string]*backoffState
}

type backoffState struct {
	nextAttempt time.Time
	delay       time.Duration
}

// New returns a Reconciler. Callers should call Start after restoring any
// persisted pod state into cfg.Pods so a running pod is never treated as
// an orphan on the first tick.
func New(cfg Config) *Reconciler {
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = 10 * time.Second
	}
	return &Reconciler{
		cfg:     cfg,
		log:     log.WithComponent("reconciler"),
		stopCh:  make(chan struct{}),
		backoff: make(map[string]*backoffState),
	}
}

// Start loads persisted pod state so existing pods aren't orphaned, then
// begins the reconcile loop.
func (r *Reconciler) Start(ctx context.Context) {
	if err := r.cfg.Pods.Restore(); err != nil {
		r.log.Warn().Err(err).Msg("failed to restore persisted pod state")
	}
	go r.run(ctx)
}

// Stop halts the reconcile loop.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run(ctx context.Context) {
	rng := newSeededRand()
	timer := time.NewTimer(jitteredInterval(r.cfg.BaseInterval, rng))
	defer timer.Stop()

	events := r.cfg.Source.Events()

	r.log.Info().Msg("reconciler started")
	for {
		select {
		case <-events:
			r.trigger(ctx)
		case <-timer.C:
			r.trigger(ctx)
			timer.Reset(jitteredInterval(r.cfg.BaseInterval, rng))
		case <-r.stopCh:
			r.log.Info().Msg("reconciler stopped")
			return
		}
	}
}

// trigger runs one reconcile cycle, single-flighted: a tick already in
// progress absorbs a concurrent request instead of running it in parallel,
// and runs once more immediately after finishing if a request coalesced in
// while it was busy.
func (r *Reconciler) trigger(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.pending = true
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	go func() {
		for {
			r.reconcile(ctx)

			r.mu.Lock()
			if r.pending {
				r.pending = false
				r.mu.Unlock()
				continue
			}
			r.running = false
			r.mu.Unlock()
			return
		}
	}()
}

func (r *Reconciler) reconcile(ctx context.Context) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	desired, err := r.cfg.Source.Load(ctx)
	if err != nil {
		metrics.ReconciliationErrorsTotal.WithLabelValues("source").Inc()
		r.log.Error().Err(err).Msg("failed to load desired set")
		return
	}

	observedIDs := r.cfg.Pods.List()
	observed := make(map[string]*types.PodRecord, len(observedIDs))
	for _, id := range observedIDs {
		record, err := r.cfg.Pods.State(ctx, id)
		if err != nil {
			continue
		}
		observed[id] = record
	}

	for id := range observed {
		if _, ok := desired[id]; ok {
			continue
		}
		if err := r.cfg.Pods.Delete(ctx, id, true); err != nil {
			metrics.ReconciliationErrorsTotal.WithLabelValues("delete").Inc()
			r.log.Error().Err(err).Str("pod_id", id).Msg("failed to delete pod no longer desired")
			continue
		}
		r.recordSuccess(id)
	}

	for id, want := range desired {
		record, exists := observed[id]
		switch {
		case !exists:
			r.converge(ctx, id, want)
		case record.SpecHash != want.Hash:
			r.log.Info().Str("pod_id", id).Msg("spec hash changed, recreating pod")
			_ = r.cfg.Pods.Delete(ctx, id, true)
			r.converge(ctx, id, want)
		case record.Phase == types.PhaseFailed:
			if r.shouldRetry(id) {
				_ = r.cfg.Pods.Delete(ctx, id, true)
				r.converge(ctx, id, want)
			}
		}
	}
}

// converge creates and starts a pod, recording an exponential backoff entry
// on failure so a persistently crashing pod doesn't busy-loop every tick.
func (r *Reconciler) converge(ctx context.Context, id string, want Desired) {
	if !r.shouldRetry(id) {
		return
	}
	if _, err := r.cfg.Pods.Create(ctx, want.Spec, want.Hash); err != nil {
		metrics.ReconciliationErrorsTotal.WithLabelValues("create").Inc()
		r.log.Error().Err(err).Str("pod_id", id).Msg("failed to create pod")
		r.recordFailure(id)
		return
	}
	if _, err := r.cfg.Pods.Start(ctx, id); err != nil {
		metrics.ReconciliationErrorsTotal.WithLabelValues("start").Inc()
		r.log.Error().Err(err).Str("pod_id", id).Msg("failed to start pod")
		r.recordFailure(id)
		return
	}
	r.recordSuccess(id)
	r.publish(id)
}

func (r *Reconciler) shouldRetry(id string) bool {
	r.backoffMu.Lock()
	defer r.backoffMu.Unlock()
	st, ok := r.backoff[id]
	if !ok {
		return true
	}
	return !time.Now().Before(st.nextAttempt)
}

func (r *Reconciler) recordFailure(id string) {
	r.backoffMu.Lock()
	defer r.backoffMu.Unlock()
	delay := minBackoff
	if st, ok := r.backoff[id]; ok {
		delay = st.delay * 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}
	r.backoff[id] = &backoffState{nextAttempt: time.Now().Add(delay), delay: delay}
}

func (r *Reconciler) recordSuccess(id string) {
	r.backoffMu.Lock()
	defer r.backoffMu.Unlock()
	delete(r.backoff, id)
}

func (r *Reconciler) publish(podID string) {
	if r.cfg.Events == nil {
		return
	}
	r.cfg.Events.Publish(&events.Event{
		Type:     events.EventReconcileApplied,
		Metadata: map[string]string{"pod_id": podID},
	})
}

// jitteredInterval returns base +/- jitterFrac, using rng rather than the
// math/rand package-level functions since multiple reconcilers (e.g. in
// tests) may run in the same process and should not share a global source.
func jitteredInterval(base time.Duration, rng *rand.Rand) time.Duration {
	delta := float64(base) * jitterFrac
	offset := (rng.Float64()*2 - 1) * delta
	return base + time.Duration(offset)
}

func newSeededRand() *rand.Rand {
	var seedBytes [8]byte
	_, _ = crand.Read(seedBytes[:])
	seed := binary.LittleEndian.Uint64(seedBytes[:])
	return rand.New(rand.NewPCG(seed, seed))
}
