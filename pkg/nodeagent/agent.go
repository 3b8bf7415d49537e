package nodeagent

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"github.com/rs/zerolog"

	"github.com/cuemby/libra/pkg/apierrors"
	"github.com/cuemby/libra/pkg/log"
	"github.com/cuemby/libra/pkg/metrics"
	"github.com/cuemby/libra/pkg/reconciler"
	"github.com/cuemby/libra/pkg/specfile"
	"github.com/cuemby/libra/pkg/types"
)

const streamMethod = "/libra.nodeagent.v1.NodeAgent/StreamAssignments"

var assignmentsBucket = []byte("assignments")

const (
	minReconnectDelay = time.Second
	maxReconnectDelay = 30 * time.Second
)

// Config holds everything Agent needs to reach a control plane and persist
// what it last heard from it.
type Config struct {
	// Target is the gRPC dial target of the control plane, e.g. "manager:7443".
	Target string
	// TLS, when set, is used as mutual-TLS transport credentials; nil dials
	// insecure, for local testing only.
	TLS *tls.Config
	// CacheDBPath is where the bbolt cache of last-applied assignments lives,
	// so a restarted agent can hand the reconciler a desired set before the
	// first successful stream connection completes.
	CacheDBPath string
}

// Agent is NA: it maintains a server-streaming gRPC connection to a control
// plane, republishes every types.Assignment it receives into the same
// reconciler.Source interface DirSource implements, and caches the last
// assignment for each pod in bbolt so a crash or restart doesn't lose
// desired state it already knew about.
type Agent struct {
	cfg Config
	log zerolog.Logger

	db *bbolt.DB

	mu      sync.RWMutex
	desired map[string]reconciler.Desired

	events chan struct{}

	connMu sync.Mutex
	conn   *grpc.ClientConn
}

// New opens the local cache and restores whatever assignments it already
// holds into memory, so Load returns a non-empty set even before Connect
// succeeds.
func New(cfg Config) (*Agent, error) {
	db, err := bbolt.Open(cfg.CacheDBPath, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ErrInternal, "open assignment cache", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(assignmentsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, apierrors.Wrap(apierrors.ErrInternal, "init assignment cache bucket", err)
	}

	a := &Agent{
		cfg:     cfg,
		log:     log.WithComponent("nodeagent"),
		db:      db,
		desired: make(map[string]reconciler.Desired),
		events:  make(chan struct{}, 1),
	}
	if err := a.restoreCache(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Agent) restoreCache() error {
	return a.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(assignmentsBucket)
		return b.ForEach(func(k, v []byte) error {
			var assignment types.Assignment
			if err := json.Unmarshal(v, &assignment); err != nil {
				a.log.Warn().Err(err).Str("key", string(k)).Msg("dropping corrupt cached assignment")
				return nil
			}
			if assignment.Kind != types.KindPod || assignment.Pod == nil {
				return nil
			}
			a.desired[string(k)] = reconciler.Desired{Spec: assignment.Pod, Hash: assignmentHash(assignment)}
			return nil
		})
	})
}

// Connect dials the control plane. It must be called before Run.
func (a *Agent) Connect(_ context.Context) error {
	var creds credentials.TransportCredentials
	if a.cfg.TLS != nil {
		creds = credentials.NewTLS(a.cfg.TLS)
	} else {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(a.cfg.Target,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return apierrors.Wrap(apierrors.ErrInternal, "dial control plane", err)
	}

	a.connMu.Lock()
	a.conn = conn
	a.connMu.Unlock()
	return nil
}

// Run consumes the assignment stream until ctx is canceled, reconnecting
// with a capped exponential backoff whenever the stream breaks.
func (a *Agent) Run(ctx context.Context) error {
	delay := minReconnectDelay
	for {
		if err := a.streamOnce(ctx); err != nil && ctx.Err() == nil {
			metrics.NodeAgentStreamReconnectsTotal.Inc()
			a.log.Warn().Err(err).Dur("retry_in", delay).Msg("assignment stream broken, reconnecting")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delay = minReconnectDelay
	}
}

func (a *Agent) streamOnce(ctx context.Context) error {
	a.connMu.Lock()
	conn := a.conn
	a.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("nodeagent: Connect was not called")
	}

	stream, err := conn.NewStream(ctx, &grpc.StreamDesc{StreamName: "StreamAssignments", ServerStreams: true}, streamMethod)
	if err != nil {
		return apierrors.Wrap(apierrors.ErrInternal, "open assignment stream", err)
	}

	for {
		var assignment types.Assignment
		if err := stream.RecvMsg(&assignment); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		a.apply(assignment)
	}
}

func (a *Agent) apply(assignment types.Assignment) {
	if assignment.Kind != types.KindPod || assignment.Pod == nil {
		a.log.Warn().Msg("received assignment with no pod spec, ignoring")
		return
	}

	name := assignment.Pod.Name
	hash := assignmentHash(assignment)

	a.mu.Lock()
	a.desired[name] = reconciler.Desired{Spec: assignment.Pod, Hash: hash}
	a.mu.Unlock()

	data, err := json.Marshal(assignment)
	if err == nil {
		if err := a.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(assignmentsBucket).Put([]byte(name), data)
		}); err != nil {
			a.log.Warn().Err(err).Str("pod", name).Msg("failed to persist assignment")
		}
	}

	metrics.NodeAgentAssignmentsTotal.Inc()
	select {
	case a.events <- struct{}{}:
	default:
	}
}

// Load implements reconciler.Source.
func (a *Agent) Load(_ context.Context) (map[string]reconciler.Desired, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]reconciler.Desired, len(a.desired))
	for k, v := range a.desired {
		out[k] = v
	}
	return out, nil
}

// Events implements reconciler.Source.
func (a *Agent) Events() <-chan struct{} {
	return a.events
}

// Close releases the gRPC connection and the local cache.
func (a *Agent) Close() error {
	a.connMu.Lock()
	conn := a.conn
	a.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	return a.db.Close()
}

func assignmentHash(assignment types.Assignment) string {
	data, err := json.Marshal(assignment)
	if err != nil {
		return ""
	}
	return specfile.Hash(data)
}
