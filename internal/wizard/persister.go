package wizard

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/inkline/internal/kvstore"
	"github.com/pitabwire/inkline/internal/observability"
)

const persistTimeout = 5 * time.Second

// persistOp is one pending write. A nil data with remove set deletes the key.
type persistOp struct {
	data   []byte
	remove bool
}

// persister serializes session writes through one goroutine. Only the newest
// pending op is kept, so a stale snapshot never lands after a newer one.
// Failures are logged and counted; they never reach the caller.
type persister struct {
	store   kvstore.Store
	key     string
	flowID  string
	logger  *zap.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	pending *persistOp
	seq     uint64
	done    uint64
	doneCh  chan struct{}
	closed  bool

	wake    chan struct{}
	quit    chan struct{}
	stopped chan struct{}
}

func newPersister(store kvstore.Store, key, flowID string, logger *zap.Logger, metrics *observability.Metrics) *persister {
	p := &persister{
		store:   store,
		key:     key,
		flowID:  flowID,
		logger:  logger,
		metrics: metrics,
		doneCh:  make(chan struct{}),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *persister) set(data []byte) {
	p.enqueue(&persistOp{data: data})
}

func (p *persister) remove() {
	p.enqueue(&persistOp{remove: true})
}

// enqueue hands op to the writer. Once the writer has stopped, which
// happens when the manager drops a container a request still holds, the
// op is written inline instead.
func (p *persister) enqueue(op *persistOp) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.stopped
		p.write(op)
		return
	}
	p.pending = op
	p.seq++
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// flush blocks until every op enqueued before the call has been written.
func (p *persister) flush(ctx context.Context) error {
	p.mu.Lock()
	target := p.seq
	for p.done < target {
		ch := p.doneCh
		p.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		p.mu.Lock()
	}
	p.mu.Unlock()
	return nil
}

// close writes anything still pending and stops the writer.
func (p *persister) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.stopped
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.quit)
	<-p.stopped
}

func (p *persister) run() {
	defer close(p.stopped)
	for {
		select {
		case <-p.wake:
			p.drain()
		case <-p.quit:
			p.drain()
			return
		}
	}
}

func (p *persister) drain() {
	for {
		p.mu.Lock()
		op, target := p.pending, p.seq
		p.pending = nil
		p.mu.Unlock()
		if op == nil {
			return
		}

		p.write(op)

		p.mu.Lock()
		p.done = target
		close(p.doneCh)
		p.doneCh = make(chan struct{})
		p.mu.Unlock()
	}
}

func (p *persister) write(op *persistOp) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	var err error
	if op.remove {
		err = p.store.Remove(ctx, p.key)
	} else {
		err = p.store.Set(ctx, p.key, op.data)
	}
	if err != nil {
		p.logger.Warn("wizard session write failed",
			zap.String("flow_id", p.flowID),
			zap.String("key", p.key),
			zap.Bool("remove", op.remove),
			zap.Error(err),
		)
		p.metrics.RecordPersistFailure(p.flowID)
	}
}
