package manager

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vanshika/fintrace/txnengine/internal/balancer"
	"github.com/vanshika/fintrace/txnengine/internal/domain"
	"github.com/vanshika/fintrace/txnengine/internal/metrics"
	"github.com/vanshika/fintrace/txnengine/internal/processor"
	"github.com/vanshika/fintrace/txnengine/internal/retry"
)

const (
	maxDefaultWorkers   = 16
	queueSampleInterval = 5 * time.Second
	deregisterTimeout   = 5 * time.Second

	// dispatcherNode is recorded as the processing node of transactions the
	// dispatcher fails itself.
	dispatcherNode = "dispatcher"
)

// workerNode is one logical worker: a registry entry, a processor and a
// bounded inbox drained by a single goroutine.
type workerNode struct {
	id    string
	proc  *processor.Processor
	inbox chan *domain.Transaction
	load  atomic.Int64

	// reportMu keeps load reports in the order the counter changed.
	reportMu sync.Mutex
}

type run struct {
	cancel     context.CancelFunc
	workCancel context.CancelFunc
	nodes      map[string]*workerNode
	background sync.WaitGroup
	workers    sync.WaitGroup
}

// DefaultWorkers is min(2×NumCPU, 16).
func DefaultWorkers() int {
	n := 2 * runtime.NumCPU()
	if n > maxDefaultWorkers {
		n = maxDefaultWorkers
	}
	return n
}

// Start registers n worker nodes and begins consuming the queue. n <= 0
// falls back to the configured count, then to DefaultWorkers.
func (m *Manager) Start(ctx context.Context, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running != nil {
		return ErrAlreadyRunning
	}
	if n <= 0 {
		n = m.cfg.Worker.Count
	}
	if n <= 0 {
		n = DefaultWorkers()
	}
	capacity := m.cfg.Worker.Capacity
	if capacity <= 0 {
		capacity = 1
	}

	base := context.WithoutCancel(ctx)
	runCtx, cancel := context.WithCancel(base)
	workCtx, workCancel := context.WithCancel(base)
	r := &run{
		cancel:     cancel,
		workCancel: workCancel,
		nodes:      make(map[string]*workerNode, n),
	}

	for i := 0; i < n; i++ {
		node := &workerNode{
			id:    "node-" + uuid.NewString()[:8],
			inbox: make(chan *domain.Transaction, capacity),
		}
		node.proc = processor.New(node.id, m.store, m.cache, m.gateway, m.limits, m.policy, m.log,
			processor.WithAttemptHook(func(ctx context.Context) { m.reportLoad(ctx, node) }))
		m.balancer.RegisterNode(ctx, node.id, capacity, m.cfg.Worker.Capabilities)
		r.nodes[node.id] = node

		r.workers.Add(1)
		go m.runNode(workCtx, r, node)

		r.background.Add(1)
		go m.heartbeat(runCtx, r, node)
	}

	r.background.Add(2)
	go m.dispatch(runCtx, r)
	go m.sampleQueue(runCtx, r)

	m.running = r
	m.log.Info("processing started",
		zap.Int("workers", n),
		zap.Int("capacity", capacity),
		zap.String("strategy", m.balancer.Strategy()))
	return nil
}

// Stop stops consuming and waits for every node to drain its inbox. When ctx
// expires first, in-flight work is cancelled and ctx's error is returned.
// Interrupted transactions and inbox entries that never started are
// released to PENDING and put back on the queue.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	r := m.running
	m.running = nil
	m.mu.Unlock()
	if r == nil {
		return ErrNotRunning
	}

	r.cancel()
	r.background.Wait()
	for _, node := range r.nodes {
		close(node.inbox)
	}

	done := make(chan struct{})
	go func() {
		r.workers.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		r.workCancel()
		<-done
	}
	r.workCancel()

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deregisterTimeout)
	defer cancel()
	for id := range r.nodes {
		m.balancer.Deregister(dctx, id)
	}
	m.log.Info("processing stopped", zap.Error(err))
	return err
}

// Running reports whether workers are active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running != nil
}

func (m *Manager) runNode(ctx context.Context, r *run, node *workerNode) {
	defer r.workers.Done()
	for tx := range node.inbox {
		if ctx.Err() != nil {
			m.requeue(tx, nil)
			node.load.Add(-1)
			continue
		}
		_, err := node.proc.Process(ctx, tx)
		switch {
		case errors.Is(err, processor.ErrInterrupted):
			m.log.Warn("processing interrupted, requeueing",
				zap.String("node_id", node.id),
				zap.String("transaction_id", tx.ID),
				zap.Error(err))
			m.requeue(tx, nil)
		case errors.Is(err, processor.ErrNotPending):
			m.log.Debug("skipping transaction that is no longer pending",
				zap.String("node_id", node.id),
				zap.String("transaction_id", tx.ID))
		case processor.IsTransient(err):
			m.log.Error("failed to claim transaction, requeueing",
				zap.String("node_id", node.id),
				zap.String("transaction_id", tx.ID),
				zap.Error(err))
			m.requeue(tx, nil)
		case err != nil:
			m.log.Error("failed to process transaction",
				zap.String("node_id", node.id),
				zap.String("transaction_id", tx.ID),
				zap.Error(err))
		}
		node.load.Add(-1)
		m.reportLoad(ctx, node)
	}
}

func (m *Manager) reportLoad(ctx context.Context, node *workerNode) {
	node.reportMu.Lock()
	defer node.reportMu.Unlock()
	if err := m.balancer.UpdateNodeLoad(ctx, node.id, int(node.load.Load())); err != nil {
		m.log.Warn("failed to report node load", zap.String("node_id", node.id), zap.Error(err))
	}
}

func (m *Manager) heartbeat(ctx context.Context, r *run, node *workerNode) {
	defer r.background.Done()
	interval := m.cfg.Worker.HeartbeatInterval
	if interval <= 0 {
		interval = domain.NodeStaleAfter / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reportLoad(ctx, node)
		}
	}
}

func (m *Manager) sampleQueue(ctx context.Context, r *run) {
	defer r.background.Done()
	ticker := time.NewTicker(queueSampleInterval)
	defer ticker.Stop()
	for {
		sizes, err := m.queue.SizeByPriority(ctx, m.cfg.Queue.Name)
		if err == nil {
			for p, n := range sizes {
				metrics.QueueSize.WithLabelValues(m.cfg.Queue.Name, p.String()).Set(float64(n))
			}
		} else if ctx.Err() == nil {
			m.log.Warn("failed to sample queue depth", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// dispatch is the single consumer of the shared queue. Each message is
// handed to the node the balancer picks; the loop never exits on an
// infrastructure error.
func (m *Manager) dispatch(ctx context.Context, r *run) {
	defer r.background.Done()
	for ctx.Err() == nil {
		payload, err := m.queue.Consume(ctx, m.cfg.Queue.Name, m.cfg.Worker.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Warn("queue consume failed", zap.Error(err))
			_ = retry.Sleep(ctx, m.cfg.Worker.ErrorBackoff)
			continue
		}
		if payload == nil {
			_ = retry.Sleep(ctx, m.cfg.Worker.IdleSleep)
			continue
		}

		var tx domain.Transaction
		if err := json.Unmarshal(payload, &tx); err != nil {
			m.log.Error("dropping malformed queue message", zap.Int("bytes", len(payload)), zap.Error(err))
			continue
		}
		m.assign(ctx, r, &tx, payload)
	}
}

// assign waits for a node with spare capacity and delivers tx to it. A
// transaction no registered node could ever run fails immediately. If the
// run stops first, the message goes back on the queue.
func (m *Manager) assign(ctx context.Context, r *run, tx *domain.Transaction, payload []byte) {
	if !m.routable(tx) {
		m.failUnroutable(ctx, tx)
		return
	}
	for {
		id, err := m.balancer.SelectNode(ctx, tx)
		if err == nil {
			if node, ok := r.nodes[id]; ok {
				node.load.Add(1)
				m.reportLoad(ctx, node)
				select {
				case node.inbox <- tx:
					return
				case <-ctx.Done():
					node.load.Add(-1)
					m.requeue(tx, payload)
					return
				}
			}
			err = balancer.ErrUnknownNode
		}

		if !errors.Is(err, balancer.ErrNoAvailableNode) {
			m.log.Warn("node selection failed", zap.String("transaction_id", tx.ID), zap.Error(err))
		}
		if ctx.Err() != nil || retry.Sleep(ctx, m.cfg.Worker.IdleSleep) != nil {
			m.requeue(tx, payload)
			return
		}
	}
}

// routable reports whether any registered node, busy or not, could ever run
// tx.
func (m *Manager) routable(tx *domain.Transaction) bool {
	required := tx.RequiredCapabilities()
	if len(required) == 0 {
		return true
	}
	for _, n := range m.balancer.Nodes() {
		if n.Supports(required) {
			return true
		}
	}
	return false
}

func (m *Manager) failUnroutable(ctx context.Context, tx *domain.Transaction) {
	applied, err := m.store.Transition(ctx, tx.ID, []domain.Status{domain.StatusPending}, domain.StatusProcessing, dispatcherNode)
	if err != nil || !applied {
		if err != nil {
			m.log.Error("failed to claim unroutable transaction", zap.String("transaction_id", tx.ID), zap.Error(err))
		}
		return
	}
	res := domain.ProcessingResult{
		TransactionID: tx.ID,
		Status:        domain.StatusFailed,
		NodeID:        dispatcherNode,
		ErrorMessage:  "no registered node supports the required capabilities",
		CompletedAt:   m.now().UTC(),
	}
	if err := m.store.SaveResult(ctx, res, 0); err != nil {
		m.log.Error("failed to persist result", zap.String("transaction_id", tx.ID), zap.Error(err))
	}
	if err := m.cache.SetStatus(ctx, domain.ViewFromResult(res)); err != nil {
		m.log.Warn("failed to cache status", zap.String("transaction_id", tx.ID), zap.Error(err))
	}
	metrics.Processed.WithLabelValues(dispatcherNode, string(domain.StatusFailed)).Inc()
	m.log.Warn("transaction has no capable node",
		zap.String("transaction_id", tx.ID),
		zap.Strings("required", tx.RequiredCapabilities()))
}

// requeue puts tx back on the queue. A nil payload is re-encoded from tx.
func (m *Manager) requeue(tx *domain.Transaction, payload []byte) {
	if payload == nil {
		raw, err := json.Marshal(tx)
		if err != nil {
			m.log.Error("failed to encode transaction for requeue", zap.String("transaction_id", tx.ID), zap.Error(err))
			return
		}
		payload = raw
	}
	ctx, cancel := context.WithTimeout(context.Background(), deregisterTimeout)
	defer cancel()
	if err := m.queue.Publish(ctx, m.cfg.Queue.Name, payload, tx.Priority); err != nil {
		m.log.Error("failed to requeue transaction",
			zap.String("transaction_id", tx.ID), zap.Error(err))
	}
}
