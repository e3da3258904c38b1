package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"anchor-payout/internal/core/domain"
	"anchor-payout/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory inbox, transaction ledger and queue used by the
// pipeline scenarios. Writes apply immediately. GetByReferenceForUpdate takes
// a per-reference lock that is held until the memTx commits or rolls back,
// like a row lock.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]*domain.InboxEntry
	byMsgID map[string]int64
	txns    map[string]*domain.Transaction
	rowLock map[string]*sync.Mutex

	queue   []ports.QueueMessage
	deleted []string
}

func newMemStore() *memStore {
	return &memStore{
		entries: make(map[int64]*domain.InboxEntry),
		byMsgID: make(map[string]int64),
		txns:    make(map[string]*domain.Transaction),
		rowLock: make(map[string]*sync.Mutex),
	}
}

func (s *memStore) addTransaction(txn *domain.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *txn
	s.txns[txn.Reference] = &cp
}

func (s *memStore) transaction(reference string) domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.txns[reference]
}

func (s *memStore) entry(messageID string) domain.InboxEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.entries[s.byMsgID[messageID]]
}

func (s *memStore) entryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *memStore) queueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *memStore) enqueue(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue) + len(s.deleted) + 1
	s.queue = append(s.queue, ports.QueueMessage{
		ID:            fmt.Sprintf("sqs-%d", n),
		ReceiptHandle: fmt.Sprintf("rh-%d", n),
		Body:          []byte(body),
	})
}

// --- ports.QueueReceiver ---

func (s *memStore) Receive(_ context.Context, maxMessages int, _ time.Duration) ([]ports.QueueMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if maxMessages > len(s.queue) {
		maxMessages = len(s.queue)
	}
	out := make([]ports.QueueMessage, maxMessages)
	copy(out, s.queue[:maxMessages])
	return out, nil
}

func (s *memStore) Delete(_ context.Context, receiptHandle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.queue {
		if m.ReceiptHandle == receiptHandle {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.deleted = append(s.deleted, receiptHandle)
			return nil
		}
	}
	return errors.New("receipt handle not found")
}

// --- ports.DBTransactor ---

func (s *memStore) Begin(_ context.Context) (pgx.Tx, error) {
	return &memTx{s: s}, nil
}

// memTx releases the row locks it took on Commit or Rollback.
type memTx struct {
	mockTx
	s    *memStore
	held []*sync.Mutex
}

func (t *memTx) lock(reference string) {
	t.s.mu.Lock()
	l, ok := t.s.rowLock[reference]
	if !ok {
		l = &sync.Mutex{}
		t.s.rowLock[reference] = l
	}
	t.s.mu.Unlock()

	l.Lock()
	t.held = append(t.held, l)
}

func (t *memTx) release() {
	for _, l := range t.held {
		l.Unlock()
	}
	t.held = nil
}

func (t *memTx) Commit(_ context.Context) error   { t.release(); return nil }
func (t *memTx) Rollback(_ context.Context) error { t.release(); return nil }

// --- ports.HealthChecker ---

func (s *memStore) Ping(_ context.Context) error { return nil }
func (s *memStore) Name() string                 { return "memstore" }

// --- ports.InboxRepository ---

func (s *memStore) Insert(_ context.Context, entry *domain.InboxEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byMsgID[entry.MessageID]; ok {
		return false, nil
	}
	s.nextID++
	cp := *entry
	cp.ID = s.nextID
	cp.Status = domain.InboxStatusPending
	cp.UpdatedAt = time.Now()
	s.entries[cp.ID] = &cp
	s.byMsgID[cp.MessageID] = cp.ID
	entry.ID = cp.ID
	return true, nil
}

func (s *memStore) GetByID(_ context.Context, id int64) (*domain.InboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (s *memStore) ListPending(_ context.Context, limit int) ([]domain.InboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.InboxEntry
	for _, id := range s.sortedIDs() {
		if e := s.entries[id]; e.Status == domain.InboxStatusPending {
			out = append(out, *e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *memStore) move(id int64, from, to domain.InboxStatus) bool {
	e, ok := s.entries[id]
	if !ok || e.Status != from {
		return false
	}
	e.Status = to
	e.UpdatedAt = time.Now()
	return true
}

func (s *memStore) Claim(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.move(id, domain.InboxStatusPending, domain.InboxStatusProcessing) {
		return false, nil
	}
	now := time.Now()
	s.entries[id].ProcessingStartedAt = &now
	return true, nil
}

func (s *memStore) MarkCompleted(_ context.Context, _ pgx.Tx, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.move(id, domain.InboxStatusProcessing, domain.InboxStatusCompleted) {
		return fmt.Errorf("entry %d is not processing", id)
	}
	now := time.Now()
	s.entries[id].ProcessedAt = &now
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, _ pgx.Tx, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.move(id, domain.InboxStatusProcessing, domain.InboxStatusFailed) {
		return fmt.Errorf("entry %d is not processing", id)
	}
	e := s.entries[id]
	e.RetryCount++
	e.LastError = &reason
	return nil
}

func (s *memStore) ResetFailed(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.move(id, domain.InboxStatusFailed, domain.InboxStatusPending), nil
}

func (s *memStore) ResetRetryable(_ context.Context, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for _, id := range s.sortedIDs() {
		if len(ids) == limit {
			break
		}
		e := s.entries[id]
		if e.Status != domain.InboxStatusFailed {
			continue
		}
		if txn, ok := s.txns[e.TransactionReference]; ok && txn.Status.IsTerminal() {
			continue
		}
		s.move(id, domain.InboxStatusFailed, domain.InboxStatusPending)
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *memStore) List(_ context.Context, params ports.InboxListParams) ([]domain.InboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.InboxEntry
	for _, id := range s.sortedIDs() {
		e := s.entries[id]
		if params.Status != nil && e.Status != *params.Status {
			continue
		}
		if params.Reference != "" && e.TransactionReference != params.Reference {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (s *memStore) ListStuck(_ context.Context, startedBefore time.Time, limit int) ([]domain.InboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.InboxEntry
	for _, id := range s.sortedIDs() {
		e := s.entries[id]
		if e.Status == domain.InboxStatusProcessing && e.ProcessingStartedAt != nil && e.ProcessingStartedAt.Before(startedBefore) {
			out = append(out, *e)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) CountByStatus(_ context.Context) (map[domain.InboxStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.InboxStatus]int64)
	for _, e := range s.entries {
		out[e.Status]++
	}
	return out, nil
}

// memLedger adapts memStore to ports.TransactionRepository, whose
// CountByStatus differs from the inbox one.
type memLedger struct{ s *memStore }

func (l memLedger) GetByReference(_ context.Context, reference string) (*domain.Transaction, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	t, ok := l.s.txns[reference]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (l memLedger) GetByReferenceForUpdate(ctx context.Context, tx pgx.Tx, reference string) (*domain.Transaction, error) {
	if mt, ok := tx.(*memTx); ok {
		mt.lock(reference)
	}
	return l.GetByReference(ctx, reference)
}

func (l memLedger) UpdateStatus(_ context.Context, _ pgx.Tx, id uuid.UUID, from, to domain.TransactionStatus) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	for _, t := range l.s.txns {
		if t.ID == id && t.Status == from {
			t.Status = to
			t.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (l memLedger) Complete(_ context.Context, _ pgx.Tx, id uuid.UUID, signature string) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	for _, t := range l.s.txns {
		if t.ID == id && t.Status == domain.TransactionStatusPendingAnchor {
			t.Status = domain.TransactionStatusCompleted
			t.ChainTxSignature = &signature
			t.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("transaction %s is not pending anchor", id)
}

func (l memLedger) CountByStatus(_ context.Context) (map[domain.TransactionStatus]int64, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	out := make(map[domain.TransactionStatus]int64)
	for _, t := range l.s.txns {
		out[t.Status]++
	}
	return out, nil
}

// fakeChain records transfers and fails while err is set. When gate is set,
// each transfer signals started and then blocks until gate is closed.
type fakeChain struct {
	mu        sync.Mutex
	err       error
	transfers []fakeTransfer
	started   chan struct{}
	gate      chan struct{}
}

type fakeTransfer struct {
	Mint        domain.Mint
	Destination string
	Amount      decimal.Decimal
}

func (c *fakeChain) Transfer(_ context.Context, mint domain.Mint, destination string, amount decimal.Decimal) (string, error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return "", c.err
	}
	c.transfers = append(c.transfers, fakeTransfer{Mint: mint, Destination: destination, Amount: amount})
	sig := fmt.Sprintf("sig-%d", len(c.transfers))
	started, gate := c.started, c.gate
	c.mu.Unlock()

	if gate != nil {
		started <- struct{}{}
		<-gate
	}
	return sig, nil
}

func (c *fakeChain) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transfers)
}

// fakePublisher records outbound status messages.
type fakePublisher struct {
	mu   sync.Mutex
	sent []domain.OutboundStatusMessage
}

func (p *fakePublisher) Publish(_ context.Context, msg domain.OutboundStatusMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	return nil
}
