// Package fakes — хранилища в памяти и брокер-заглушка для тестов ядра доставки событий.
// Хранилища реализуют testutil.Snapshotter и откатываются вместе с testutil.Transactor.
package fakes

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"example.com/fulfillment/pkg/deadletter"
	"example.com/fulfillment/pkg/idempotency"
	"example.com/fulfillment/pkg/kafka"
	"example.com/fulfillment/pkg/outbox"
)

// =============================================================================
// Ledger
// =============================================================================

// Ledger — idempotency.Repository в памяти.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]idempotency.Entry
}

// NewLedger создаёт пустой Ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]idempotency.Entry)}
}

func ledgerKey(eventType, eventKey string) string { return eventType + "|" + eventKey }

// Snapshot запоминает состояние для отката.
func (l *Ledger) Snapshot() func() {
	l.mu.Lock()
	saved := make(map[string]idempotency.Entry, len(l.entries))
	for k, v := range l.entries {
		saved[k] = v
	}
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		l.entries = saved
		l.mu.Unlock()
	}
}

func (l *Ledger) WithTx(*gorm.DB) idempotency.Repository { return l }

func (l *Ledger) Claim(_ context.Context, e *idempotency.Entry) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := ledgerKey(e.EventType, e.EventKey)
	if _, ok := l.entries[k]; ok {
		return false, nil
	}
	l.entries[k] = *e
	return true, nil
}

func (l *Ledger) GetForUpdate(ctx context.Context, eventType, eventKey string) (*idempotency.Entry, error) {
	return l.Get(ctx, eventType, eventKey)
}

func (l *Ledger) Get(_ context.Context, eventType, eventKey string) (*idempotency.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[ledgerKey(eventType, eventKey)]
	if !ok {
		return nil, idempotency.ErrEntryNotFound
	}
	return &e, nil
}

func (l *Ledger) Update(_ context.Context, e *idempotency.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := ledgerKey(e.EventType, e.EventKey)
	if _, ok := l.entries[k]; !ok {
		return idempotency.ErrEntryNotFound
	}
	l.entries[k] = *e
	return nil
}

func (l *Ledger) RecordFailure(_ context.Context, e *idempotency.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := ledgerKey(e.EventType, e.EventKey)
	if existing, ok := l.entries[k]; ok {
		if existing.Status == idempotency.StatusSuccess || existing.Status == idempotency.StatusDuplicate {
			existing.LastSeenAt = e.LastSeenAt
			l.entries[k] = existing
			return nil
		}
		existing.Status = e.Status
		existing.ResultMessage = e.ResultMessage
		existing.LastSeenAt = e.LastSeenAt
		existing.UpdatedAt = e.UpdatedAt
		l.entries[k] = existing
		return nil
	}
	l.entries[k] = *e
	return nil
}

// Entries возвращает копию всех записей.
func (l *Ledger) Entries() []idempotency.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]idempotency.Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	return out
}

// =============================================================================
// Outbox
// =============================================================================

// Outbox — outbox.Repository в памяти.
type Outbox struct {
	mu      sync.Mutex
	records []outbox.Record
}

// NewOutbox создаёт пустой Outbox.
func NewOutbox() *Outbox {
	return &Outbox{}
}

// Snapshot запоминает состояние для отката.
func (o *Outbox) Snapshot() func() {
	o.mu.Lock()
	saved := append([]outbox.Record(nil), o.records...)
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		o.records = saved
		o.mu.Unlock()
	}
}

func (o *Outbox) WithTx(*gorm.DB) outbox.Repository { return o }

func (o *Outbox) Append(_ context.Context, records ...*outbox.Record) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range records {
		o.records = append(o.records, *r)
	}
	return nil
}

func (o *Outbox) ListPending(_ context.Context, limit int) ([]*outbox.Record, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*outbox.Record
	for i := range o.records {
		if o.records[i].Status == outbox.StatusPending || o.records[i].Status == outbox.StatusFailed {
			r := o.records[i]
			out = append(out, &r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (o *Outbox) MarkPublished(_ context.Context, id string, at time.Time) error {
	return o.mutate(id, func(r *outbox.Record) error { return r.MarkPublished(at) })
}

func (o *Outbox) MarkFailed(_ context.Context, id string, cause error) error {
	return o.mutate(id, func(r *outbox.Record) error { return r.MarkFailed(cause) })
}

func (o *Outbox) mutate(id string, fn func(r *outbox.Record) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.records {
		if o.records[i].ID == id {
			return fn(&o.records[i])
		}
	}
	return outbox.ErrRecordNotFound
}

// Records возвращает копию записей в порядке добавления.
func (o *Outbox) Records() []outbox.Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]outbox.Record(nil), o.records...)
}

// ByType возвращает записи с типом события eventType.
func (o *Outbox) ByType(eventType string) []outbox.Record {
	var out []outbox.Record
	for _, r := range o.Records() {
		if r.EventType == eventType {
			out = append(out, r)
		}
	}
	return out
}

// =============================================================================
// Publisher
// =============================================================================

// Publisher — kafka.Publisher, запоминающий отправленные сообщения.
type Publisher struct {
	mu       sync.Mutex
	messages []*kafka.Message

	// Err — если задано, SendMessage возвращает эту ошибку.
	Err error
}

// SendMessage запоминает копию сообщения.
func (p *Publisher) SendMessage(_ context.Context, msg *kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.messages = append(p.messages, msg.Clone())
	return nil
}

// Messages возвращает отправленные сообщения.
func (p *Publisher) Messages() []*kafka.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*kafka.Message(nil), p.messages...)
}

// OnTopic возвращает сообщения, отправленные в topic.
func (p *Publisher) OnTopic(topic string) []*kafka.Message {
	var out []*kafka.Message
	for _, m := range p.Messages() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// =============================================================================
// Dead letter
// =============================================================================

// DeadLetters — deadletter.Repository в памяти.
type DeadLetters struct {
	mu      sync.Mutex
	records []deadletter.Record
}

// NewDeadLetters создаёт пустое хранилище.
func NewDeadLetters() *DeadLetters {
	return &DeadLetters{}
}

func (d *DeadLetters) Save(_ context.Context, r *deadletter.Record) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.records {
		if existing.Topic == r.Topic && existing.Partition == r.Partition && existing.Offset == r.Offset {
			return false, nil
		}
	}
	d.records = append(d.records, *r)
	return true, nil
}

func (d *DeadLetters) Get(_ context.Context, id string) (*deadletter.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.records {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, deadletter.ErrRecordNotFound
}

func (d *DeadLetters) List(_ context.Context, status deadletter.Status, limit int) ([]*deadletter.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*deadletter.Record
	for i := len(d.records) - 1; i >= 0; i-- {
		if status != "" && d.records[i].Status != status {
			continue
		}
		r := d.records[i]
		out = append(out, &r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (d *DeadLetters) Update(_ context.Context, r *deadletter.Record, from deadletter.Status) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.records {
		if d.records[i].ID != r.ID {
			continue
		}
		if d.records[i].Status != from {
			return deadletter.ErrConcurrentUpdate
		}
		d.records[i] = *r
		return nil
	}
	return deadletter.ErrConcurrentUpdate
}

// Records возвращает копию записей.
func (d *DeadLetters) Records() []deadletter.Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]deadletter.Record(nil), d.records...)
}
