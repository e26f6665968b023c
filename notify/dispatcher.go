/*
Package notify delivers transaction confirmations to external channels.

PURPOSE:
  The engine fires a notification after a transaction commits and moves
  on. Delivery runs on a small worker pool draining a buffered queue;
  a slow or failing channel never blocks, and never rolls back, the
  ledger write that triggered it. When the queue is full the message is
  dropped and logged - notifications are best-effort by contract.

TRANSPORTS:
  Email/push transports are interfaces; the engine ships only a logging
  sender. Real transports live in the surrounding services.
*/
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/warp/points-engine/ledger"
)

// =============================================================================
// MESSAGES AND SENDERS
// =============================================================================

type Event string

const (
	EventCompleted Event = "transaction_completed"
	EventReversed  Event = "transaction_reversed"
)

type Message struct {
	Event     Event
	Recipient ledger.AccountID
	Tx        ledger.Transaction
	CreatedAt time.Time
}

// Sender delivers one message over one channel.
type Sender interface {
	Send(msg Message) error
}

// LogSender writes notifications to the log. Default for the demo server.
type LogSender struct {
	Logger *slog.Logger
}

func (l LogSender) Send(msg Message) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		slog.String("event", string(msg.Event)),
		slog.String("recipient", string(msg.Recipient)),
		slog.String("tx", string(msg.Tx.ID)),
		slog.String("amount", msg.Tx.Amount.String()),
	)
	return nil
}

// =============================================================================
// DISPATCHER - Buffered worker pool, fire-and-forget
// =============================================================================

type Dispatcher struct {
	sender   Sender
	queue    chan Message
	workers  int
	shutdown chan struct{}
	wg       sync.WaitGroup
	logger   *slog.Logger
}

var _ ledger.Notifier = (*Dispatcher)(nil)

func NewDispatcher(sender Sender, workers int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 2
	}
	d := &Dispatcher{
		sender:   sender,
		queue:    make(chan Message, 256),
		workers:  workers,
		shutdown: make(chan struct{}),
		logger:   logger,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// TransactionCompleted notifies both parties of a committed movement.
func (d *Dispatcher) TransactionCompleted(tx ledger.Transaction) {
	d.enqueue(Message{Event: EventCompleted, Recipient: tx.SubjectID, Tx: tx, CreatedAt: time.Now()})
	if tx.CounterID != "" {
		d.enqueue(Message{Event: EventCompleted, Recipient: tx.CounterID, Tx: tx, CreatedAt: time.Now()})
	}
}

// TransactionReversed notifies the subject of a reversal.
func (d *Dispatcher) TransactionReversed(tx ledger.Transaction) {
	d.enqueue(Message{Event: EventReversed, Recipient: tx.SubjectID, Tx: tx, CreatedAt: time.Now()})
}

func (d *Dispatcher) enqueue(msg Message) {
	select {
	case d.queue <- msg:
	default:
		d.logger.Warn("notification queue full, dropping",
			slog.String("event", string(msg.Event)),
			slog.String("recipient", string(msg.Recipient)),
		)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case msg := <-d.queue:
			if err := d.sender.Send(msg); err != nil {
				d.logger.Error("notification delivery failed",
					slog.String("event", string(msg.Event)),
					slog.String("recipient", string(msg.Recipient)),
					slog.String("error", err.Error()),
				)
			}
		case <-d.shutdown:
			return
		}
	}
}

// Close stops the workers. Queued but undelivered messages are dropped.
func (d *Dispatcher) Close() {
	close(d.shutdown)
	d.wg.Wait()
}
