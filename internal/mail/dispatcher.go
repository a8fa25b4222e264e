package mail

import (
	"context"
	"log/slog"

	"github.com/campus-board/community-auth-backend/internal/observability"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

// Dispatcher decouples mail delivery from the transactions that decide
// to send: services enqueue after commit, a single worker delivers.
// The queue is best-effort; when it is full the message is delivered
// in its own goroutine so a slow SMTP host never blocks a request.
type Dispatcher struct {
	mailer Mailer
	queue  chan Message
	logger *slog.Logger
}

func NewDispatcher(mailer Mailer, buffer int, logger *slog.Logger) *Dispatcher {
	if buffer < 1 {
		buffer = 64
	}
	return &Dispatcher{
		mailer: mailer,
		queue:  make(chan Message, buffer),
		logger: logger,
	}
}

func (d *Dispatcher) Enqueue(msg Message) {
	select {
	case d.queue <- msg:
	default:
		go d.deliver(context.Background(), msg)
	}
}

// Run consumes the queue until the context is cancelled, then drains
// whatever is already enqueued.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case msg := <-d.queue:
			d.deliver(ctx, msg)
		case <-ctx.Done():
			for {
				select {
				case msg := <-d.queue:
					d.deliver(context.Background(), msg)
				default:
					return nil
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	if err := d.mailer.SendEmail(msg.To, msg.Subject, msg.Body); err != nil {
		observability.RecordMailDelivery(ctx, "error")
		d.logger.Error("mail delivery failed", "to", msg.To, "subject", msg.Subject, "error", err)
		return
	}
	observability.RecordMailDelivery(ctx, "success")
}
