package reader

import (
	"context"
	"log"

	"github.com/zophiezlan/nfc-tap-logger/internal/tapline/types"
)

// Candidate is one discrete card read delivered by the hardware driver. Raw
// carries the NDEF payload when the driver captured one; the core only needs
// the uid.
type Candidate struct {
	UID string
	Raw []byte
}

// TapHandler is the consumer side of the pump. *service.TapService
// implements it.
type TapHandler interface {
	HandleRead(ctx context.Context, uid string) (types.TapOutcome, error)
}

// Signaler renders a feedback signal on whatever audio/visual hardware the
// station has. The default implementation just logs.
type Signaler interface {
	Signal(fb types.Feedback)
}

type LogSignaler struct {
	Logger *log.Logger
}

func (s LogSignaler) Signal(fb types.Feedback) {
	s.Logger.Printf("feedback: %s", fb)
}

// Pump decouples hardware timing from store-write serialization: the driver
// produces candidates into a bounded channel; a single worker consumes them,
// runs the tap pipeline, and emits feedback. One reader, one worker — taps
// are processed in arrival order.
type Pump struct {
	in       chan Candidate
	handler  TapHandler
	signaler Signaler
	logger   *log.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewPump(handler TapHandler, signaler Signaler, buffer int, logger *log.Logger) *Pump {
	if buffer <= 0 {
		buffer = 32
	}
	return &Pump{
		in:       make(chan Candidate, buffer),
		handler:  handler,
		signaler: signaler,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Offer enqueues a candidate without blocking the hardware callback. A full
// buffer means the consumer is badly behind; the read is dropped with an
// error signal so the participant re-taps rather than waiting.
func (p *Pump) Offer(c Candidate) bool {
	select {
	case p.in <- c:
		return true
	default:
		p.logger.Printf("reader buffer full, dropping tap uid=%s", c.UID)
		p.signaler.Signal(types.FeedbackError)
		return false
	}
}

// Start begins the consumer loop. The loop exits when ctx is cancelled or
// Stop is called.
func (p *Pump) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)
}

// Stop signals the pump to exit and waits for it to finish.
func (p *Pump) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *Pump) loop(ctx context.Context) {
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-p.in:
			outcome, err := p.handler.HandleRead(ctx, c.UID)
			if err != nil {
				// Hardware-sourced errors degrade to a failure signal;
				// the tap pipeline itself keeps running.
				p.logger.Printf("tap uid=%s failed: %v", c.UID, err)
				p.signaler.Signal(types.FeedbackError)
				continue
			}
			p.signaler.Signal(outcome.Feedback)
		}
	}
}
