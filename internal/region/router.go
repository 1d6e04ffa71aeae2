package region

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dantte-lp/gotopo/internal/message"
)

// Publisher hands outbound commands to the transport.
type Publisher interface {
	Publish(ctx context.Context, msg message.Outbound) error
}

// RouterConfig holds the Router's timing.
type RouterConfig struct {
	// AliveInterval is the period of alive requests to every region.
	AliveInterval time.Duration
}

// Router addresses commands to regions.
//
// Commands for a switch go to the switch's owning region; commands without
// a switch go to every configured region. Commands for a dead region are
// dropped: the region is re-synchronized when it comes back.
type Router struct {
	tracker  *Tracker
	requests *RequestTracker
	pub      Publisher
	cfg      RouterConfig

	mu            sync.Mutex
	lastAliveSent time.Time

	newID   func() string
	metrics MetricsReporter
	logger  *slog.Logger
}

// NewRouter creates a Router.
func NewRouter(tracker *Tracker, requests *RequestTracker, pub Publisher, cfg RouterConfig, opts ...Option) *Router {
	o := buildOptions(opts)
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	return &Router{
		tracker:  tracker,
		requests: requests,
		pub:      pub,
		cfg:      cfg,
		newID:    o.newID,
		metrics:  o.metrics,
		logger:   o.logger.With(slog.String("component", "region.router")),
	}
}

// Tracker returns the region tracker the Router consults.
func (r *Router) Tracker() *Tracker { return r.tracker }

// Requests returns the Router's request tracker.
func (r *Router) Requests() *RequestTracker { return r.requests }

// SendToSwitch routes cmd to the region owning its target switch.
func (r *Router) SendToSwitch(ctx context.Context, cmd message.SwitchCommand) error {
	region, err := r.owner(cmd)
	if err != nil {
		return err
	}
	return r.SendToRegion(ctx, region, cmd)
}

// SendToRegion sends cmd to region.
func (r *Router) SendToRegion(ctx context.Context, region string, cmd message.Command) error {
	if err := r.checkAlive(region, cmd); err != nil {
		return err
	}
	return r.publish(ctx, region, cmd, "")
}

// SendRequest sends cmd to region and tracks correlationID for replies,
// which may arrive in several chunks.
func (r *Router) SendRequest(ctx context.Context, region string, cmd message.Command, correlationID string, now time.Time) error {
	if err := r.checkAlive(region, cmd); err != nil {
		return err
	}
	r.requests.Track(correlationID, true, now)
	return r.publish(ctx, region, cmd, correlationID)
}

// Routed describes where Route delivered a command.
type Routed struct {
	CorrelationID string
	Regions       []string
}

// Route sends a command under a new correlation id and tracks the replies.
//
// A switch command goes to the region owning its switch and expects one
// reply. Any other command is copied to every configured region and may be
// answered in chunks. Dead regions are skipped. Route fails only when no
// region received the command; the error joins the per-region causes.
func (r *Router) Route(ctx context.Context, cmd message.Command, now time.Time) (Routed, error) {
	routed := Routed{CorrelationID: r.newID()}

	if sc, ok := cmd.(message.SwitchCommand); ok {
		r.requests.Track(routed.CorrelationID, false, now)
		region, err := r.owner(sc)
		if err == nil {
			err = r.checkAlive(region, cmd)
		}
		if err == nil {
			err = r.publish(ctx, region, cmd, routed.CorrelationID)
		}
		if err != nil {
			return routed, err
		}
		routed.Regions = []string{region}
		return routed, nil
	}

	r.requests.Track(routed.CorrelationID, true, now)
	var errs []error
	for _, region := range r.tracker.Names() {
		err := r.checkAlive(region, cmd)
		if err == nil {
			err = r.publish(ctx, region, cmd, routed.CorrelationID)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		routed.Regions = append(routed.Regions, region)
	}
	if len(routed.Regions) == 0 {
		return routed, errors.Join(errs...)
	}
	return routed, nil
}

// Tick expires requests, marks silent regions dead, and sends alive
// requests to every region, dead or alive, once per alive interval. It
// returns the regions that died.
func (r *Router) Tick(ctx context.Context, now time.Time) []string {
	if expired := r.requests.Sweep(now); len(expired) > 0 {
		r.metrics.RecordRequestsExpired(len(expired))
		r.logger.Debug("requests expired", slog.Int("count", len(expired)))
	}

	died := r.tracker.Tick(now)

	r.mu.Lock()
	due := r.lastAliveSent.IsZero() || now.Sub(r.lastAliveSent) >= r.cfg.AliveInterval
	if due {
		r.lastAliveSent = now
	}
	r.mu.Unlock()

	if due {
		for _, region := range r.tracker.Names() {
			id := r.newID()
			r.requests.Track(id, false, now)
			if err := r.publish(ctx, region, message.AliveRequest{}, id); err != nil {
				r.logger.Warn("send alive request",
					slog.String("region", region),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	return died
}

// CheckReply validates a correlated reply and counts rejections.
func (r *Router) CheckReply(id string, last bool, now time.Time) error {
	err := r.requests.CheckReply(id, last, now)
	if err != nil {
		r.metrics.RecordReplyRejected()
	}
	return err
}

func (r *Router) owner(cmd message.SwitchCommand) (string, error) {
	sw := cmd.Target()
	region, ok := r.tracker.LookupRegion(sw)
	if !ok {
		r.logger.Debug("command dropped, switch has no region",
			slog.String("switch", sw.String()),
			slog.String("command", cmd.Kind()),
		)
		return "", fmt.Errorf("%s for %s: %w", cmd.Kind(), sw, ErrNoRegion)
	}
	return region, nil
}

func (r *Router) checkAlive(region string, cmd message.Command) error {
	if r.tracker.IsAlive(region) {
		return nil
	}
	r.logger.Debug("command dropped, region dead",
		slog.String("region", region),
		slog.String("command", cmd.Kind()),
	)
	return fmt.Errorf("%s to %s: %w", cmd.Kind(), region, ErrRegionDead)
}

func (r *Router) publish(ctx context.Context, region string, cmd message.Command, correlationID string) error {
	msg := message.Outbound{Region: region, CorrelationID: correlationID, Command: cmd}
	if err := r.pub.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish %s to %s: %w", cmd.Kind(), region, err)
	}
	return nil
}
