package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/intune-bridge/internal/errors"
	"github.com/rs/zerolog"
)

const (
	DefaultPostRedirectTimeout = 7 * time.Second
	DefaultPollInterval        = 15 * time.Second

	// TimeoutMessage is shown when a post-login check does not complete in time
	TimeoutMessage = "Connection check timed out. Please try signing in again."
)

// View is the client's picture of the server session
type View struct {
	IsConnected     bool   `json:"isConnected"`
	TenantID        string `json:"tenantId,omitempty"`
	TenantName      string `json:"tenantName,omitempty"`
	Error           string `json:"error,omitempty"`
	IsLoadingStatus bool   `json:"isLoadingStatus"`
}

type Options struct {
	PostRedirectTimeout time.Duration
	PollInterval        time.Duration
	Clock               Clock
	Marker              RedirectMarker

	// OnChange receives every committed view, on the reconciler's goroutine
	OnChange func(View)
	Logger   zerolog.Logger
}

type checkMode int

const (
	normalCheck checkMode = iota
	postRedirectCheck
)

// Reconciler keeps a View consistent with the server session. All state is owned by
// one loop goroutine; public methods post events to it and never block on a fetch.
//
// Each check carries a sequence number. A result is applied only if its sequence is
// newer than the last one applied, so a slow response can never overwrite a newer one.
type Reconciler struct {
	fetcher StatusFetcher
	opts    Options
	log     zerolog.Logger

	events    chan func()
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once

	// owned by the loop goroutine
	view         View
	seq          uint64
	applied      uint64
	inFlight     bool
	inFlightSeq  uint64
	timeoutTimer Timer
	pollTimer    Timer
	visible      bool

	mu       sync.RWMutex
	snapshot View

	resultHook func(seq uint64)
}

func New(fetcher StatusFetcher, opts Options) *Reconciler {
	if opts.PostRedirectTimeout <= 0 {
		opts.PostRedirectTimeout = DefaultPostRedirectTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Marker == nil {
		opts.Marker = &MemoryMarker{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		fetcher: fetcher,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "reconciler").Logger(),
		events:  make(chan func(), 16),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		visible: true,
	}
}

// Start runs the initial check, in post-redirect mode when the marker was set, and begins polling
func (r *Reconciler) Start() {
	r.startOnce.Do(func() {
		go r.loop()
		r.post(func() {
			if r.opts.Marker.Consume() {
				r.log.Debug().Msg("page load follows a login redirect")
				next := r.view
				next.IsLoadingStatus = true
				r.commit(next)
				r.check(postRedirectCheck, false)
			} else {
				r.check(normalCheck, false)
			}
			r.schedulePoll()
		})
	})
}

// Stop halts polling and discards any in-flight result. It is safe to call more than once.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		// A reconciler that was never started still needs its loop to process the stop
		r.startOnce.Do(func() { go r.loop() })
		r.post(func() {
			stopTimer(r.timeoutTimer)
			stopTimer(r.pollTimer)
			r.cancel()
			close(r.done)
		})
	})
}

// CheckNow requests an immediate check; it is dropped while another check is in flight
func (r *Reconciler) CheckNow() {
	r.post(func() { r.check(normalCheck, false) })
}

// SetVisible reports tab visibility. Becoming visible triggers a check unless one is pending.
func (r *Reconciler) SetVisible(visible bool) {
	r.post(func() {
		wasVisible := r.visible
		r.visible = visible
		if visible && !wasVisible && !r.inFlight {
			r.check(normalCheck, false)
		}
	})
}

// View returns the latest committed view
func (r *Reconciler) View() View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

func (r *Reconciler) loop() {
	for {
		select {
		case fn := <-r.events:
			fn()
		case <-r.done:
			return
		}
	}
}

// post hands fn to the loop. After Stop it is a no-op.
func (r *Reconciler) post(fn func()) {
	select {
	case r.events <- fn:
	case <-r.done:
	}
}

func (r *Reconciler) check(mode checkMode, force bool) {
	if r.ctx.Err() != nil {
		return
	}
	if r.inFlight && !force {
		r.log.Debug().Uint64("in_flight", r.inFlightSeq).Msg("check suppressed")
		return
	}
	r.seq++
	seq := r.seq
	r.inFlight = true
	r.inFlightSeq = seq

	if mode == postRedirectCheck {
		stopTimer(r.timeoutTimer)
		r.timeoutTimer = r.opts.Clock.AfterFunc(r.opts.PostRedirectTimeout, func() {
			r.post(func() { r.onTimeout(seq) })
		})
	}

	go func() {
		status, err := r.fetcher.FetchStatus(r.ctx)
		r.post(func() { r.onResult(seq, mode, status, err) })
	}()
}

func (r *Reconciler) onResult(seq uint64, mode checkMode, status Status, err error) {
	defer func() {
		if r.resultHook != nil {
			r.resultHook(seq)
		}
	}()

	if r.ctx.Err() != nil {
		return
	}
	if seq == r.inFlightSeq {
		r.inFlight = false
		stopTimer(r.timeoutTimer)
		r.timeoutTimer = nil
	}
	if seq <= r.applied {
		r.log.Debug().Uint64("seq", seq).Uint64("applied", r.applied).Msg("discarding stale status")
		return
	}
	r.applied = seq

	if err != nil {
		if errors.Is(err, apperrors.ErrRateLimited) {
			r.log.Debug().Msg("status check rate limited")
			if mode == postRedirectCheck && r.view.IsLoadingStatus {
				next := r.view
				next.IsLoadingStatus = false
				r.commit(next)
			}
			return
		}
		r.log.Warn().Err(err).Msg("status check failed")
		r.commitIfChanged(View{IsConnected: false, Error: "Unable to check the Intune connection: " + err.Error()})
		return
	}

	next := View{IsConnected: status.Active, Error: status.Error}
	if status.Active {
		next.TenantID = status.TenantID
		next.TenantName = status.TenantName
	}
	r.commitIfChanged(next)
}

func (r *Reconciler) onTimeout(seq uint64) {
	if !r.inFlight || seq != r.inFlightSeq {
		return
	}
	r.inFlight = false
	r.timeoutTimer = nil
	// The response may still arrive; marking the sequence applied makes it stale
	if seq > r.applied {
		r.applied = seq
	}
	r.log.Warn().Dur("timeout", r.opts.PostRedirectTimeout).Msg("post-login status check timed out")
	r.commit(View{IsConnected: false, Error: TimeoutMessage})
}

func (r *Reconciler) schedulePoll() {
	if r.ctx.Err() != nil {
		return
	}
	r.pollTimer = r.opts.Clock.AfterFunc(r.opts.PollInterval, func() {
		r.post(func() {
			if r.visible {
				r.check(normalCheck, false)
			}
			r.schedulePoll()
		})
	})
}

// commitIfChanged skips updates that would not change what the user sees
func (r *Reconciler) commitIfChanged(next View) {
	cur := r.view
	if cur.IsConnected == next.IsConnected &&
		cur.TenantID == next.TenantID &&
		cur.Error == next.Error &&
		!cur.IsLoadingStatus {
		return
	}
	r.commit(next)
}

func (r *Reconciler) commit(next View) {
	r.view = next
	r.mu.Lock()
	r.snapshot = next
	r.mu.Unlock()
	if r.opts.OnChange != nil {
		r.opts.OnChange(next)
	}
}

func stopTimer(t Timer) {
	if t != nil {
		t.Stop()
	}
}
