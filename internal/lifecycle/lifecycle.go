// Package lifecycle implements the outer reconnect loop (spec.md §4.7):
// endlessly race discovery against a handshake attempt, hand a successful
// handshake off to the streaming supervisor, classify whatever error ends
// that attempt, and rate-limit the next iteration.
package lifecycle

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"vrhostd/internal/discovery"
	"vrhostd/internal/errs"
	"vrhostd/internal/handshake"
	"vrhostd/internal/logging"
	"vrhostd/internal/session"
	"vrhostd/internal/telemetry"
)

// Discoverer is the subset of *discovery.Listener the lifecycle loop needs,
// broken out as an interface so tests can substitute a fake without a real
// UDP socket.
type Discoverer interface {
	Run(ctx context.Context) (discovery.ClientIdentity, error)
}

// Deps bundles everything one reconnect iteration needs.
type Deps struct {
	Discovery    Discoverer
	SessionStore *session.Store
	Logger       logging.Logger

	ControlPort int

	// Negotiate runs one handshake attempt against addr. Exposed as a
	// function field (rather than calling handshake.Negotiate directly)
	// so tests can substitute a fake without standing up a real dialer.
	Negotiate func(ctx context.Context, addr string) (handshake.Result, error)

	// RunStreaming runs the streaming supervisor for a successful
	// handshake result. Exposed the same way as Negotiate.
	RunStreaming func(ctx context.Context, res handshake.Result) error

	CleanupPause            time.Duration
	RetryConnectMinInterval time.Duration
}

// Run loops forever, or until ctx is canceled, or until an iteration ends
// with a Fatal-classified error (per spec.md §7, only a Fatal error stops
// the lifecycle loop outright; Soft and Hard errors are logged and the
// loop reconnects).
func Run(ctx context.Context, deps Deps) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		connID := uuid.New().String()

		var iterErr error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			iterErr = runIteration(ctx, deps)
			time.Sleep(deps.CleanupPause)
		}()
		go func() {
			defer wg.Done()
			time.Sleep(deps.RetryConnectMinInterval)
		}()
		wg.Wait()

		if iterErr == nil {
			continue
		}
		class := errs.ClassOf(iterErr)
		telemetry.ConnectionsTotal.WithLabelValues(class.String()).Inc()
		if class == errs.Fatal {
			if deps.Logger != nil {
				deps.Logger.WithField("connection_id", connID).WithField("error", iterErr).Error("connection pipeline ended fatally, stopping")
			}
			return iterErr
		}
		if deps.Logger != nil {
			deps.Logger.WithField("connection_id", connID).WithField("error", iterErr).WithField("class", class.String()).Warn("connection pipeline ended, reconnecting")
		}
	}
}

// runIteration executes one connection_pipeline: race discovery against a
// handshake attempt, hand a handshake success to the streaming supervisor,
// and return whatever error ends the chain.
func runIteration(ctx context.Context, deps Deps) error {
	res, err := connectionPipeline(ctx, deps)
	if err != nil {
		return err
	}
	telemetry.ConnectionsTotal.WithLabelValues("streaming").Inc()
	return deps.RunStreaming(ctx, res)
}

type discoveryOutcome struct {
	id  discovery.ClientIdentity
	err error
}

type handshakeOutcome struct {
	res handshake.Result
	err error
}

// connectionPipeline is the discovery∥handshake race from spec.md §4.7: a
// discovered, trusted client re-drives the race against just that IP;
// a successful handshake breaks out; discovery failure is hard; handshake
// failure is soft.
func connectionPipeline(ctx context.Context, deps Deps) (handshake.Result, error) {
	target := firstManualIP(deps.SessionStore)

	for {
		pctx, cancel := context.WithCancel(ctx)

		hsCh := make(chan handshakeOutcome, 1)
		if target != "" {
			go func(addr string) {
				res, err := deps.Negotiate(pctx, addr)
				hsCh <- handshakeOutcome{res, err}
			}(target)
		}

		discCh := make(chan discoveryOutcome, 1)
		go func() {
			id, err := deps.Discovery.Run(pctx)
			discCh <- discoveryOutcome{id, err}
		}()

		select {
		case o := <-hsCh:
			cancel()
			<-discCh // discovery.Run returns promptly once its conn is closed by cancel
			if o.err == nil {
				return o.res, nil
			}
			// Soft handshake failure: spec.md §4.7 returns ok and lets the
			// outer loop reconnect. Propagating the classified error (rather
			// than swallowing it here) lets Run's single error-handling
			// site decide whether to log-and-reconnect or stop, without
			// this function also needing to call the streaming supervisor.
			return handshake.Result{}, o.err

		case o := <-discCh:
			cancel()
			if target != "" {
				<-hsCh
			}
			if o.err != nil {
				return handshake.Result{}, errs.WrapHard(fmt.Errorf("lifecycle: discovery failed: %w", o.err))
			}
			target = net.JoinHostPort(o.id.IP.String(), fmt.Sprintf("%d", deps.ControlPort))
			// Re-loop to drive the handshake against precisely the
			// discovered, trusted client.
			continue
		}
	}
}

func firstManualIP(store *session.Store) string {
	ips := store.ManualIPs()
	if len(ips) == 0 {
		return ""
	}
	return ips[0]
}
