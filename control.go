package aerogpu

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aerovirt/aerogpu/devsim"
	"github.com/aerovirt/aerogpu/protocol"
	"github.com/sirupsen/logrus"
)

// Control wires the adapter, the device model and the deferred worker into
// one lifecycle. Main builds it; the daemon wrappers drive it.
type Control struct {
	a          *Adapter
	dev        *devsim.Device
	l          *logrus.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	statsStart func()
	reportEach time.Duration
	soakEach   time.Duration
	done       chan struct{}
}

// Start runs the adapter, this is a nonblocking call. To block use
// Control.ShutdownBlock()
func (c *Control) Start() {
	go c.a.runDeferred(c.ctx)

	go func() {
		if err := c.dev.Run(c.ctx); err != nil && c.ctx.Err() == nil {
			c.l.WithError(err).Error("Device model stopped unexpectedly")
		}
	}()

	if c.statsStart != nil {
		go c.statsStart()
	}

	if c.reportEach > 0 {
		go c.reportLoop()
	}

	if c.soakEach > 0 {
		go c.soakLoop()
	}
}

// soakLoop submits a small render plus present on the configured cadence to
// keep fences moving through the ring. Backpressure skips the tick.
func (c *Control) soakLoop() {
	b := protocol.NewBuilder(0)
	b.Append(&protocol.Clear{Flags: 1})
	b.Append(&protocol.Draw{VertexCount: 3})
	b.Append(&protocol.Present{})
	stream := b.Bytes()

	t := time.NewTicker(c.soakEach)
	defer t.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
			_, err := c.a.Submit(stream, nil, protocol.SubmitRender)
			switch {
			case err == nil:
			case errors.Is(err, ErrRingFull), errors.Is(err, ErrArenaExhausted):
				c.l.WithError(err).Debug("Soak submission skipped")
			case errors.Is(err, ErrAdapterFailed):
				c.l.WithError(err).Error("Soak loop stopping, adapter failed")
				return
			default:
				c.l.WithError(err).Error("Soak submission failed")
			}
		}
	}
}

// reportLoop logs fence throughput on the configured cadence.
func (c *Control) reportLoop() {
	t := time.NewTicker(c.reportEach)
	defer t.Stop()

	prev := c.a.PerfSnapshot()
	last := time.Now()
	for {
		select {
		case <-c.ctx.Done():
			return
		case now := <-t.C:
			cur := c.a.PerfSnapshot()
			d := ComputeFenceDelta(prev, cur, now.Sub(last).Seconds())
			fields := logrus.Fields{
				"submitted": d.DeltaSubmitted,
				"completed": d.DeltaCompleted,
				"perSecond": d.CompletedPerSec,
				"pending":   c.a.PendingCount(),
			}
			if d.Reset {
				c.l.WithFields(fields).Warn("Fence counters moved backward")
			} else {
				c.l.WithFields(fields).Info("Fence throughput")
			}
			prev, last = cur, now
		}
	}
}

// Stop signals everything to shut down, returns after the shutdown is
// complete
func (c *Control) Stop() {
	c.cancel()
	close(c.done)
	c.l.Info("Goodbye")
}

// ShutdownBlock will listen for and block on term and interrupt signals,
// calling Control.Stop() once signalled
func (c *Control) ShutdownBlock() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, syscall.SIGINT)

	select {
	case rawSig := <-sigChan:
		sig := rawSig.String()
		c.l.WithField("signal", sig).Info("Caught signal, shutting down")
		c.Stop()
	case <-c.done:
	}
}

// Adapter exposes the running adapter for tooling built on top of Control.
func (c *Control) Adapter() *Adapter {
	return c.a
}
