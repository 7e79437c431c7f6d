package abtrack

import (
	"context"
	"fmt"

	"github.com/randalmurphal/abtrack/pkg/abtrack/config"
	"github.com/randalmurphal/abtrack/pkg/abtrack/schedule"
	"github.com/randalmurphal/abtrack/pkg/abtrack/transport"
)

// Open builds a Client from settings: the configured store, an HTTP
// transport to the collector, and a TCP probe when retry.probe_addr is set.
// The client owns the store and closes it on Close.
//
// Options are applied after the ones derived from settings.
func Open(s config.Settings, opts ...Option) (*Client, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	st, err := config.OpenStore(s.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	tr, err := transport.NewHTTP(transport.Config{
		URL:      s.Collector.URL,
		EchoPath: s.Collector.EchoPath,
		Headers:  s.Collector.Headers,
		Timeout:  s.Collector.Timeout,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	base := []Option{
		WithRetryInterval(s.Retry.Interval),
		WithAttemptTimeout(s.Collector.Timeout),
	}
	if s.Seed != nil {
		base = append(base, WithSeed(*s.Seed))
	}

	var probe *schedule.Probe
	if s.Retry.ProbeAddr != "" {
		logger := newClientConfig(opts).logger
		probe = schedule.NewProbe(s.Retry.ProbeAddr, s.Retry.ProbeInterval, logger)
		base = append(base, WithConnectivity(probe))
	}

	c, err := New(st, tr, append(base, opts...)...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	if probe != nil {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			probe.Run(ctx)
		}()
		c.addCloser(func() error {
			cancel()
			<-done
			return nil
		})
	}
	c.addCloser(st.Close)
	return c, nil
}
