/*
Package abtrack assigns sessions to experiment variants and delivers
exposure and interaction events to a remote collector, buffering them
durably while the network is unreliable.

# Overview

A Client pairs two pieces of state, both mirrored to a store.Store:

  - the assignment map: one variant per experiment, drawn once from the
    experiment's weighted allocations and never re-rolled
  - the retry queue: events whose immediate delivery failed, in order

Tracking an event tries to deliver it at once. On failure the event is
appended to the queue and the whole queue is written to the store. A
scheduler drains the queue when the client starts, when connectivity
returns, and on a fixed interval while online. Each drain pass attempts
every queued event in order and keeps only the ones that failed again.

# Basic Usage

	st, err := store.NewSQLiteStore("abtrack.db")
	if err != nil {
	    log.Fatal(err)
	}
	tr, err := transport.NewHTTP(transport.Config{URL: "https://collector.example.com/events"})
	if err != nil {
	    log.Fatal(err)
	}

	client, err := abtrack.New(st, tr)
	if err != nil {
	    log.Fatal(err)
	}
	defer client.Close()

	err = client.Init(ctx, []assign.Experiment{{
	    ID: "homepage_banner",
	    Variants: []assign.Variant{
	        {Name: "control", Allocation: 50},
	        {Name: "treatment", Allocation: 50},
	    },
	}})

	variant, err := client.Variant("homepage_banner")
	client.TrackExposure(ctx, "homepage_banner")

# From a Config File

	settings, err := config.LoadSettings("abtrack.yaml")
	client, err := abtrack.Open(settings, abtrack.WithLogger(logger))
	err = client.Init(ctx, settings.Experiments)
	err = client.WatchExperiments("abtrack.yaml")

# Connectivity

By default the client assumes it is always online. Hosts that know their
network state pass a schedule.Switch and flip it; Open uses a TCP probe
when retry.probe_addr is configured.

# Failure Model

Delivery failures of any kind are retried on every pass with no limit and
no backoff. Store failures are logged and counted; the in-memory state stays
authoritative and the next successful write reconciles the store. Track
never returns an error.
*/
package abtrack
