/*
Package config loads abtrack configuration from YAML or JSON files.

# Overview

Config wraps a parsed document and provides typed accessors that return a
default when a key is missing or has the wrong type. Keys may be dotted
paths into nested sections:

	cfg, err := config.FromFile("abtrack.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	url := cfg.String("collector.url", "https://httpbin.org/post")
	interval := cfg.Duration("retry.interval", 10*time.Second)

# Settings

Settings is the typed view used by abtrack.Open and the CLI:

	collector:
	  url: https://collector.example.com/events
	  echo_path: json.event
	  timeout: 10s
	  headers:
	    X-Api-Key: secret
	retry:
	  interval: 10s
	  probe_addr: collector.example.com:443
	store:
	  driver: sqlite        # memory | sqlite | file
	  path: abtrack.db
	  retry_attempts: 3
	seed: 42
	experiments:
	  - id: homepage_banner
	    variants:
	      - {name: control, allocation: 50}
	      - {name: treatment, allocation: 50}

Absent keys take the values from DefaultSettings. OpenStore builds the
configured store.

# Hot Reload

Watcher re-reads the file when it changes and hands the new Settings to a
callback. The client uses it to register experiments added while running;
existing assignments are never changed by a reload.
*/
package config
