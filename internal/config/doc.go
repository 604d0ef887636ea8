// Package config loads process settings for taskcore from environment
// variables.
//
// Every key has a default suitable for local development. Redis, the event
// stream backend and the dependency probes stay disabled until their
// addresses are set. Step pipelines live in a separate YAML file named by
// PIPELINES_FILE and are parsed by the pipeline package.
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv := http.NewServer(&http.Config{Port: cfg.HTTPPort, ...})
package config
