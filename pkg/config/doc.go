// Package config loads the historydb configuration file.
//
// # Overview
//
// Configuration is a YAML document with three sections: the database the
// history lives in, the retention applied by the importer and the CLI, and
// the telemetry settings. Values missing from the file keep their defaults.
//
//	database:
//	  path: ~/.historydb/history.db
//	  max_open_conns: 4
//	  busy_timeout: 5s
//	history:
//	  max_items: 50
//	telemetry:
//	  log_level: info
//	  log_format: console
//	  tracing:
//	    enabled: false
//
// # Usage Example
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store, err := stores.NewSQLiteStore(cfg.StoreConfig())
package config
