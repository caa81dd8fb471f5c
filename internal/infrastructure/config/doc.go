// Package config loads server configuration.
//
// Sources are applied in order, later ones overriding earlier ones:
//  1. Default()
//  2. The TOML file named by CONFIG_FILE
//  3. Environment variables, either prefixed (SCRIPTFLOW_SERVER_PORT) or short (PORT)
//
// Example file:
//
//	[script]
//	path = "app.js"
//	watch_globs = ["lib/**/*.js"]
//	run_on_save = true
//
//	[session]
//	grace_period = "5m"
//
//	[cache]
//	backend = "redis"
//	redis_url = "redis://localhost:6379/0"
package config
