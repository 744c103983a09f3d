// Package config holds the engine settings that sit outside a patch: audio
// format, telemetry segment, uplink endpoint, logging and the health check.
//
// Settings are read from an optional YAML file over the defaults:
//
//	audio:
//	  sample_rate: 48000
//	  block_size: 128
//	  channels: 2
//	  deadline: 2ms
//	telemetry:
//	  path: /dev/shm/patchflow.telemetry
//	  interval: 500ms
//	uplink:
//	  url: http://localhost:3000
//	  namespace: /engine
//	log:
//	  level: debug
//	  format: auto
//	healthcheck_port: 8080
package config
