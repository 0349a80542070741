// Package config loads and validates the bridge configuration.
//
// Configuration is read from a YAML file, overlaid on hardcoded defaults,
// and finally overridden by SCHEIBER_* environment variables. The device
// list describes which Bloc9 outputs are exposed as Home Assistant
// entities; everything the routing layer depends on (unique device ids,
// valid slots, globally unique entity ids) is enforced here, at startup,
// so the rest of the system can treat the configuration as trusted.
//
// A configuration error is fatal: the process exits non-zero rather than
// running with a partial entity set.
package config
