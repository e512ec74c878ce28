// Package config provides centralized configuration management for the dexd
// runtime, covering the HTTP surface, chain endpoints, the token registry,
// engine fee/nonce parameters, venue router addresses and the order pipeline
// backends. Values not present in the configuration file receive conservative
// defaults suitable for a single-account deployment.
package config
