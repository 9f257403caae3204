// Package config loads the JSON configuration of riskpilotd. The file path
// comes from RISKPILOT_CONFIG and defaults to configs/riskpilot.json; relative
// paths inside the file are resolved against its directory and secrets are
// read from the environment variables the file names.
package config
