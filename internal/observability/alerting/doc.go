// Package alerting fans risk and task failure events out to log and webhook
// channels.
package alerting
