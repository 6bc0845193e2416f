// Package dedupe suppresses repeated events within a time window.
//
// The realtime client uses it to drop duplicate completion events: a service
// configured for both audio and text output can finish the same response item
// once per modality, and the transcript must only record it once.
package dedupe
