// Package ratelimit bounds outbound call rates.
//
// Window is a sliding-window log limiter that admits at most Rate grants per
// rolling Period and is used to throttle calls to hosted write APIs.
// HostLimiter is a per-host token bucket used by fetchers for politeness.
package ratelimit
