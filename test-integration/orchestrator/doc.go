// Package integration runs the whole orchestrator, HTTP API, worker pool and
// cron trigger against in-memory stores and a fake storefront API.
package integration
