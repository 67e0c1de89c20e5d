// Package jobs binds the scheduled job types to the engines that do the work.
//
// A Runner consumes queue messages. For each message it resolves the
// handler and the effective options (catalog defaults, stored schedule
// overrides, message overrides), takes the job lock, records the run on the
// job_schedules row and calls the handler. A run whose lock is held
// elsewhere is skipped; the next trigger picks the work up again.
//
// Sync handlers enqueue customer and variant recalculation for the keys they
// touched, and customer recalculation enqueues tag rule evaluation, so
// derived data follows imports without running inline.
package jobs
