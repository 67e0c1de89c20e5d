// Package sync imports orders from remote platforms into the database.
//
// # Engine
//
// Engine.Sync walks the remote order list for one shop and one change-time
// window, page by page starting at 1:
//
//   - Each order without line items is completed with a detail fetch. A
//     failed detail fetch is logged and the summary is imported instead; it
//     never aborts the page.
//   - Each order is imported through writer.OrderWriter in its own
//     transaction (customer upsert, order upsert, line item replace).
//   - After a page is persisted the resume cursor is advanced to the largest
//     change time seen so far. cursor.Store refuses to move a cursor back.
//   - The walk ends on an empty page, when the pagination meta says the last
//     page was reached, or at the configured page ceiling.
//
// A failure of the list call itself aborts the run with a RemoteListError;
// the next run starts again from the last persisted cursor. Re-importing a
// window is harmless because every import replaces what was stored.
//
// # Windows
//
// IncrementalWindow derives the next window from the stored cursor minus an
// overlap, so orders changed while the previous run was paging are picked up
// again. RefreshWindow is a fixed look-back used to catch status changes the
// remote does not report through change times.
//
// # Result
//
// Result carries the deduplicated variant codes and customer GUIDs touched
// by the run; the job layer enqueues metric recalculation for exactly those.
package sync
