// Package campaign implements campaign lifecycle management outside the
// executor: creation with its workflow entries, listing, deletion of
// finished campaigns, and re-enqueueing entries for another attempt.
//
// Creation snapshots the message templates and attachment onto every
// workflow entry, so edits to the campaign after creation never change what
// an already-queued contact receives. Start/pause/resume/stop live in the
// worker orchestrator; this service never touches a running campaign except
// to refuse the operations that would race it.
package campaign
