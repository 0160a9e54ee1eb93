// Package progress carries tool progress narration from tool handlers to the
// chat stream of the conversation that triggered them.
//
// The Registry holds at most one Channel per conversation id. The stream
// coordinator Acquires the channel before the model starts, tool invocations
// Publish into it by id, and the coordinator Completes it when the request
// ends. Publishing never blocks and never fails the caller; events for a
// conversation with no open channel are dropped.
//
// Channels that are never completed are reaped by a cron job that runs
// SweepExpired every SweepInterval and removes channels older than TTL.
package progress
