// Package conversation coordinates a single chat request from message to
// terminal marker.
//
// # Flow
//
//	st, err := svc.Begin(ctx, &conversation.StreamRequest{Message: "find metal suppliers"})
//	w.Header().Set("X-Conversation-ID", st.ConversationID())
//	st.Run(ctx, stream.NewWriter(w))
//
// Begin validates the message and resolves the conversation. A supplied id is
// reused only when it parses as a UUID, exists, and belongs to the caller (or
// to nobody); otherwise a fresh conversation is created.
//
// Run builds the prompt from the system prompt, the stored user and assistant
// turns and the new message, then runs two tasks:
//
//   - the model task forwards text deltas as content chunks
//   - the relay task forwards tool progress events as progress chunks
//
// Both stop on a shared hand-off context that the model task cancels right
// before its first text chunk. All chunks pass through one writer loop, the
// only caller of Sink.Send.
//
// # Finalization
//
// When both tasks are done the progress channel is completed, the exchange is
// saved unless the client went away, and the done chunk is written. Model
// failures become a single error chunk; save failures are logged and counted.
package conversation
