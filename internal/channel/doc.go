// Package channel implements the resilient notification channel.
//
// A Channel owns one logical connection to the server:
//   - Connect opens a transport handle; the state machine moves
//     Disconnected -> Connecting -> Connected
//   - A close or failure stops the heartbeat and schedules a retry with
//     exponential backoff until the attempt ceiling is reached
//   - Send transmits immediately when connected and queues otherwise;
//     the queue is flushed in order after every successful open
//   - Inbound frames are emitted under their own event name and under
//     EventMessage, in transport order, from a single dispatch goroutine
//
// Listeners may call back into the Channel, including Disconnect.
package channel
