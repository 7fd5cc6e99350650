// Package events implements the typed session event channel used to decouple
// forced-logout propagation from the component that detected the failure.
//
// Two delivery paths exist:
//
//   - [Bus]: synchronous fan-out with disposable [Subscription] handles, used
//     by the lifecycle manager itself so a logout trigger is observed before
//     the triggering call returns.
//   - [Dispatcher]: buffered asynchronous forwarding to a caller-provided
//     [Sink], used for external observers (cache invalidation, logging) that
//     must never block session transitions.
//
// # What this package must NOT do
//
//   - Import authsession or any sibling package.
//   - Perform session state transitions; it only carries notifications.
package events
