// Package event carries change notifications from the merge engine to
// rendering collaborators.
//
// An Event is published exactly once per completed expansion and never
// for a failed one. The in-process Bus fans events out to subscribers;
// NATSPublisher forwards them to a NATS subject for out-of-process
// consumers.
package event
