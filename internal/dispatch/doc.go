// Package dispatch connects the notification transport to dataset queues.
//
// Run performs the startup bootstrap (one bulk rebuild per dataset, in
// parallel across datasets), then subscribes to every configured channel
// and routes each notification to the queues of the datasets listening on
// it. Payloads that fail validation are logged and dropped.
//
// A nil notification from the Subscriber means the transport reconnected
// and notifications may have been lost; every dataset is then queued for
// a bulk rebuild.
package dispatch
