// Package network publishes scheduling outcomes to downstream consumers.
//
// This package implements:
//   - ResultPublisher: ZeroMQ PUB socket broadcasting block summaries
//   - ResultSubscriber: ZeroMQ SUB socket receiving them
package network
