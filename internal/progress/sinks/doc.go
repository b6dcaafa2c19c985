// Package sinks implements progress.Sink consumers for fetch events: structured
// logs, Prometheus collectors, page body persistence to a blob store, and
// outcome notifications to a message publisher.
package sinks
