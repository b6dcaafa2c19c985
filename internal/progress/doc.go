// Package progress carries the fetch lifecycle events (queueerror,
// fetchheaders, fetchcomplete, fetchtimeout, fetchclienterror) from the fetch
// client to interested consumers. Hub batches events on a background goroutine
// and fans them out to pluggable sinks; Listeners delivers them inline.
package progress
