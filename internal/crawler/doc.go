// Package crawler holds the queue item model, the partial update contract of
// the work queue, the normalized response, and the open request set shared by
// the fetch client and the dispatcher.
package crawler
