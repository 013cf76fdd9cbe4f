// Package crawler defines the job, result and handler types shared by the
// queue, the stores and the dispatcher, plus the error taxonomy the poll loop
// acts on.
package crawler
