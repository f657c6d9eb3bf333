// Package delivery consumes the durable queue and forwards each extracted
// record to the downstream endpoint.
//
// Every claimed item ends in exactly one of three outcomes: delivered
// (2xx or 409), requeued after an inline backoff sleep (429, 5xx, timeouts
// and connection failures), or dead-lettered (validation failures, other
// 4xx, or retries exhausted). Source files are removed on both terminal
// outcomes and kept while an item is requeued.
package delivery
