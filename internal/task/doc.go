// Package task manages background job queuing, processing, and lifecycle.
// It provides a durable, at-least-once work queue for long-running
// operations like transforming the images of an ingested request or
// redelivering a webhook, ensuring they don't block HTTP request handling,
// are retried with exponential backoff, and can recover from application
// restarts.
package task
