// Package recorder writes audit records asynchronously.
//
// Record returns as soon as the record is queued; a single worker goroutine
// assigns the write timestamp, links the record into the hash chain, stores it
// and then hands it to every configured Publisher. A single writer keeps the
// chain order identical to the storage order.
//
// Close stops intake, drains the queue and closes the publishers:
//
//	rec, err := recorder.NewRecorder(ctx, store, recorder.DefaultConfig(),
//	    recorder.WithPublishers(kafkaPublisher),
//	)
//	defer rec.Close()
package recorder
