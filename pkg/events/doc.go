/*
Package events provides an in-memory broker for deployment lifecycle events.

The orchestrator publishes an event at every pipeline transition. Subscribers
such as the deployment metrics recorder consume them without the pipeline
knowing they exist.

# Architecture

	Orchestrator ──Publish──▶ event channel (buffer: 256)
	                                │
	                          broadcast loop
	                                │
	                ┌───────────────┼───────────────┐
	                ▼               ▼               ▼
	          subscriber      subscriber      subscriber
	          (buffer: 128)   (buffer: 128)   (buffer: 128)

Publishing never blocks on a slow subscriber: a full subscriber buffer
drops the event for that subscriber only.

# Event Types

	deploy.started / deploy.succeeded / deploy.failed
	step.started / step.succeeded / step.skipped / step.failed
	rollback.started / rollback.succeeded / rollback.failed
	backup.created / backup.pruned
	release.live

Step events carry the step name and, when finished, its duration.

# Shutdown

Stop flushes events that are already queued, then closes every subscriber
channel, so a consumer ranging over its channel sees every event published
before Stop and then terminates:

	broker := events.NewBroker()
	broker.Start()
	sub := broker.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub {
			fmt.Println(ev.Type, ev.Step)
		}
	}()

	broker.Publish(&events.Event{Type: events.EventDeployStarted})
	broker.Stop()
	<-done
*/
package events
