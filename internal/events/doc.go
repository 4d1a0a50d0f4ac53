// Package events publishes the notifications of the sync controller.
//
// One event is emitted per sync operation status transition, per application
// phase transition and per terminal action outcome, plus application
// registration, policy updates and removal.
//
// Components:
//
//   - Bus: non-blocking fan-out to subscribers with a bounded list of recent
//     events. Slow subscribers lose events; drops are logged and counted.
//   - EventGenerator: renders messages and publishes typed events.
//   - MessageTemplateEngine: text/template with the sprig function map, one
//     template per reason, replaceable at runtime.
//   - RunLogSink: writes every event through pkg/logging.
//
// Usage:
//
//	bus := events.NewBus(0)
//	gen := events.NewEventGenerator(bus)
//	go events.RunLogSink(ctx, bus, 256)
//
//	ch, cancel := bus.Subscribe(64)
//	defer cancel()
//	gen.PhaseEvent("guestbook", api.PhaseSyncing, api.PhaseSynced, "")
//	e := <-ch
package events
