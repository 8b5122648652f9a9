// Package notifier delivers one alert per stock transition.
//
// A Dispatcher formats the alert, paces sends with a token bucket, bounds each
// send with its own timeout and reports the outcome as a DeliveryResult. It
// never returns an error: a failed delivery is logged, counted and recorded in
// a small in-memory history so it cannot abort the rest of a cycle.
//
// # Sinks
//
// Delivery is delegated to a Sender (Telegram or Kafka, see
// internal/transport). Without a configured Sender every call short-circuits
// to Failed("not configured"), which is the normal mode for local runs.
package notifier
