// Package distmon keeps per-process monitors and merges the sample history of
// many instances of the same logical monitor into one attributable view.
//
// A Monitor tracks one metric on one instance and exposes four slots (value,
// min, max, maxactive). Each slot holds at most one root Listener, which may be
// a CompositeListener fanning out to children. BufferListeners keep a bounded
// history of rows under a FIFO, max or min acceptance policy.
//
// MergeBufferData copies every buffered row of a source monitor into
// "<name>_aggregated" buffer listeners on a destination monitor, creating them
// with DefaultBufferSize capacity when missing and tagging each row label with
// the source instance name. Merges into one destination must not overlap; an
// Aggregator serializes them per destination.
//
// Basic usage:
//
//	config := distmon.DefaultConfig()
//	config.ServiceName = "orders"
//	config.RemoteWriteURL = "http://prometheus:9090/api/v1/write"
//
//	if err := distmon.Init(config); err != nil {
//	  log.Fatal(err)
//	}
//	defer distmon.Shutdown()
//
//	mon := distmon.Get("reqTime", "ms")
//	mon.AddListener(distmon.MetricValue, distmon.NewFIFOBuffer("", 100))
//	mon.AddDetail(12, "select *")
//
//	combined, err := distmon.Combine(ctx, "reqTime", "ms")
package distmon
