package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	PointsReplayed    atomic.Int64
	RowsSkipped       atomic.Int64
	EventsDetected    atomic.Int64
	PersistDrops      atomic.Int64
	PersistFailures   atomic.Int64
	PersistSuccess    atomic.Int64
	BroadcastPrunes   atomic.Int64
	MessagesPublished atomic.Int64
)

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "replay_points_total %d\n", PointsReplayed.Load())
	fmt.Fprintf(w, "replay_rows_skipped_total %d\n", RowsSkipped.Load())
	fmt.Fprintf(w, "detect_events_total %d\n", EventsDetected.Load())
	fmt.Fprintf(w, "persist_drops_total %d\n", PersistDrops.Load())
	fmt.Fprintf(w, "persist_failures_total %d\n", PersistFailures.Load())
	fmt.Fprintf(w, "persist_success_total %d\n", PersistSuccess.Load())
	fmt.Fprintf(w, "broadcast_prunes_total %d\n", BroadcastPrunes.Load())
	fmt.Fprintf(w, "broadcast_messages_total %d\n", MessagesPublished.Load())
}
