// Package progress serves the coordinator's Snapshot stream over HTTP and
// websocket, built on fastview's generic unidirectional websocket
// publisher.
package progress

import (
	"html/template"
	"net/http"

	"github.com/Ghastn/terastructure/internal/coordinator"
	"github.com/Ghastn/terastructure/server/fastview"
)

// Broadcaster holds the latest Snapshot and republishes it to every
// websocket client connecting to /ws. Intended for a single viewer: a
// second concurrent viewer works (each gets its own NewClient
// subscription), but both race to drain the same single-slot updates
// channel, so a snapshot delivered to one may be missed by the other.
// Fixing that would mean fanning Publish out per-connection
// (channerics.Broadcast) at the cost of dynamic subscriber bookkeeping this
// dashboard doesn't need.
type Broadcaster struct {
	updates chan coordinator.Snapshot
}

// NewBroadcaster returns an empty Broadcaster ready to accept Publish calls.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{updates: make(chan coordinator.Snapshot, 1)}
}

// Publish hands the latest snapshot to the broadcaster, discarding any
// unpublished snapshot still sitting in the buffer. Latest wins.
func (b *Broadcaster) Publish(s coordinator.Snapshot) {
	select {
	case b.updates <- s:
		return
	default:
	}
	select {
	case <-b.updates:
	default:
	}
	select {
	case b.updates <- s:
	default:
	}
}

// OnSnapshot adapts Publish to the coordinator's OnSnapshot hook signature.
func (b *Broadcaster) OnSnapshot(s coordinator.Snapshot) {
	b.Publish(s)
}

// ServeWS upgrades the request to a websocket and streams snapshots to it
// until the client disconnects or the request context is cancelled.
func (b *Broadcaster) ServeWS(w http.ResponseWriter, r *http.Request) {
	cli, err := fastview.NewClient[coordinator.Snapshot](b.updates, w, r)
	if err != nil {
		return
	}
	_ = cli.Sync()
}

// ServeIndex serves a minimal page that opens the websocket and renders
// each incoming snapshot as formatted JSON.
func (b *Broadcaster) ServeIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = indexTemplate.Execute(w, nil)
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>terastructure progress</title></head>
<body>
<pre id="snapshot">waiting for first snapshot...</pre>
<script>
const pre = document.getElementById("snapshot");
const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = (evt) => {
	pre.textContent = JSON.stringify(JSON.parse(evt.data), null, 2);
};
ws.onclose = () => { pre.textContent += "\n(disconnected)"; };
</script>
</body>
</html>
`))
