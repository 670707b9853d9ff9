package progress

import (
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/Ghastn/terastructure/internal/coordinator"
)

func TestPublishDropsStaleSnapshot(t *testing.T) {
	Convey("Given a broadcaster with one buffered slot", t, func() {
		b := NewBroadcaster()

		b.Publish(coordinator.Snapshot{Iter: 1})
		b.Publish(coordinator.Snapshot{Iter: 2})

		Convey("Only the latest snapshot is queued", func() {
			So(len(b.updates), ShouldEqual, 1)
			So((<-b.updates).Iter, ShouldEqual, 2)
		})
	})
}

func TestOnSnapshotAdaptsToCoordinatorHook(t *testing.T) {
	Convey("Given a broadcaster used as a coordinator.OnSnapshot hook", t, func() {
		b := NewBroadcaster()
		var hook func(coordinator.Snapshot) = b.OnSnapshot

		hook(coordinator.Snapshot{Iter: 7, X: 3})

		Convey("The snapshot reaches the update channel", func() {
			got := <-b.updates
			So(got.Iter, ShouldEqual, 7)
			So(got.X, ShouldEqual, 3)
		})
	})
}

func TestServeIndexRendersPage(t *testing.T) {
	Convey("Given a broadcaster's index handler", t, func() {
		b := NewBroadcaster()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		b.ServeIndex(rec, req)

		Convey("It returns 200 with an html body referencing the websocket", func() {
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, "WebSocket")
		})
	})
}
