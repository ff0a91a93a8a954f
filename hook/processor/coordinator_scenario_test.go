package processor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"inviqa/layer-hook-relay/arcgis"
	arcgistest "inviqa/layer-hook-relay/arcgis/test"
	"inviqa/layer-hook-relay/hook"
	hooktest "inviqa/layer-hook-relay/hook/test"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMixedBatchAgainstFeatureLayer(t *testing.T) {
	Convey("Given a feature layer and a batch of three hook records", t, func() {
		srv := arcgistest.NewFeatureServer()
		defer srv.Close()

		dispatcher := arcgis.NewDispatcher(srv.Client(), arcgis.NewRetryPolicy(3, time.Millisecond, 10*time.Millisecond))
		coordinator := NewCoordinator(dispatcher, 4, 0, nil)

		a := hooktest.NewPayload(srv.LayerURL())
		b := hooktest.NewPayload(srv.LayerURL()).
			Set("feat.id", "B").
			Set("secrets.expires", float64(time.Now().Add(-time.Minute).Unix()))
		c := hooktest.NewPayload(srv.LayerURL()).Set("feat.id", "C").Without("body.url")

		records := []hook.Record{
			{ID: "A", Body: a.Bytes()},
			{ID: "B", Body: b.Bytes()},
			{ID: "C", Body: c.Bytes()},
		}

		Convey("When the batch is processed", func() {
			out := coordinator.ProcessBatch(context.Background(), records)

			Convey("Then only the expired and the incomplete record are reported as failed", func() {
				So(out.FailedRecordIDs(), ShouldResemble, []string{"B", "C"})
				So(out.Outcomes[0].Success(), ShouldBeTrue)
			})

			Convey("And the expired record fails on its token", func() {
				So(errors.Is(out.Outcomes[1].Err, hook.ErrTokenExpired), ShouldBeTrue)
			})

			Convey("And the incomplete record fails on the missing url", func() {
				var de *hook.DecodeError
				So(errors.As(out.Outcomes[2].Err, &de), ShouldBeTrue)
				So(de.Kind, ShouldEqual, hook.MissingField)
				So(de.Field, ShouldEqual, "url")
			})

			Convey("And only the valid feature reached the layer", func() {
				So(srv.Features(), ShouldHaveLength, 1)
				So(srv.FeaturesWithUID("ANDROID-1234"), ShouldHaveLength, 1)
			})

			Convey("And redelivering the valid record does not duplicate the feature", func() {
				again := coordinator.ProcessBatch(context.Background(), records[:1])
				So(again.Failures(), ShouldBeEmpty)
				So(srv.Features(), ShouldHaveLength, 1)
				So(srv.RequestCount("addFeatures"), ShouldEqual, 1)
				So(srv.RequestCount("updateFeatures"), ShouldEqual, 1)
			})
		})

		Convey("When one batch carries the same record several times", func() {
			var dup []hook.Record
			for i := 0; i < 8; i++ {
				dup = append(dup, hook.Record{ID: fmt.Sprintf("A%d", i), Body: a.Bytes()})
			}
			out := NewCoordinator(dispatcher, 8, 0, nil).ProcessBatch(context.Background(), dup)

			Convey("Then every copy succeeds and the layer holds one feature", func() {
				So(out.Failures(), ShouldBeEmpty)
				So(srv.FeaturesWithUID("ANDROID-1234"), ShouldHaveLength, 1)
				So(srv.RequestCount("addFeatures"), ShouldEqual, 1)
				So(srv.RequestCount("updateFeatures"), ShouldEqual, 7)
			})
		})

		Convey("When the layer keeps failing", func() {
			srv.FailAll(503)
			out := coordinator.ProcessBatch(context.Background(), records[:1])

			Convey("Then the record is reported as a retriable failure after every attempt was made", func() {
				So(out.FailedRecordIDs(), ShouldResemble, []string{"A"})
				So(out.Outcomes[0].Retriable(), ShouldBeTrue)
				So(srv.RequestCount("query"), ShouldEqual, 3)
			})
		})
	})
}
