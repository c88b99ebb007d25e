package metrics

import (
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestAccumulator(t *testing.T) {
	Convey("Given a new accumulator", t, func() {
		acc := NewAccumulator()

		Convey("Then the snapshot is all zero", func() {
			So(acc.Snapshot(), ShouldResemble, Snapshot{})
		})

		Convey("When requests are recorded", func() {
			acc.Record(2, 10)
			acc.Record(0, 30)

			Convey("Then averages divide by the request count", func() {
				snap := acc.Snapshot()
				So(snap.TotalRequests, ShouldEqual, 2)
				So(snap.TotalDetections, ShouldEqual, 2)
				So(snap.TotalInferenceTimeMs, ShouldEqual, 40)
				So(snap.AvgInferenceTimeMs, ShouldEqual, 20)
				So(snap.AvgDetectionsPerImage, ShouldEqual, 1)
			})
		})

		Convey("When many goroutines record at once", func() {
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < 20; j++ {
						acc.Record(1, 0.5)
					}
				}()
			}
			wg.Wait()

			Convey("Then no update is lost", func() {
				snap := acc.Snapshot()
				So(snap.TotalRequests, ShouldEqual, 1000)
				So(snap.TotalDetections, ShouldEqual, 1000)
				So(snap.TotalInferenceTimeMs, ShouldAlmostEqual, 500, 1e-9)
			})
		})
	})
}

func TestCollectors(t *testing.T) {
	Convey("Given two collector sets", t, func() {
		a := NewCollectors()
		b := NewCollectors(WithNamespace("other"))

		Convey("Then each owns its registry", func() {
			a.RecordDetection(3, 12)
			a.RecordError("invalid_image")
			a.RecordHTTPRequest("/detect", "POST", "200", 4)
			a.SetPoolInUse(2)
			a.RecordPoolAcquire(1, true)

			families, err := a.Registry().Gather()
			So(err, ShouldBeNil)
			names := map[string]bool{}
			for _, f := range families {
				names[f.GetName()] = true
			}
			So(names["person_detection_detections_total"], ShouldBeTrue)
			So(names["person_detection_pool_acquire_failures_total"], ShouldBeTrue)

			other, err := b.Registry().Gather()
			So(err, ShouldBeNil)
			for _, f := range other {
				So(f.GetName(), ShouldStartWith, "other_")
			}
		})
	})
}
