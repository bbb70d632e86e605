package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsOptions(t *testing.T) {
	Convey("Given metrics options", t, func() {
		Convey("When creating options", func() {
			namespaceOpt := WithNamespace("test-namespace")
			subsystemOpt := WithSubsystem("test-subsystem")
			metricPrefixOpt := WithMetricPrefix("test-prefix")
			histogramBucketsOpt := WithHistogramBuckets([]float64{0.1, 0.5, 1.0})
			metricsEnabledOpt := WithMetricsEnabled(true)
			refreshIntervalOpt := WithRefreshInterval(5 * time.Second)
			customLabelsOpt := WithCustomLabels(map[string]string{"env": "test"})

			Convey("Then they should be valid functions", func() {
				So(namespaceOpt, ShouldNotBeNil)
				So(subsystemOpt, ShouldNotBeNil)
				So(metricPrefixOpt, ShouldNotBeNil)
				So(histogramBucketsOpt, ShouldNotBeNil)
				So(metricsEnabledOpt, ShouldNotBeNil)
				So(refreshIntervalOpt, ShouldNotBeNil)
				So(customLabelsOpt, ShouldNotBeNil)
			})
		})
	})
}

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test-namespace"),
				WithSubsystem("test-subsystem"),
				WithMetricPrefix("test-prefix"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithMetricsEnabled(true),
				WithRefreshInterval(10*time.Second),
				WithCustomLabels(map[string]string{"env": "test", "version": "1.0"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given metrics recording", t, func() {
		Convey("When recording cycle metrics", func() {
			Convey("Then it should record cycle outcomes", func() {
				So(func() {
					RecordCycle("success")
					RecordCycle("failed")
					RecordCycle("validation_failed")
				}, ShouldNotPanic)
			})

			Convey("And it should record validation findings", func() {
				So(func() {
					RecordValidationError("STALE_DATA")
					RecordValidationWarning("LOW_ACTIVITY_CORRELATION")
				}, ShouldNotPanic)
			})

			Convey("And it should observe scores", func() {
				So(func() {
					ObserveScore(78)
					ObserveScore(0)
					ObserveScore(100)
				}, ShouldNotPanic)
			})
		})

		Convey("When recording allocation metrics", func() {
			So(func() {
				RecordAllocation()
				RecordAllocationTimeout()
				AddGrantedUSD(4_118.40)
				UpdatePoolRemaining("2026-08", 45_881.60)
				RecordAllocationLatency(12.5)
				RecordSignatureFailure()
			}, ShouldNotPanic)
		})

		Convey("When recording collector metrics", func() {
			So(func() {
				RecordCollectorLatency("github", 350)
				RecordCollectorLatency("chain", 120)
				RecordCollectorError("github")
			}, ShouldNotPanic)
		})

		Convey("When recording queue and worker metrics", func() {
			So(func() {
				UpdateQueueSize(42)
				UpdateQueueCapacity(10_000)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				UpdateWorkerCount(8)
				RecordWorkerProcessingLatency(57)
				RecordWorkerError()
			}, ShouldNotPanic)
		})

		Convey("When recording HTTP metrics", func() {
			So(func() {
				RecordHTTPRequest("rewards", "GET", "200")
				RecordHTTPRequestDuration("rewards", "GET", "200", 5.2)
			}, ShouldNotPanic)
		})

		Convey("When recording system metrics", func() {
			So(func() {
				UpdateSystemMemoryUsage(64 << 20)
				UpdateSystemGoroutineCount(120)
				RecordSystemGCPauseTime(0.8)
			}, ShouldNotPanic)
		})
	})
}

func TestGetRegistry(t *testing.T) {
	Convey("Given the package registry", t, func() {
		Convey("When fetching it", func() {
			registry := GetRegistry()

			Convey("Then it should gather the registered metrics", func() {
				So(registry, ShouldNotBeNil)

				RecordCycle("success")
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)
			})
		})
	})
}
