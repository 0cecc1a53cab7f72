package camera

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stats holds the camera metrics.
type Stats struct {
	reg *prometheus.Registry

	opens           prometheus.Counter
	openFailures    prometheus.Counter
	pictures        prometheus.Counter
	pictureFailures *prometheus.CounterVec
	recordings      prometheus.Counter
	recordFailures  prometheus.Counter
	deviceErrors    *prometheus.CounterVec
	openDevices     prometheus.Gauge
	recording       prometheus.Gauge
}

func NewStats() *Stats {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return &Stats{
		reg: reg,

		opens: f.NewCounter(prometheus.CounterOpts{
			Name: "owlcam_opens",
			Help: "Camera opens that reached an active preview",
		}),
		openFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "owlcam_open_failures",
			Help: "Camera opens that failed",
		}),
		pictures: f.NewCounter(prometheus.CounterOpts{
			Name: "owlcam_pictures",
			Help: "Still pictures written to their destination",
		}),
		pictureFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "owlcam_picture_failures",
			Help: "Failed still pictures by cause",
		}, []string{"cause"}),
		recordings: f.NewCounter(prometheus.CounterOpts{
			Name: "owlcam_recordings",
			Help: "Video recordings finished successfully",
		}),
		recordFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "owlcam_recording_failures",
			Help: "Video recordings that failed to start or stop",
		}),
		deviceErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "owlcam_device_errors",
			Help: "Asynchronous device errors by description",
		}, []string{"description"}),
		openDevices: f.NewGauge(prometheus.GaugeOpts{
			Name: "owlcam_open_devices",
			Help: "Device handles currently held",
		}),
		recording: f.NewGauge(prometheus.GaugeOpts{
			Name: "owlcam_recording",
			Help: "1 while a video recording is in progress",
		}),
	}
}

// Registry is the registry the metrics are registered in.
func (s *Stats) Registry() *prometheus.Registry {
	return s.reg
}
