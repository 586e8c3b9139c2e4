package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	PanicCounterVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobscheduler",
		Name:      "http_panic_total",
		Help:      "panic total counter.",
	}, []string{"method", "path"})
)

// Register 注册进程级采集器,重复注册时忽略
func Register(registerer prometheus.Registerer) error {
	if err := registerer.Register(PanicCounterVec); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			return err
		}
	}
	return nil
}
