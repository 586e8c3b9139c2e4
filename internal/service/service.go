package service

import (
	"jobscheduler/internal/scheduler"
	"jobscheduler/internal/service/job"
	"jobscheduler/internal/store"
)

type Service interface {
	Jobs() job.JobSrv
	// Started reports whether the scheduler fires triggers
	Started() bool
}

func NewService(stores store.Factory, sched *scheduler.Service) Service {
	return &service{stores: stores, sched: sched}
}

type service struct {
	stores store.Factory
	sched  *scheduler.Service
}

func (s *service) Jobs() job.JobSrv {
	return job.NewJobSrv(s.stores, s.sched)
}

func (s *service) Started() bool {
	return s.sched.IsStarted()
}
