package service

import (
	"github.com/fleetworks/jobfleet/internal/events"
	"github.com/fleetworks/jobfleet/internal/jobs"
	"github.com/fleetworks/jobfleet/internal/store"
)

// ServiceHandler implements the job management surface consumed by the HTTP
// layer.
type ServiceHandler struct {
	store    store.Store
	defs     *jobs.DefinitionRegistry
	enqueuer *jobs.Enqueuer
	producer *events.EventProducer
}

func NewServiceHandler(s store.Store, defs *jobs.DefinitionRegistry, enqueuer *jobs.Enqueuer, producer *events.EventProducer) *ServiceHandler {
	return &ServiceHandler{
		store:    s,
		defs:     defs,
		enqueuer: enqueuer,
		producer: producer,
	}
}
