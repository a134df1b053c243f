package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/gym-backoffice/internal/application"
	"github.com/example/gym-backoffice/internal/persistence"
)

// ServiceFactory builds application services with deterministic identifiers
// and a shared clock.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Logger      *slog.Logger
	Recorder    application.Recorder
	// Window is the pending expiry window handed to contract services.
	Window time.Duration
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	return factory
}

func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) { factory.Clock = clock }
}

func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) { factory.IDGenerator = generator }
}

// WithInstrumentation routes service logs and metrics to the given sinks.
func WithInstrumentation(logger *slog.Logger, recorder application.Recorder) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Logger = logger
		factory.Recorder = recorder
	}
}

func (f *ServiceFactory) NewBookingService(store persistence.Transactor) *application.BookingService {
	return application.NewBookingService(store, f.IDGenerator.Next, f.Clock.Now).
		WithInstrumentation(f.Logger, f.Recorder)
}

func (f *ServiceFactory) NewContractService(store persistence.Transactor) *application.ContractService {
	return application.NewContractService(store, f.IDGenerator.Next, f.Clock.Now, f.Window).
		WithInstrumentation(f.Logger, f.Recorder)
}
