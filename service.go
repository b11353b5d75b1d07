package outbound

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"

	"github.com/portgw/npac-outbound/internal/queuedb"
	"github.com/portgw/npac-outbound/migrations"
)

const (
	uninitialized = iota
	running
)

// Service wires the whole pipeline together for the embedding server
// process: storage, producer, poller server and maintenance jobs.
type Service struct {
	conf        *Config
	db          *bun.DB
	store       queuedb.QueueDB
	producer    *Producer
	server      *PollerServer
	maintenance *MaintenanceProcessor
	log         zerolog.Logger
	state       atomic.Uint32
}

func NewFromConfig(ctx context.Context, conf *Config, transport Transport, serializer Serializer,
	probe RecoveryProbe, log zerolog.Logger) (*Service, error) {

	db, err := OpenDB(ctx, conf)
	if err != nil {
		return nil, err
	}

	store := queuedb.NewQueueDB(db)
	clock := clockwork.NewRealClock()

	server, err := NewPollerServer(conf, store, transport, probe, clock, log)
	if err != nil {
		return nil, err
	}

	return &Service{
		conf:        conf,
		db:          db,
		store:       store,
		producer:    NewProducer(store, serializer, clock, log),
		server:      server,
		maintenance: NewMaintenanceProcessor(conf, queuedb.NewQueueMaintainer(db), clock, log),
		log:         log,
	}, nil
}

// Init migrates the schema and starts the maintenance jobs. It must run
// once before Run.
func (s *Service) Init(ctx context.Context) error {
	if !s.state.CompareAndSwap(uninitialized, running) {
		return errors.New("service already initialized and running")
	}

	if err := migrations.Migrate(ctx, s.db); err != nil {
		return err
	}

	s.maintenance.SetUp()
	s.maintenance.Start()

	return nil
}

// Run starts all pollers. It returns immediately; the pollers run on their
// own goroutines until Shutdown.
func (s *Service) Run() {
	s.server.Run()
}

// Shutdown stops pollers and maintenance and closes the database.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	s.maintenance.Close()
	if closeErr := s.db.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (s *Service) Producer() *Producer {
	return s.producer
}

func (s *Service) PollerServer() *PollerServer {
	return s.server
}
