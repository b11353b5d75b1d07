package outbound

import (
	"container/heap"
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/portgw/npac-outbound/internal/queuedb"
)

type HandleFunc = func(ctx context.Context) error

type JobRegister interface {
	Register(handle JobHandler)
}

type JobScheduler interface {
	SetUp()
	Start()
	Close()
}

type JobHandler interface {
	JobMeta
	Handle(ctx context.Context) error
}

type JobMeta interface {
	PeriodicSchedule() string
	Name() string
}

var (
	_ JobRegister  = &MaintenanceProcessor{}
	_ JobScheduler = &MaintenanceProcessor{}
)

const (
	maintenanceExecutors  = 3
	maintenanceJobTimeout = time.Minute * 5
)

// MaintenanceProcessor runs the periodic queue upkeep jobs (stale-sent
// sweep, delivered-record cleanup) on crontab schedules. An orchestrator
// goroutine tracks next run times in a min-heap and feeds due jobs to a
// small set of executor goroutines.
type MaintenanceProcessor struct {
	conf           *Config
	db             queuedb.QueueMaintenanceDB
	registeredJobs map[string]HandleFunc
	jobMetas       []JobMeta
	jobsChan       chan string
	clock          clockwork.Clock
	shutdown       chan struct{}
	log            zerolog.Logger
}

type scheduledJob struct {
	meta      JobMeta
	schedule  cron.Schedule
	nextRunAt time.Time
}

type jobHeap []*scheduledJob

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return h[i].nextRunAt.Before(h[j].nextRunAt) }
func (h jobHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) {
	*h = append(*h, x.(*scheduledJob))
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

func NewMaintenanceProcessor(conf *Config, db queuedb.QueueMaintenanceDB, clock clockwork.Clock, log zerolog.Logger) *MaintenanceProcessor {
	return &MaintenanceProcessor{
		conf:           conf,
		db:             db,
		registeredJobs: make(map[string]HandleFunc),
		jobMetas:       make([]JobMeta, 0),
		jobsChan:       make(chan string),
		clock:          clock,
		shutdown:       make(chan struct{}),
		log:            log.With().Str("component", "maintenance").Logger(),
	}
}

func (m *MaintenanceProcessor) SetUp() {
	handlers := []JobHandler{
		newStaleSentSweep(m.conf, m.db, m.clock, m.log),
		newSentCleanUp(m.conf, m.db, m.clock, m.log),
	}

	for _, j := range handlers {
		m.Register(j)
	}
}

func (m *MaintenanceProcessor) Register(handle JobHandler) {
	m.registeredJobs[handle.Name()] = handle.Handle
	m.jobMetas = append(m.jobMetas, handle)
}

func (m *MaintenanceProcessor) Start() {
	go m.orchestrate()

	for i := 0; i < maintenanceExecutors; i++ {
		go m.execute()
	}
}

func (m *MaintenanceProcessor) Close() {
	close(m.shutdown)
}

func (m *MaintenanceProcessor) orchestrate() {
	jobs := &jobHeap{}
	heap.Init(jobs)
	for _, meta := range m.jobMetas {
		schedule, err := cron.ParseStandard(meta.PeriodicSchedule())
		if err != nil {
			m.log.Error().Str("job", meta.Name()).Str("schedule", meta.PeriodicSchedule()).Err(err).
				Msg("unable to parse crontab schedule")
			continue
		}
		heap.Push(jobs, &scheduledJob{
			meta:      meta,
			schedule:  schedule,
			nextRunAt: schedule.Next(m.clock.Now()),
		})
	}

	for jobs.Len() > 0 {
		next := (*jobs)[0]
		dur := next.nextRunAt.Sub(m.clock.Now())
		// A negative wait means the job is already overdue; fire right away.
		if dur < 0 {
			dur = time.Millisecond * 100
		}

		select {
		case <-m.shutdown:
			return
		case <-m.clock.After(dur):
		}

		// More than one job can be overdue when a frequent job overlaps a
		// longer-waiting one that has come due in the meantime.
		now := m.clock.Now()
		for jobs.Len() > 0 && !(*jobs)[0].nextRunAt.After(now) {
			due := heap.Pop(jobs).(*scheduledJob)
			due.nextRunAt = due.schedule.Next(now)

			select {
			case <-m.shutdown:
				return
			case m.jobsChan <- due.meta.Name():
			}

			heap.Push(jobs, due)
		}
	}
}

func (m *MaintenanceProcessor) execute() {
	for {
		select {
		case <-m.shutdown:
			return
		case name := <-m.jobsChan:
			ctx, cancel := context.WithTimeout(context.Background(), maintenanceJobTimeout)
			if err := m.registeredJobs[name](ctx); err != nil {
				m.log.Error().Str("job", name).Err(err).Msg("maintenance job failed")
			}
			cancel()
		}
	}
}
