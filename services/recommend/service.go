package recommend

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"prodrec-backend/lib/scrapers/catalog"
	"prodrec-backend/lib/telemetry"
	"prodrec-backend/lib/textutil"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("prodrec.services.recommend")

// Extractor fetches one site's products for a keyword. Implementations
// never return an error; a site that cannot be reached yields its
// sentinel record instead.
type Extractor interface {
	Fetch(ctx context.Context, keyword string) []catalog.Product
}

// Sink receives a campaign's output. CampaignStart is called once
// before any batch, PublishBatch once per keyword in order, and
// CampaignEnd once after the last batch of a campaign that ran to
// completion. A cancelled campaign stops without CampaignEnd.
type Sink interface {
	CampaignStart(ctx context.Context, numKeywords int) error
	PublishBatch(ctx context.Context, batch Batch, position int) error
	CampaignEnd(ctx context.Context) error
}

type TaskState string

const (
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskCancelled TaskState = "cancelled"
	TaskFailed    TaskState = "failed"
)

// Task is a handle on one running (or finished) campaign.
type Task struct {
	Id       string
	Keywords []string

	cancel          context.CancelFunc
	done            chan struct{}
	cancelRequested atomic.Bool

	mu    sync.Mutex
	state TaskState
	err   error
}

// Done is closed once the campaign has fully stopped.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) Status() (TaskState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, t.err
}

func (t *Task) finish(state TaskState, err error) {
	t.mu.Lock()
	t.state = state
	t.err = err
	t.mu.Unlock()
}

type Options struct {
	Extractors []Extractor
	Sink       Sink
	// pause between consecutive keywords, defaults to 2s
	KeywordDelay time.Duration
}

type Service struct {
	extractors []Extractor
	sink       Sink
	delay      time.Duration

	mu    sync.Mutex
	tasks map[string]*Task
}

func NewService(options Options) *Service {
	delay := options.KeywordDelay
	if delay == 0 {
		delay = time.Second * 2
	}
	return &Service{
		extractors: options.Extractors,
		sink:       options.Sink,
		delay:      delay,
		tasks:      map[string]*Task{},
	}
}

// Trigger starts a campaign over the given keywords and returns
// immediately with a handle on it. Blank keywords are dropped before
// positions are assigned.
func (s *Service) Trigger(ctx context.Context, keywords []string) (*Task, error) {
	ctx, span := tracer.Start(ctx, "Trigger")
	defer span.End()

	keywords = textutil.FilterKeywords(keywords)
	if len(keywords) == 0 {
		err := fmt.Errorf("no non-blank keywords to fetch")
		span.RecordError(err)
		span.SetStatus(codes.Error, "empty keyword list")
		return nil, err
	}

	suffix, err := random.String(6)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to generate task id")
		return nil, err
	}
	id := strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + suffix

	// the campaign outlives the trigger request
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	task := &Task{
		Id:       id,
		Keywords: keywords,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    TaskRunning,
	}

	s.mu.Lock()
	s.tasks[id] = task
	s.mu.Unlock()

	go s.run(runCtx, task)

	slog.InfoContext(ctx, "triggered fetch campaign", "task", id, "keywords", len(keywords))
	return task, nil
}

// Cancel stops the identified campaign. It reports whether a live
// campaign with that id existed.
func (s *Service) Cancel(id string) bool {
	s.mu.Lock()
	task, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	task.cancelRequested.Store(true)
	task.cancel()
	return true
}

type TaskStatus struct {
	Id              string
	Keywords        []string
	State           TaskState
	CancelRequested bool
}

// Status lists the campaigns that have not finished yet.
func (s *Service) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		state, _ := t.Status()
		out = append(out, TaskStatus{
			Id:              t.Id,
			Keywords:        t.Keywords,
			State:           state,
			CancelRequested: t.cancelRequested.Load(),
		})
	}
	return out
}

func (s *Service) run(ctx context.Context, task *Task) {
	ctx, span := tracer.Start(ctx, "run")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("campaign panicked: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, "campaign panicked")
			task.finish(TaskFailed, err)
		}
		task.cancel()

		s.mu.Lock()
		delete(s.tasks, task.Id)
		s.mu.Unlock()

		close(task.done)
	}()

	err := s.sink.CampaignStart(ctx, len(task.Keywords))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start campaign output")
		task.finish(TaskFailed, err)
		return
	}

	for i, keyword := range task.Keywords {
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "fetch campaign cancelled", "task", task.Id, "position", i+1)
			task.finish(TaskCancelled, ctx.Err())
			return
		}

		batch := s.fetchKeyword(ctx, keyword)

		// a cancel may have landed while extractors were in flight
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "fetch campaign cancelled", "task", task.Id, "position", i+1)
			task.finish(TaskCancelled, ctx.Err())
			return
		}

		if best := batch.BestMatch(); best >= 0 {
			slog.DebugContext(
				ctx, "best match",
				"keyword", keyword,
				"name", batch.Records[best].Name,
				"score", Percent(batch.Scores[best]),
			)
		}

		err := s.sink.PublishBatch(ctx, batch, i+1)
		if err != nil {
			if task.cancelRequested.Load() {
				task.finish(TaskCancelled, err)
				return
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to publish batch")
			task.finish(TaskFailed, err)
			return
		}

		// pace requests between keywords
		if i < len(task.Keywords)-1 {
			select {
			case <-time.After(s.delay):
			case <-ctx.Done():
				task.finish(TaskCancelled, ctx.Err())
				return
			}
		}
	}

	err = s.sink.CampaignEnd(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to end campaign output")
		task.finish(TaskFailed, err)
		return
	}
	task.finish(TaskCompleted, nil)
}

// fetchKeyword runs every extractor concurrently and aggregates their
// results in extractor order.
func (s *Service) fetchKeyword(ctx context.Context, keyword string) Batch {
	ctx, span := tracer.Start(ctx, "fetchKeyword")
	defer span.End()

	results := make([][]catalog.Product, len(s.extractors))
	var wg sync.WaitGroup
	for i, ex := range s.extractors {
		wg.Add(1)
		go func(i int, ex Extractor) {
			defer wg.Done()
			results[i] = ex.Fetch(ctx, keyword)
		}(i, ex)
	}
	wg.Wait()

	return Aggregate(keyword, results...)
}
