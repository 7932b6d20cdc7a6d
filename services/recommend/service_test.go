package recommend

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"prodrec-backend/lib/scrapers/catalog"
	"prodrec-backend/lib/telemetry"

	"github.com/stretchr/testify/require"
)

type fakeExtractor struct {
	site     string
	products map[string][]catalog.Product
}

func (f fakeExtractor) Fetch(ctx context.Context, keyword string) []catalog.Product {
	products, ok := f.products[keyword]
	if !ok {
		return []catalog.Product{catalog.Sentinel(f.site)}
	}
	return products
}

type sinkEvent struct {
	kind     string
	batch    Batch
	position int
}

type recordingSink struct {
	mu        sync.Mutex
	events    []sinkEvent
	published chan struct{}

	startErr   error
	publishErr map[int]error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{published: make(chan struct{}, 16)}
}

func (s *recordingSink) CampaignStart(ctx context.Context, numKeywords int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.events = append(s.events, sinkEvent{kind: "start", position: numKeywords})
	return nil
}

func (s *recordingSink) PublishBatch(ctx context.Context, batch Batch, position int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.publishErr[position]; err != nil {
		return err
	}
	s.events = append(s.events, sinkEvent{kind: "publish", batch: batch, position: position})
	s.published <- struct{}{}
	return nil
}

func (s *recordingSink) CampaignEnd(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{kind: "end"})
	return nil
}

func (s *recordingSink) snapshot() []sinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkEvent{}, s.events...)
}

func testExtractors() []Extractor {
	return []Extractor{
		fakeExtractor{
			site: catalog.SiteAliExpress,
			products: map[string][]catalog.Product{
				"black shoes": {
					{Name: "black shoes", Url: "https://a.example/1", Price: "US $10", Source: catalog.SiteAliExpress},
					{Name: "black sandal", Url: "https://a.example/2", Price: "US $8", Source: catalog.SiteAliExpress},
				},
				"white shoes": {
					{Name: "white shoes", Url: "https://a.example/3", Price: "US $11", Source: catalog.SiteAliExpress},
				},
			},
		},
		fakeExtractor{
			site: catalog.SiteIshtari,
			products: map[string][]catalog.Product{
				"black shoes": {
					{Name: "black leather shoes", Url: "https://i.example/1", Price: "US 12", Source: catalog.SiteIshtari},
				},
			},
		},
	}
}

func TestCampaignEndToEnd(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test.services.recommend")
	defer cleanup()

	sink := newRecordingSink()
	svc := NewService(Options{
		Extractors:   testExtractors(),
		Sink:         sink,
		KeywordDelay: time.Millisecond,
	})

	task, err := svc.Trigger(context.Background(), []string{"black shoes", "   ", "white shoes"})
	require.NoError(t, err)
	require.Equal(t, []string{"black shoes", "white shoes"}, task.Keywords)

	select {
	case <-task.Done():
	case <-time.After(time.Second * 5):
		t.Fatal("campaign did not finish")
	}

	state, taskErr := task.Status()
	require.NoError(t, taskErr)
	require.Equal(t, TaskCompleted, state)

	events := sink.snapshot()
	require.Len(t, events, 4)

	require.Equal(t, "start", events[0].kind)
	require.Equal(t, 2, events[0].position)

	require.Equal(t, "publish", events[1].kind)
	require.Equal(t, 1, events[1].position)
	require.Equal(t, "black shoes", events[1].batch.Keyword)
	// aliexpress records first, then ishtari
	require.Len(t, events[1].batch.Records, 3)
	require.Equal(t, catalog.SiteAliExpress, events[1].batch.Records[0].Source)
	require.Equal(t, catalog.SiteIshtari, events[1].batch.Records[2].Source)
	require.Len(t, events[1].batch.Scores, 3)

	require.Equal(t, "publish", events[2].kind)
	require.Equal(t, 2, events[2].position)
	require.Equal(t, "white shoes", events[2].batch.Keyword)
	// the site with no results contributes its sentinel record
	require.Equal(t, catalog.Sentinel(catalog.SiteIshtari), events[2].batch.Records[1])

	require.Equal(t, "end", events[3].kind)

	// finished campaigns leave the live task list
	require.Empty(t, svc.Status())
}

func TestCampaignCancellation(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test.services.recommend")
	defer cleanup()

	sink := newRecordingSink()
	svc := NewService(Options{
		Extractors:   testExtractors(),
		Sink:         sink,
		KeywordDelay: time.Minute,
	})

	task, err := svc.Trigger(context.Background(), []string{"black shoes", "white shoes"})
	require.NoError(t, err)

	select {
	case <-sink.published:
	case <-time.After(time.Second * 5):
		t.Fatal("first batch was never published")
	}

	require.True(t, svc.Cancel(task.Id))

	select {
	case <-task.Done():
	case <-time.After(time.Second * 5):
		t.Fatal("campaign did not stop after cancellation")
	}

	state, _ := task.Status()
	require.Equal(t, TaskCancelled, state)

	// only the first keyword's batch was published and no end marker
	// was written
	events := sink.snapshot()
	require.Len(t, events, 2)
	require.Equal(t, "start", events[0].kind)
	require.Equal(t, "publish", events[1].kind)
	require.Equal(t, "black shoes", events[1].batch.Keyword)
}

// an extractor that holds its fetch open until the campaign context
// dies, so a cancel can land while a keyword is in flight
type blockingExtractor struct {
	site    string
	started chan struct{}
}

func (b blockingExtractor) Fetch(ctx context.Context, keyword string) []catalog.Product {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return []catalog.Product{catalog.Sentinel(b.site)}
}

func TestCancelDuringKeywordFetch(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test.services.recommend")
	defer cleanup()

	started := make(chan struct{}, 1)
	sink := newRecordingSink()
	svc := NewService(Options{
		Extractors:   []Extractor{blockingExtractor{site: catalog.SiteAliExpress, started: started}},
		Sink:         sink,
		KeywordDelay: time.Millisecond,
	})

	task, err := svc.Trigger(context.Background(), []string{"black shoes", "white shoes"})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(time.Second * 5):
		t.Fatal("extractor never started fetching")
	}

	require.True(t, svc.Cancel(task.Id))

	select {
	case <-task.Done():
	case <-time.After(time.Second * 5):
		t.Fatal("campaign did not stop after cancellation")
	}

	// a cancel that interrupts a fetch is still a cancellation, not a
	// failure, and the torn batch is never published
	state, _ := task.Status()
	require.Equal(t, TaskCancelled, state)

	events := sink.snapshot()
	require.Len(t, events, 1)
	require.Equal(t, "start", events[0].kind)
}

func TestCancelUnknownTask(t *testing.T) {
	svc := NewService(Options{Sink: newRecordingSink()})
	require.False(t, svc.Cancel("nope"))
}

func TestTriggerRejectsBlankKeywords(t *testing.T) {
	svc := NewService(Options{Sink: newRecordingSink()})
	_, err := svc.Trigger(context.Background(), []string{"", "   ", "\t"})
	require.Error(t, err)
}

func TestSinkFailureHaltsCampaign(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test.services.recommend")
	defer cleanup()

	sink := newRecordingSink()
	sink.publishErr = map[int]error{2: fmt.Errorf("spreadsheet unavailable")}
	svc := NewService(Options{
		Extractors:   testExtractors(),
		Sink:         sink,
		KeywordDelay: time.Millisecond,
	})

	task, err := svc.Trigger(context.Background(), []string{"black shoes", "white shoes"})
	require.NoError(t, err)

	select {
	case <-task.Done():
	case <-time.After(time.Second * 5):
		t.Fatal("campaign did not finish")
	}

	state, taskErr := task.Status()
	require.Equal(t, TaskFailed, state)
	require.ErrorContains(t, taskErr, "spreadsheet unavailable")

	events := sink.snapshot()
	require.Equal(t, "publish", events[len(events)-1].kind)
	require.Equal(t, 1, events[len(events)-1].position)
}

func TestCampaignStartFailure(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test.services.recommend")
	defer cleanup()

	sink := newRecordingSink()
	sink.startErr = fmt.Errorf("no access to spreadsheet")
	svc := NewService(Options{
		Extractors: testExtractors(),
		Sink:       sink,
	})

	task, err := svc.Trigger(context.Background(), []string{"black shoes"})
	require.NoError(t, err)
	<-task.Done()

	state, taskErr := task.Status()
	require.Equal(t, TaskFailed, state)
	require.ErrorContains(t, taskErr, "no access")
	require.Empty(t, sink.snapshot())
}
