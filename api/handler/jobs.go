package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/use-agent/dirscrape/models"
	"github.com/use-agent/dirscrape/webhook"
)

// job is one asynchronous scrape. Fields after mu change when it finishes.
type job struct {
	id        string
	url       string
	createdAt time.Time

	mu         sync.Mutex
	status     string
	finishedAt time.Time
	result     *models.ScrapeResult
	err        *models.ErrorDetail
}

func (j *job) response() models.JobResponse {
	j.mu.Lock()
	defer j.mu.Unlock()
	return models.JobResponse{
		ID:        j.id,
		Status:    j.status,
		URL:       j.url,
		CreatedAt: j.createdAt.UTC().Format(time.RFC3339),
		Result:    j.result,
		Error:     j.err,
	}
}

func (j *job) expired(cutoff time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status != models.JobProcessing && j.finishedAt.Before(cutoff)
}

// JobStore holds in-flight and finished jobs. Finished jobs are dropped
// after ttl; at most maxRunning scrapes run at once, the rest queue.
type JobStore struct {
	jobs  sync.Map // id -> *job
	ttl   time.Duration
	slots chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJobStore creates a JobStore and starts its expiry loop, which runs
// until Close.
func NewJobStore(ttl time.Duration, maxRunning int) *JobStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if maxRunning <= 0 {
		maxRunning = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &JobStore{ttl: ttl, slots: make(chan struct{}, maxRunning), ctx: ctx, cancel: cancel}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.expire(time.Now())
			}
		}
	}()
	return s
}

// expire removes jobs that finished before now-ttl.
func (s *JobStore) expire(now time.Time) {
	cutoff := now.Add(-s.ttl)
	s.jobs.Range(func(key, value any) bool {
		if value.(*job).expired(cutoff) {
			s.jobs.Delete(key)
		}
		return true
	})
}

// Close cancels running jobs and waits for them to record their outcome.
func (s *JobStore) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *JobStore) get(id string) (*job, bool) {
	v, ok := s.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*job), true
}

// start registers a job and runs it in the background.
func (s *JobStore) start(sc Scraper, req models.ScrapeRequest) *job {
	j := &job{
		id:        "job-" + uuid.NewString(),
		url:       req.URL,
		createdAt: time.Now(),
		status:    models.JobProcessing,
	}
	s.jobs.Store(j.id, j)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(sc, j, &req)
	}()
	return j
}

func (s *JobStore) run(sc Scraper, j *job, req *models.ScrapeRequest) {
	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-s.ctx.Done():
		s.finish(j, req, nil, s.ctx.Err())
		return
	}

	result, _, err := sc.Scrape(s.ctx, req, nil)
	s.finish(j, req, result, err)
}

func (s *JobStore) finish(j *job, req *models.ScrapeRequest, result *models.ScrapeResult, err error) {
	j.mu.Lock()
	j.finishedAt = time.Now()
	if err != nil {
		j.status = models.JobFailed
		j.err = errorDetail(err)
	} else {
		j.status = models.JobCompleted
		j.result = result
	}
	j.mu.Unlock()

	resp := j.response()
	slog.Info("scrape job finished",
		"id", j.id,
		"status", resp.Status,
		"url", j.url,
	)

	if req.WebhookURL == "" {
		return
	}
	event := webhook.EventCompleted
	if err != nil {
		event = webhook.EventFailed
	}
	webhook.DeliverAsync(req.WebhookURL, req.WebhookSecret, &webhook.Event{
		Type:      event,
		JobID:     j.id,
		Timestamp: j.finishedAt.Unix(),
		Data:      resp,
	})
}

// PostJob returns a handler for POST /api/v1/jobs.
func PostJob(sc Scraper, store *JobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ScrapeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ScrapeResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}

		j := store.start(sc, req)
		c.JSON(http.StatusAccepted, models.JobResponse{
			ID:        j.id,
			Status:    models.JobProcessing,
			URL:       j.url,
			CreatedAt: j.createdAt.UTC().Format(time.RFC3339),
		})
	}
}

// GetJob returns a handler for GET /api/v1/jobs/:id.
func GetJob(store *JobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		j, ok := store.get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, models.ScrapeResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeNotFound,
					Message: "job not found",
				},
			})
			return
		}
		c.JSON(http.StatusOK, j.response())
	}
}
