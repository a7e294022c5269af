package controllers

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/GenFox/app/models"
	"github.com/ManuelReschke/GenFox/app/repository"
	"github.com/ManuelReschke/GenFox/internal/pkg/jobqueue"
)

// QueueInspector reads queue entries and delivery counters.
type QueueInspector interface {
	GetJob(ctx context.Context, jobID string) (*jobqueue.Job, error)
	GetJobStats(ctx context.Context) (map[jobqueue.JobStatus]int64, error)
}

// StatusCounter counts generation rows per status.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error)
}

type QueueController struct {
	repo  repository.QueueRepository
	queue QueueInspector
	jobs  StatusCounter
}

func NewQueueController(repo repository.QueueRepository, queue QueueInspector, jobs StatusCounter) *QueueController {
	return &QueueController{repo: repo, queue: queue, jobs: jobs}
}

// HandleQueueStats reports queue depth, delivery counters and job row counts.
func (qc *QueueController) HandleQueueStats(c *fiber.Ctx) error {
	ctx := c.UserContext()

	sizes := fiber.Map{}
	for name, key := range map[string]string{
		"pending":    jobqueue.JobQueueKey,
		"processing": jobqueue.JobProcessingKey,
		"delayed":    jobqueue.JobDelayedKey,
	} {
		n, err := qc.repo.GetSortedSetLength(ctx, key)
		if err != nil {
			log.Errorf("[Admin] Failed to read %s size: %v", key, err)
			return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to read queue")
		}
		sizes[name] = n
	}

	delivery, err := qc.queue.GetJobStats(ctx)
	if err != nil {
		log.Errorf("[Admin] Failed to read queue stats: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to read queue stats")
	}

	jobs, err := qc.jobs.CountByStatus(ctx)
	if err != nil {
		log.Errorf("[Admin] Failed to count jobs: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to count jobs")
	}

	progressKeys, err := qc.repo.FindKeysByPatterns(ctx, []string{progressPattern()})
	if err != nil {
		log.Warnf("[Admin] Failed to scan progress keys: %v", err)
	}

	return c.JSON(fiber.Map{
		"queue":          sizes,
		"delivery":       delivery,
		"jobs":           jobs,
		"progress_cache": len(progressKeys),
	})
}

// HandleQueueJob returns the queue entry of a job together with its TTL.
func (qc *QueueController) HandleQueueJob(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return errorResponse(c, fiber.StatusBadRequest, "bad_request", "Job id is required")
	}

	job, err := qc.queue.GetJob(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return errorResponse(c, fiber.StatusNotFound, "not_found", "No queue entry for job")
		}
		log.Errorf("[Admin] Failed to load queue entry %s: %v", id, err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load queue entry")
	}

	ttl, err := qc.repo.GetTTL(c.UserContext(), jobqueue.JobKeyPrefix+id)
	if err != nil {
		ttl = -1
	}
	return c.JSON(fiber.Map{"entry": job, "ttl_seconds": int64(ttl.Seconds())})
}

// HandleClearProgress drops every cached progress value.
func (qc *QueueController) HandleClearProgress(c *fiber.Ctx) error {
	keys, err := qc.repo.FindKeysByPatterns(c.UserContext(), []string{progressPattern()})
	if err != nil {
		log.Errorf("[Admin] Failed to scan progress keys: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to scan cache")
	}
	deleted, err := qc.repo.DeleteKeys(c.UserContext(), keys)
	if err != nil {
		log.Errorf("[Admin] Failed to delete progress keys: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to clear cache")
	}
	log.Infof("[Admin] Cleared %d progress entries", deleted)
	return c.JSON(fiber.Map{"deleted": deleted})
}

func progressPattern() string {
	return fmt.Sprintf(jobqueue.ProgressKeyFormat, "*")
}
