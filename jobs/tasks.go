// Package jobs runs the background maintenance of the governance core:
// idempotency retention, corruption scans and period lock sweeps.
package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskIdempotencyCleanup prunes terminal idempotency records.
	TaskIdempotencyCleanup = "idempotency:cleanup"
	// TaskRepairScan runs the corruption scanners.
	TaskRepairScan = "repair:scan"
	// TaskPeriodLockSweep locks posted entries left unlocked in closed periods.
	TaskPeriodLockSweep = "periods:lock_sweep"
)

// RepairScanPayload selects scanners and whether findings are quarantined.
type RepairScanPayload struct {
	Types      []string `json:"types"`
	Quarantine bool     `json:"quarantine"`
	User       string   `json:"user"`
}

// LockSweepPayload names the sources swept for unlocked posted entries.
type LockSweepPayload struct {
	Sources []string `json:"sources"`
	User    string   `json:"user"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil)
}

// NewRepairScanTask constructs a scan task.
func NewRepairScanTask(payload RepairScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRepairScan, data), nil
}

// NewPeriodLockSweepTask constructs a lock sweep task.
func NewPeriodLockSweepTask(payload LockSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPeriodLockSweep, data), nil
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	client := asynq.NewClient(redisOpts)
	return &Client{client: client}, nil
}

// EnqueueRepairScan enqueues a corruption scan.
func (c *Client) EnqueueRepairScan(ctx context.Context, payload RepairScanPayload) (*asynq.TaskInfo, error) {
	task, err := NewRepairScanTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
}

// EnqueueIdempotencyCleanup enqueues a cleanup run.
func (c *Client) EnqueueIdempotencyCleanup(ctx context.Context) (*asynq.TaskInfo, error) {
	return c.client.EnqueueContext(ctx, NewIdempotencyCleanupTask(), asynq.Queue(QueueDefault))
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
