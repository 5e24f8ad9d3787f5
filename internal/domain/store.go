package domain

import "context"

// JobStore inserts jobs into the datastore shared with the worker.
type JobStore interface {
	// InsertJob creates the job and returns it as stored (ID filled when the
	// backend reports one).
	InsertJob(ctx context.Context, job Job) (Job, error)
	Ping(ctx context.Context) error
	Close() error
}

// CallbackLedger remembers callback ids that already produced a job.
type CallbackLedger interface {
	// Claim records id and reports whether this is its first claim.
	Claim(ctx context.Context, callbackID string, job Job) (bool, error)
	// Release forgets id so a later click can try again.
	Release(ctx context.Context, callbackID string) error
	// Confirm records the job created for a claimed id.
	Confirm(ctx context.Context, callbackID, jobID string) error
	Close() error
}

// Messenger is the outbound side of the chat platform.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendChannelSelector(ctx context.Context, chatID int64, prompt, url string) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}
