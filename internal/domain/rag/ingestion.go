package rag

import "context"

// maxFailureReasonLen bounds a FAILED transition's error_message, per §4.I.
const maxFailureReasonLen = 500

// Legal from-sets for each target status in the ingestion state machine.
// They name stored statuses only: a document gets its first status (PENDING)
// when it is created, and a transition on a document with no row or no
// status is not applied.
var (
	fromSetForPending    = []DocumentStatus{DocumentPending, DocumentReady, DocumentFailed}
	fromSetForProcessing = []DocumentStatus{DocumentPending, DocumentFailed}
)

func truncateReason(reason string) string {
	if len(reason) <= maxFailureReasonLen {
		return reason
	}
	return reason[:maxFailureReasonLen]
}

// claimForProcessing attempts the {PENDING,FAILED} → PROCESSING transition
// a worker must win before touching a document. ok=false with nil error
// means another worker already owns it or the document is in READY/PROCESSING.
func claimForProcessing(ctx context.Context, repo DocumentRepository, documentID string) (bool, error) {
	return repo.TransitionStatus(ctx, documentID, fromSetForProcessing, DocumentProcessing, "")
}

// markReady completes a successful processing run.
func markReady(ctx context.Context, repo DocumentRepository, documentID string) (bool, error) {
	return repo.TransitionStatus(ctx, documentID, []DocumentStatus{DocumentProcessing}, DocumentReady, "")
}

// markFailed records a processing failure, truncating the reason to
// maxFailureReasonLen (500) bytes. Used both for worker errors and admin cancellation.
func markFailed(ctx context.Context, repo DocumentRepository, documentID, reason string) (bool, error) {
	return repo.TransitionStatus(ctx, documentID, []DocumentStatus{DocumentProcessing}, DocumentFailed, truncateReason(reason))
}

// markFailedFromPending implements the Upload Orchestrator's enqueue-failure
// compensation: PENDING → FAILED, since the worker never claimed the job.
func markFailedFromPending(ctx context.Context, repo DocumentRepository, documentID, reason string) (bool, error) {
	return repo.TransitionStatus(ctx, documentID, []DocumentStatus{DocumentPending}, DocumentFailed, truncateReason(reason))
}

// requeueForProcessing implements the enqueue/reprocess transition:
// {PENDING,READY,FAILED} → PENDING.
func requeueForProcessing(ctx context.Context, repo DocumentRepository, documentID string) (bool, error) {
	return repo.TransitionStatus(ctx, documentID, fromSetForPending, DocumentPending, "")
}
