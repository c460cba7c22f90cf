package repository

import (
	"errors"
	"time"

	"github.com/honeynil/payment-ledger/internal/infrastructure/observability"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const uniqueViolation = "23505"

// finishCall closes the span of a repository call and records its metrics.
// Meant to be deferred with the address of the method's named error.
func finishCall(span trace.Span, method string, start time.Time, errp *error) {
	status := "success"
	if err := *errp; err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	observability.RepositoryCalls.WithLabelValues(method, status).Inc()
	observability.RepositoryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	span.End()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
