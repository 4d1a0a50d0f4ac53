package cluster

import (
	"context"
	"errors"
	"net"
	"net/url"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"

	"gitsync/internal/api"
)

// classifyError maps a client error onto the runtime error taxonomy.
func classifyError(err error, cluster string, key *api.ResourceKey) error {
	if err == nil {
		return nil
	}
	var rtErr *api.RuntimeError
	if errors.As(err, &rtErr) {
		return err
	}
	return api.NewRuntimeError(reasonFor(err), cluster, key, err)
}

func reasonFor(err error) api.RuntimeReason {
	var netErr net.Error
	var urlErr *url.Error
	switch {
	case apierrors.IsNotFound(err):
		return api.RuntimeNotFound
	case apierrors.IsAlreadyExists(err):
		return api.RuntimeAlreadyExists
	case apierrors.IsConflict(err):
		return api.RuntimeConflict
	case apierrors.IsForbidden(err), apierrors.IsUnauthorized(err):
		return api.RuntimePermissionDenied
	case apierrors.IsTooManyRequests(err):
		return api.RuntimeRateLimited
	case apierrors.IsServerTimeout(err), apierrors.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return api.RuntimeTimeout
	case apierrors.IsServiceUnavailable(err), apierrors.IsInternalError(err), apierrors.IsUnexpectedServerError(err):
		return api.RuntimeUnreachable
	case apierrors.IsInvalid(err), apierrors.IsBadRequest(err), apierrors.IsMethodNotSupported(err), apierrors.IsNotAcceptable(err):
		return api.RuntimeRejected
	case meta.IsNoMatchError(err):
		return api.RuntimeUnknownKind
	case errors.As(err, &netErr), errors.As(err, &urlErr):
		return api.RuntimeUnreachable
	default:
		return api.RuntimeRejected
	}
}
