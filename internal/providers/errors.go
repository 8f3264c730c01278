package providers

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/nulpointcorp/ai-gateway/internal/gwerr"
)

// UpstreamError classifies an upstream HTTP failure. Credential rejections
// surface as authentication errors so callers can distinguish a bad key
// from a provider outage.
func UpstreamError(provider string, status int, msg string) *gwerr.Error {
	switch status {
	case 401, 403:
		e := gwerr.New(gwerr.KindAuthentication, gwerr.CodeUpstreamAuth,
			"%s rejected the configured credentials", provider)
		e.UpstreamStatus = status
		return e
	default:
		e := gwerr.New(gwerr.KindUpstream, gwerr.CodeUpstream,
			"%s error: %s", provider, msg)
		e.UpstreamStatus = status
		return e
	}
}

// TransportError wraps timeouts and connection failures that never produced
// an upstream response.
func TransportError(provider string, err error) *gwerr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return gwerr.Wrap(err, gwerr.KindTransport, gwerr.CodeTimeout,
			"%s request timed out", provider)
	}
	return gwerr.Wrap(err, gwerr.KindTransport, gwerr.CodeUpstream,
		"%s unreachable", provider)
}

// ResolveKey picks the API key for a call: the project's stored credential
// when one exists, otherwise the globally configured key.
func ResolveKey(ctx context.Context, keys KeySource, projectID uuid.UUID, provider, globalKey string) (string, error) {
	if keys != nil {
		key, err := keys.ProviderKey(ctx, projectID, provider)
		if err != nil {
			return "", err
		}
		if key != "" {
			return key, nil
		}
	}
	if globalKey != "" {
		return globalKey, nil
	}
	return "", gwerr.New(gwerr.KindAuthentication, gwerr.CodeCredentialMissing,
		"no %s API key configured for this project", provider)
}
