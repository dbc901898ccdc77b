package payment

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"premium-subscription-gateway/internal/domain/ports/adapter"
	"premium-subscription-gateway/internal/infra/metrics"
)

var _ adapter.RemoteValidator = (*RemoteValidator)(nil)

const validateResponseLimit = 1024

// RemoteValidator posts the secret-less canonical string of a notification
// back to the processor and trusts it only on an explicit VALID.
type RemoteValidator struct {
	endpoint string
	client   *http.Client
	log      *zerolog.Logger
}

// NewRemoteValidator targets endpoint (usually Mode.ValidateURL()) with a
// bounded per-call timeout.
func NewRemoteValidator(endpoint string, timeout time.Duration, logger *zerolog.Logger) *RemoteValidator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	l := logger.With().Str("component", "RemoteValidator").Logger()
	return &RemoteValidator{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		log:      &l,
	}
}

// Validate never returns an error; every failure is ValidationInvalid.
func (v *RemoteValidator) Validate(ctx context.Context, canonical string) adapter.Validation {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(canonical))
	if err != nil {
		v.log.Error().Err(err).Msg("build validation request")
		metrics.ObserveRemoteValidation("transport_error", time.Since(start))
		return adapter.ValidationInvalid
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		v.log.Warn().Err(err).Dur("duration", time.Since(start)).Msg("validation call failed; treating as INVALID")
		metrics.ObserveRemoteValidation("transport_error", time.Since(start))
		return adapter.ValidationInvalid
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, validateResponseLimit))
	if err != nil {
		v.log.Warn().Err(err).Msg("read validation response; treating as INVALID")
		metrics.ObserveRemoteValidation("transport_error", time.Since(start))
		return adapter.ValidationInvalid
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		v.log.Warn().Int("status", resp.StatusCode).Msg("validation endpoint returned non-2xx; treating as INVALID")
		metrics.ObserveRemoteValidation("http_error", time.Since(start))
		return adapter.ValidationInvalid
	}

	if strings.TrimSpace(string(body)) == string(adapter.ValidationValid) {
		metrics.ObserveRemoteValidation("valid", time.Since(start))
		return adapter.ValidationValid
	}
	v.log.Info().Str("answer", strings.TrimSpace(string(body))).Msg("processor did not confirm notification")
	metrics.ObserveRemoteValidation("invalid", time.Since(start))
	return adapter.ValidationInvalid
}

// AlwaysValid skips the confirmation call. Only wired in sandbox mode when
// explicitly configured, for local testing without a reachable processor.
type AlwaysValid struct{}

func (AlwaysValid) Validate(context.Context, string) adapter.Validation {
	return adapter.ValidationValid
}
