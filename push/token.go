package push

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/medisched/medisched-client/credstore"
	apperrors "github.com/medisched/medisched-client/internal/errors"
)

// DevTokenPrefix marks synthesized development tokens so backend
// registration and dispatch can tell them from real ones.
const DevTokenPrefix = "medisched-dev-"

// IsDevelopmentToken reports whether value was synthesized locally.
func IsDevelopmentToken(value string) bool {
	return strings.HasPrefix(value, DevTokenPrefix)
}

// GetOrRegisterToken returns a usable push token, preferring the cached
// record when it is younger than the configured TTL. Constrained hosts
// always get a synthesized token; a token source failure caused by the
// environment falls back to a synthesized token rather than failing the
// whole flow.
func (r *Registrar) GetOrRegisterToken(ctx context.Context) (*credstore.PushTokenRecord, error) {
	cached, err := credstore.LoadPushToken(r.deps.Store)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[Registrar.GetOrRegisterToken] load cached token")
	}
	if cached != nil {
		age := r.nowTime().Sub(cached.IssuedAt)
		if age >= 0 && age < r.cfg.GetPushTokenTTL() {
			r.log.Debug().Dur("age", age).Msg("reusing cached push token")
			return cached, nil
		}
		if err := credstore.ClearPushToken(r.deps.Store); err != nil {
			return nil, apperrors.Wrapf(err, "[Registrar.GetOrRegisterToken] clear stale token")
		}
	}

	if r.deps.Env.IsConstrainedHost() {
		return r.saveToken(r.synthesizeToken(), credstore.OriginDevelopmentFallback)
	}

	value, err := r.deps.Tokens.Token(ctx, r.cfg.GetPushProjectID())
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrUnsupportedEnvironment) {
			return nil, apperrors.Wrapf(err, "[Registrar.GetOrRegisterToken] token source")
		}
		r.log.Warn().Err(err).Msg("token source unavailable, synthesizing development token")
		return r.saveToken(r.synthesizeToken(), credstore.OriginDevelopmentFallback)
	}
	return r.saveToken(value, credstore.OriginProduction)
}

func (r *Registrar) synthesizeToken() string {
	return DevTokenPrefix + uuid.NewString()
}

func (r *Registrar) saveToken(value string, origin credstore.TokenOrigin) (*credstore.PushTokenRecord, error) {
	record := &credstore.PushTokenRecord{
		Value:    value,
		IssuedAt: r.nowTime(),
		Origin:   origin,
	}
	if err := credstore.SavePushToken(r.deps.Store, record); err != nil {
		return nil, apperrors.Wrapf(err, "[Registrar.saveToken]")
	}
	r.log.Info().Str("origin", string(origin)).Msg("push token acquired")
	return record, nil
}
