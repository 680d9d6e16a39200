package audit

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kodex-auth/go-core/internal/metrics"
	"github.com/kodex-auth/go-core/internal/validation"
	"github.com/kodex-auth/go-core/pkg/types"
)

// Subscriber consumes every domain event and writes exactly one audit
// record per event. Persistence failures are logged and swallowed so the
// publisher is never faulted by the audit path.
type Subscriber struct {
	store   Store
	file    *FileWriter
	logger  *zap.Logger
	metrics metrics.Metrics
}

// NewSubscriber creates the audit subscriber. The file writer is
// optional; when set every record is mirrored to the rotated file.
func NewSubscriber(store Store, file *FileWriter, logger *zap.Logger, m metrics.Metrics) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &Subscriber{store: store, file: file, logger: logger, metrics: m}
}

// Name identifies the subscriber on the bus.
func (s *Subscriber) Name() string { return "audit" }

// Priority runs the audit subscriber ahead of extension subscribers.
func (s *Subscriber) Priority() int { return 100 }

// Kinds subscribes to every event.
func (s *Subscriber) Kinds() []types.EventKind { return []types.EventKind{types.KindAll} }

// Handle maps the event to a record and persists it.
func (s *Subscriber) Handle(ctx context.Context, evt types.Event) {
	rec, ok := s.mapEvent(evt)
	if !ok {
		return
	}

	if err := s.store.Insert(ctx, rec); err != nil {
		s.metrics.AuditPersisted("failure")
		s.logger.Error("failed to persist audit record",
			zap.String("event_id", evt.Header.EventID),
			zap.String("event_type", rec.EventType),
			zap.Error(err))
	} else {
		s.metrics.AuditPersisted("success")
	}

	if s.file != nil {
		if err := s.file.Write(rec); err != nil {
			s.logger.Error("failed to write audit file entry",
				zap.String("event_id", evt.Header.EventID),
				zap.Error(err))
		}
	}
}

// mapEvent translates one event into its audit record. Metadata is the
// sanitized JSON shape of the payload.
func (s *Subscriber) mapEvent(evt types.Event) (*types.AuditRecord, bool) {
	if evt.Payload == nil {
		return nil, false
	}

	rec := &types.AuditRecord{
		ID:        uuid.NewString(),
		Timestamp: evt.Header.Timestamp,
		ActorType: types.ActorSystem,
		Result:    types.ResultSuccess,
		RealmID:   evt.Header.RealmID,
		Metadata:  payloadMetadata(evt.Payload),
		Severity:  evt.Header.Severity,
	}
	if evt.Header.SessionID != "" {
		rec.SessionID = strPtr(evt.Header.SessionID)
	}

	switch p := evt.Payload.(type) {
	case types.LoginSucceeded:
		rec.EventType = types.AuditLoginSuccess
		setActor(rec, types.ActorUser, p.UserID)
		setTarget(rec, "user", p.UserID)

	case types.LoginFailed:
		rec.EventType = types.AuditLoginFailed
		rec.Result = types.ResultFailure
		if p.UserID != "" {
			setActor(rec, types.ActorUser, p.UserID)
			setTarget(rec, "user", p.UserID)
		} else {
			rec.ActorType = types.ActorAnonymous
		}

	case types.PasswordChanged:
		rec.EventType = types.AuditPasswordChanged
		setActor(rec, types.ActorUser, p.ActorID)
		setTarget(rec, "user", p.UserID)

	case types.PasswordChangeFailed:
		rec.EventType = types.AuditPasswordChangeFailed
		rec.Result = types.ResultFailure
		setActor(rec, types.ActorUser, p.ActorID)
		setTarget(rec, "user", p.UserID)

	case types.TokenIssued:
		rec.EventType = types.AuditTokenIssued
		setActor(rec, types.ActorUser, p.UserID)
		setTarget(rec, "token", p.TokenID)

	case types.TokenRefreshed:
		rec.EventType = types.AuditTokenRefreshed
		setActor(rec, types.ActorUser, p.UserID)
		setTarget(rec, "token", p.NewTokenID)

	case types.TokenRefreshFailed:
		rec.EventType = types.AuditTokenRefreshFailed
		rec.Result = types.ResultFailure
		if p.UserID != "" {
			setActor(rec, types.ActorUser, p.UserID)
		} else {
			rec.ActorType = types.ActorAnonymous
		}

	case types.TokenVerifyFailed:
		rec.EventType = types.AuditTokenVerifyFailed
		rec.Result = types.ResultFailure
		rec.ActorType = types.ActorAnonymous

	case types.TokenRevoked:
		rec.EventType = types.AuditTokenRevoked
		setActor(rec, types.ActorUser, p.UserID)
		rec.TargetType = strPtr("token")

	case types.TokenReplayDetected:
		rec.EventType = types.AuditSecurityViolation
		rec.Result = types.ResultFailure
		setActor(rec, types.ActorUser, p.UserID)
		setTarget(rec, "token", p.TokenID)

	case types.RateLimitExceeded:
		rec.EventType = types.AuditRateLimitExceeded
		rec.Result = types.ResultFailure
		rec.ActorType = types.ActorAnonymous

	case types.AccountLocked:
		rec.EventType = types.AuditAccountLocked
		rec.ActorType = types.ActorSystem
		if p.UserID != "" {
			setTarget(rec, "user", p.UserID)
		}

	case types.AccountUnlocked:
		rec.EventType = types.AuditAccountUnlocked
		setActor(rec, types.ActorAdmin, p.ActorID)

	case types.SessionEvent:
		rec.EventType = strings.ToUpper(string(p.K))
		setActor(rec, types.ActorUser, p.UserID)
		setTarget(rec, "session", p.SessionID)
		if p.K == types.KindSessionAnomaly {
			rec.Result = types.ResultFailure
		}

	case types.UserMutated:
		rec.EventType = strings.ToUpper(string(p.K))
		if p.ActorID != "" {
			setActor(rec, types.ActorUser, p.ActorID)
		}
		setTarget(rec, "user", p.UserID)

	case types.VerificationEvent:
		rec.EventType = verificationEventType(p)
		if p.K == types.KindVerificationFailed {
			rec.Result = types.ResultFailure
		}
		if p.K != types.KindVerificationSent {
			setActor(rec, types.ActorUser, p.UserID)
		}
		setTarget(rec, "user", p.UserID)

	default:
		// Unknown payloads still leave a trace.
		rec.EventType = strings.ToUpper(string(evt.Kind()))
	}

	return rec, true
}

// verificationEventType renders e.g. EMAIL_VERIFICATION_SENT.
func verificationEventType(p types.VerificationEvent) string {
	channel := strings.ToUpper(p.Channel)
	if channel == "" {
		channel = "EMAIL"
	}
	switch p.K {
	case types.KindVerificationDone:
		return channel + "_VERIFICATION_VERIFIED"
	case types.KindVerificationFailed:
		return channel + "_VERIFICATION_FAILED"
	default:
		return channel + "_VERIFICATION_SENT"
	}
}

// payloadMetadata converts the payload to its JSON map shape and
// sanitizes it: sensitive keys redacted, HTML entity-escaped.
func payloadMetadata(p types.Payload) map[string]any {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil
	}
	if len(meta) == 0 {
		return nil
	}
	return validation.SanitizeMetadata(meta)
}

func setActor(rec *types.AuditRecord, kind types.ActorType, id string) {
	rec.ActorType = kind
	if id != "" {
		rec.ActorID = strPtr(id)
	}
}

func setTarget(rec *types.AuditRecord, targetType, id string) {
	rec.TargetType = strPtr(targetType)
	if id != "" {
		rec.TargetID = strPtr(id)
	}
}

func strPtr(s string) *string { return &s }
