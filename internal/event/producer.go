package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/medimantra/telehealth/internal/domain"
	pkgkafka "github.com/medimantra/telehealth/pkg/kafka"
	"github.com/medimantra/telehealth/pkg/logger"
)

// Kafka topic constants for auth domain events.
const (
	TopicIdentityRegistered    = "telehealth.auth.identity_registered"
	TopicSessionLoggedIn       = "telehealth.auth.session_logged_in"
	TopicSessionLoggedOut      = "telehealth.auth.session_logged_out"
	TopicVerificationRequested = "telehealth.auth.verification_requested"
	TopicPasswordChanged       = "telehealth.auth.password_changed"
	TopicDoctorReviewed        = "telehealth.auth.doctor_reviewed"
)

// Aggregate type constant.
const AggregateTypeIdentity = "identity"

// Source identifier for events originating from the auth service.
const SourceAuthService = "auth-service"

// IdentityRegisteredData is the payload for an identity_registered event.
type IdentityRegisteredData struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone,omitempty"`
	Role      string `json:"role"`
}

// SessionData is the payload for session_logged_in and session_logged_out events.
type SessionData struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
}

// VerificationRequestedData asks the notification service to deliver a
// single-use secret: an email link, a phone OTP or a password reset link.
type VerificationRequestedData struct {
	UserID      string `json:"user_id"`
	Purpose     string `json:"purpose"`
	Destination string `json:"destination"`
	Secret      string `json:"secret"`
	ExpiresIn   int64  `json:"expires_in_seconds"`
}

// PasswordChangedData is the payload for a password_changed event.
type PasswordChangedData struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// DoctorReviewedData is the payload for a doctor_reviewed event.
type DoctorReviewedData struct {
	DoctorID string `json:"doctor_id"`
	Status   string `json:"status"`
}

// Publisher is the part of pkg/kafka.Producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes auth domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the auth service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishIdentityRegistered publishes an identity_registered event.
func (p *Producer) PublishIdentityRegistered(ctx context.Context, identity *domain.Identity) error {
	return p.publish(ctx, TopicIdentityRegistered, identity.ID, IdentityRegisteredData{
		ID:        identity.ID,
		Email:     identity.Email,
		FirstName: identity.FirstName,
		LastName:  identity.LastName,
		Phone:     identity.Phone,
		Role:      identity.Role.String(),
	})
}

// PublishLoggedIn publishes a session_logged_in event.
func (p *Producer) PublishLoggedIn(ctx context.Context, identity *domain.Identity) error {
	return p.publish(ctx, TopicSessionLoggedIn, identity.ID, SessionData{
		UserID: identity.ID,
		Role:   identity.Role.String(),
	})
}

// PublishLoggedOut publishes a session_logged_out event.
func (p *Producer) PublishLoggedOut(ctx context.Context, userID string) error {
	return p.publish(ctx, TopicSessionLoggedOut, userID, SessionData{UserID: userID})
}

// PublishVerificationRequested publishes a verification_requested event
// carrying the secret for delivery to destination.
func (p *Producer) PublishVerificationRequested(ctx context.Context, req VerificationRequestedData) error {
	return p.publish(ctx, TopicVerificationRequested, req.UserID, req, pkgkafka.AsSensitive())
}

// PublishPasswordChanged publishes a password_changed event.
func (p *Producer) PublishPasswordChanged(ctx context.Context, userID, reason string) error {
	return p.publish(ctx, TopicPasswordChanged, userID, PasswordChangedData{UserID: userID, Reason: reason})
}

// PublishDoctorReviewed publishes a doctor_reviewed event.
func (p *Producer) PublishDoctorReviewed(ctx context.Context, profile *domain.DoctorProfile) error {
	return p.publish(ctx, TopicDoctorReviewed, profile.IdentityID, DoctorReviewedData{
		DoctorID: profile.IdentityID,
		Status:   string(profile.VerificationStatus),
	})
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID string, data any, opts ...pkgkafka.EventOption) error {
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		opts = append(opts, pkgkafka.WithCorrelationID(id))
	}
	event, err := pkgkafka.NewEvent(topic, aggregateID, AggregateTypeIdentity, SourceAuthService, data, opts...)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
	)
	return nil
}
