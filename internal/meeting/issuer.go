// Package meeting issues join links for confirmed consultations.
package meeting

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"

	"github.com/google/uuid"
)

// ErrRejected marks a failure that retrying the same request cannot fix.
var ErrRejected = errors.New("meeting service rejected the request")

// Issuer returns a durable join URL for an appointment. Implementations must
// be idempotent per appointment id.
type Issuer interface {
	Issue(ctx context.Context, appointmentID uuid.UUID) (string, error)
}

// RoomIssuer derives the room name from the appointment id, so the same
// appointment always maps to the same room.
type RoomIssuer struct {
	base *url.URL
}

func NewRoomIssuer(baseURL string) (*RoomIssuer, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse meeting base url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("meeting base url %q must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("meeting base url %q has no host", baseURL)
	}
	return &RoomIssuer{base: u}, nil
}

func (r *RoomIssuer) Issue(ctx context.Context, appointmentID uuid.UUID) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if appointmentID == uuid.Nil {
		return "", fmt.Errorf("%w: empty appointment id", ErrRejected)
	}

	u := *r.base
	u.Path = path.Join("/", u.Path, "consult-"+appointmentID.String())
	return u.String(), nil
}
