package event

import (
	"github.com/google/uuid"
	"github.com/hbomb79/castid/internal/cast"
)

type (
	ProgressPayload struct {
		RunID   uuid.UUID
		Message string
	}

	ResultPayload struct {
		RunID   uuid.UUID
		Members []cast.Member
	}

	FailurePayload struct {
		RunID uuid.UUID
		Kind  string
		Error string
	}
)
