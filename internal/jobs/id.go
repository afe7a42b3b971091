package jobs

import (
	"fmt"

	"github.com/rpattn/prodfacts/internal/domain"

	"github.com/google/uuid"
)

func parseJobID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("job %q: %w", raw, domain.ErrJobNotFound)
	}
	return id, nil
}
