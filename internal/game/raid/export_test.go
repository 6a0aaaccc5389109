package raid

import (
	"context"

	"github.com/google/uuid"
)

// ExpireSession runs the expiry of one session directly, as a stale timer
// would.
func (m *Manager) ExpireSession(ctx context.Context, playerID string, sessionID uuid.UUID) error {
	return m.expire(ctx, playerID, sessionID)
}
