package ports

import (
	"context"

	"streamrelay/internal/core/domain"
)

// CommandHandler turns one line of chat input into reply lines.
type CommandHandler interface {
	Dispatch(ctx context.Context, userID domain.UserID, text string) []string
}
