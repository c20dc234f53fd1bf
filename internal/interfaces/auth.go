package interfaces

import (
	"context"

	"broker-streaming/internal/types"
)

// TokenGenerator runs one provider login ceremony
type TokenGenerator interface {
	GenerateToken(ctx context.Context) (*types.TokenBundle, error)
}
