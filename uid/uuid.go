package uid

import (
	"context"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type UUIDOptions struct {
	Version string `cfg:"version" def:"v4" validate:"oneof=v1 v4 v6 v7"`
	// WithHyphens 是否保留中划线
	WithHyphens bool `cfg:"withHyphens" def:"true"`
}

type UUIDGenerator struct {
	version     string
	withHyphens bool
}

func NewUUIDGeneratorWithOptions(options *UUIDOptions) (*UUIDGenerator, error) {
	if options == nil {
		options = &UUIDOptions{Version: "v4", WithHyphens: true}
	}
	version := options.Version
	switch version {
	case "":
		version = "v4"
	case "v1", "v4", "v6", "v7":
	default:
		return nil, errors.Errorf("unsupported uuid version %q", version)
	}

	return &UUIDGenerator{
		version:     version,
		withHyphens: options.WithHyphens,
	}, nil
}

func (g *UUIDGenerator) Generate(ctx context.Context) (string, error) {
	var u uuid.UUID
	var err error
	switch g.version {
	case "v1":
		u, err = uuid.NewUUID()
	case "v6":
		u, err = uuid.NewV6()
	case "v7":
		u, err = uuid.NewV7()
	default:
		u, err = uuid.NewRandom()
	}
	if err != nil {
		return "", errors.Wrapf(err, "generate uuid %s failed", g.version)
	}

	if g.withHyphens {
		return u.String(), nil
	}
	return hex.EncodeToString(u[:]), nil
}
