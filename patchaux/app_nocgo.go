//go:build tinygo || !cgo

package patchaux

import (
	"context"
	"errors"
)

func Run(ctx context.Context, cfg Config) error {
	return errors.New("patchaux: require cgo for windowed rendering")
}
