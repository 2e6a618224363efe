// Package clipboard puts the saved recording path on the system clipboard.
package clipboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/atotto/clipboard"
)

// ErrUnsupported is returned when no clipboard utility is available,
// e.g. on Linux without xclip, xsel or wl-copy.
var ErrUnsupported = errors.New("clipboard not supported on this system")

// Copier defines the interface for clipboard writes
type Copier interface {
	Copy(ctx context.Context, text string) error
}

type systemCopier struct {
	write       func(string) error
	unsupported bool
}

// New creates a Copier backed by the system clipboard
func New() Copier {
	return &systemCopier{
		write:       clipboard.WriteAll,
		unsupported: clipboard.Unsupported,
	}
}

func (c *systemCopier) Copy(ctx context.Context, text string) error {
	if c.unsupported {
		return ErrUnsupported
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.write(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	return nil
}
