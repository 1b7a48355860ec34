// Package output applies transcript commit side effects (archive and clipboard).
package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// copyToClipboard pipes text into the clipboard command's stdin. Stderr is
// folded into the returned error so a failing helper explains itself.
func copyToClipboard(ctx context.Context, argv []string, text string) error {
	if len(argv) == 0 {
		return errors.New("clipboard command argv cannot be empty")
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("run %s: %w: %s", argv[0], err, msg)
		}
		return fmt.Errorf("run %s: %w", argv[0], err)
	}
	return nil
}
