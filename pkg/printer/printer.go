// Package printer hands receipts to the host's print tooling.
package printer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/wachiwi/potboy/pkg/frame"
)

const inputPlaceholder = "{input}"

var ErrNoCommand = errors.New("no print command configured")

// Command prints by running an external command such as
// "lp -d receipt {input}". The receipt is written to a temporary file that
// replaces "{input}"; without the placeholder the image is piped to stdin.
type Command struct {
	Args    []string
	Timeout time.Duration
	TempDir string
}

func (p *Command) Print(ctx context.Context, receipt frame.Frame) error {
	if len(p.Args) == 0 {
		return ErrNoCommand
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	args := make([]string, len(p.Args))
	copy(args, p.Args)

	var stdin *bytes.Reader
	usesFile := false
	for _, a := range args {
		if strings.Contains(a, inputPlaceholder) {
			usesFile = true
			break
		}
	}
	if usesFile {
		dir, err := os.MkdirTemp(p.TempDir, "print-")
		if err != nil {
			return fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(dir)
		path := filepath.Join(dir, "receipt."+receipt.Format.Ext())
		if err := os.WriteFile(path, receipt.Data, 0644); err != nil {
			return fmt.Errorf("failed to write receipt: %w", err)
		}
		for i, a := range args {
			args[i] = strings.ReplaceAll(a, inputPlaceholder, path)
		}
	} else {
		stdin = bytes.NewReader(receipt.Data)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if stdin != nil {
		cmd.Stdin = stdin
	}
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	slog.Info("Printing receipt", "command", args[0], "bytes", receipt.Len())
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("print command %s failed: %w: %s", args[0], err, bytes.TrimSpace(output.Bytes()))
	}
	slog.Info("Print complete")
	return nil
}

// Nop accepts every receipt without printing, for booths without a printer.
type Nop struct{}

func (Nop) Print(_ context.Context, receipt frame.Frame) error {
	slog.Info("[MOCK] Printing receipt", "bytes", receipt.Len(), "format", receipt.Format)
	return nil
}
