package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// runEncoder invokes an external encoder process. The argv may contain the
// placeholders {in} and {out}, replaced with the input and output paths.
// Success means a zero exit and a non-empty output file.
func runEncoder(ctx context.Context, argv []string, inPath, outPath string) error {
	if len(argv) == 0 {
		return fmt.Errorf("encoder not configured")
	}

	args := make([]string, len(argv))
	for i, a := range argv {
		a = strings.ReplaceAll(a, "{in}", inPath)
		a = strings.ReplaceAll(a, "{out}", outPath)
		args[i] = a
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("%s produced no output", args[0])
	}
	return nil
}
