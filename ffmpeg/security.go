package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// SplitCommand securely splits a command string into a slice of arguments.
// It prevents shell injection by not using a shell.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	return args, nil
}

// Options that would redirect input or output away from the paths the pipeline controls.
var disallowedOptions = map[string]bool{
	"-i":              true,
	"-f":              true,
	"-map":            true,
	"-filter_complex": true,
	"-vf":             true,
	"-af":             true,
	"-y":              true,
	"-n":              true,
}

// ValidateExtraArgs checks user supplied encoder options appended to every encode.
func ValidateExtraArgs(args []string) error {
	for _, arg := range args {
		if disallowedOptions[arg] {
			return fmt.Errorf("option %s is managed by the pipeline", arg)
		}
		// Block shell-like metacharacters just in case, though exec.Command prevents their execution.
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}
