package audio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"wakemic/internal/capture"
	"wakemic/internal/domain"
)

// ProbeFormat picks the container for command recordings from the encoders
// the local ffmpeg build offers. Opus in WebM is preferred over AAC in MP4.
func ProbeFormat(ctx context.Context, command string) (domain.AudioFormat, error) {
	if command == "" {
		command = "ffmpeg"
	}
	out, err := exec.CommandContext(ctx, command, "-hide_banner", "-encoders").Output()
	if err != nil {
		return "", fmt.Errorf("%w: listing ffmpeg encoders: %v", capture.ErrUnsupported, err)
	}

	encoders := parseEncoders(out)
	switch {
	case encoders["libopus"]:
		return domain.AudioFormatWebM, nil
	case encoders["aac"]:
		return domain.AudioFormatMP4, nil
	default:
		return "", fmt.Errorf("%w: ffmpeg has neither libopus nor aac", capture.ErrUnsupported)
	}
}

// parseEncoders reads `ffmpeg -encoders` output, where each encoder line is a
// six character capability field followed by the encoder name.
func parseEncoders(out []byte) map[string]bool {
	encoders := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || len(fields[0]) != 6 || fields[0][0] != 'A' {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}
