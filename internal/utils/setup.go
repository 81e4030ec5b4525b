package utils

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/Riboost-Studio/print-queue-agent/internal/model"
)

// SetupAgentConfig prompts for the agent section, keeping the current value
// when the answer is empty.
func SetupAgentConfig(cfg *model.Config, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "--- Initial Setup ---")
	reader := bufio.NewReader(in)

	prompts := []struct {
		label  string
		secret bool
		field  *string
	}{
		{label: "Organization ID", field: &cfg.Agent.OrgID},
		{label: "Queue base URL", field: &cfg.Agent.BaseURL},
		{label: "Auth token", secret: true, field: &cfg.Agent.AuthToken},
		{label: "Printer address", field: &cfg.Agent.DeviceAddress},
	}

	for _, p := range prompts {
		switch {
		case *p.field == "":
			fmt.Fprintf(out, "Enter %s: ", p.label)
		case p.secret:
			fmt.Fprintf(out, "Enter %s (default: keep current): ", p.label)
		default:
			fmt.Fprintf(out, "Enter %s (default: %s): ", p.label, *p.field)
		}

		line, err := reader.ReadString('\n')
		if v := strings.TrimSpace(line); v != "" {
			*p.field = v
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p.label, err)
		}
	}
	return nil
}
