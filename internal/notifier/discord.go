package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/ftpmirror/internal/transfer"
)

// maxFailedListed caps how many failed files are spelled out in a message.
const maxFailedListed = 10

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// SummaryMessage renders a job summary for chat.
func SummaryMessage(s transfer.Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Mirror job %s finished: **%s**\n", s.JobID, s.Status)

	if s.Status == transfer.JobFailed {
		fmt.Fprintf(&b, "Error: %s", s.Error)

		return b.String()
	}

	fmt.Fprintf(&b, "Succeeded: %d/%d (%s), skipped: %d",
		s.Succeeded, s.Attempted, humanize.Bytes(uint64(s.Bytes)), s.Skipped)

	if !s.StartedAt.IsZero() && !s.FinishedAt.IsZero() {
		fmt.Fprintf(&b, ", took %s", s.FinishedAt.Sub(s.StartedAt).Round(time.Second))
	}

	if s.Cancelled {
		b.WriteString("\nThe job was cancelled before all files were processed.")
	}

	for i, f := range s.Failed {
		if i == maxFailedListed {
			fmt.Fprintf(&b, "\n...and %d more", len(s.Failed)-maxFailedListed)

			break
		}

		fmt.Fprintf(&b, "\n- %s: %s", f.Filename, f.Reason)
	}

	return b.String()
}
