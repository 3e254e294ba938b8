package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/mission-stats/internal/core/domain"
)

// Reply is what the chat collaborator shows to the submitter only.
type Reply struct {
	Visibility string            `json:"visibility"`
	Status     string            `json:"status"`
	RecordID   string            `json:"record_id,omitempty"`
	Confidence float64           `json:"confidence"`
	Fields     map[string]string `json:"fields,omitempty"`
	Flagged    []string          `json:"flagged_fields,omitempty"`
	ErrorCode  string            `json:"error_code,omitempty"`
	Message    string            `json:"message,omitempty"`
	Summary    string            `json:"summary"`
}

func BuildReply(res *domain.SubmissionResult) Reply {
	reply := Reply{
		Visibility: "submitter",
		Status:     string(res.Status),
		Confidence: res.Confidence,
		ErrorCode:  string(res.Code),
		Message:    res.Message,
	}

	if res.Status == domain.StatusRejected || res.Record == nil {
		reply.Summary = "Submission rejected: " + res.Message
		return reply
	}

	reply.RecordID = res.Record.ID
	reply.Flagged = append([]string(nil), res.Flagged...)
	reply.Fields = make(map[string]string, len(res.Record.Fields))

	var sb strings.Builder
	if res.Status == domain.StatusAccepted {
		sb.WriteString("Mission stats recorded.\n")
	} else {
		sb.WriteString("Mission stats recorded with warnings.\n")
	}
	for _, f := range res.Record.Fields {
		shown := "unreadable"
		if f.Value != nil {
			shown = f.Value.String()
		}
		reply.Fields[f.Name] = shown
		fmt.Fprintf(&sb, "%s: %s\n", displayName(f.Name), shown)
	}
	if len(res.Flagged) > 0 {
		names := make([]string, 0, len(res.Flagged))
		for _, name := range res.Flagged {
			names = append(names, displayName(name))
		}
		fmt.Fprintf(&sb, "Needs Confirmation: %s\n", strings.Join(names, ", "))
	}
	reply.Summary = strings.TrimRight(sb.String(), "\n")
	return reply
}

// displayName turns p2_shots_fired into "P2 Shots Fired".
func displayName(field string) string {
	parts := strings.Split(field, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
