package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sells-group/contact-resolver/internal/model"
)

// Prompt is a provider-neutral completion request.
type Prompt struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int64
}

// SystemText renders the instructions and worked examples. It is identical
// for every batch so providers can cache it.
func (r *Rules) SystemText() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(r.Persona))
	b.WriteString("\n\n")
	b.WriteString(strings.TrimSpace(r.Task))
	b.WriteString("\n\nCRITICAL RULES (these override all other evidence)\n")
	for i, hr := range r.HardRules {
		fmt.Fprintf(&b, "%d. %s\n", i+1, hr.Rule)
		if hr.Exception != "" {
			fmt.Fprintf(&b, "   Exception: %s\n", hr.Exception)
		}
	}

	if len(r.Examples) > 0 {
		b.WriteString("\nEXAMPLES (study these hard negatives)\n")
		for i, ex := range r.Examples {
			fmt.Fprintf(&b, "\n[EXAMPLE %d: %s]\n", i+1, ex.Label)
			fmt.Fprintf(&b, "Entity A: %s\n", mustJSON(ex.A))
			fmt.Fprintf(&b, "Entity B: %s\n", mustJSON(ex.B))
			fmt.Fprintf(&b, "Decision: %s\n", mustJSON(ex.Decision))
		}
	}

	b.WriteString("\nOUTPUT\n")
	b.WriteString(strings.TrimSpace(r.OutputFormat))
	return b.String()
}

// UserText renders the numbered target pairs for one batch.
func UserText(pairs []model.Pair) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the following %d pair(s). Output a JSON array with %d element(s).\n\n", len(pairs), len(pairs))
	for i, p := range pairs {
		fmt.Fprintf(&b, "Target Pair %d:\n", i+1)
		fmt.Fprintf(&b, "Entity A: %s\n", mustJSON(p.A))
		fmt.Fprintf(&b, "Entity B: %s\n\n", mustJSON(p.B))
	}
	return strings.TrimRight(b.String(), "\n")
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
