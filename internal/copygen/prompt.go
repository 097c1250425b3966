package copygen

import (
	"fmt"
	"strings"

	"clipwright/internal/batch"
	"clipwright/internal/models"
)

// Request describes what the model is asked to write.
type Request struct {
	Project *models.Project
	// Target is the only sequence to write in regen mode; nil in bulk.
	Target        *int
	PreviousDraft string
	Instructions  string
}

// SystemPrompt returns the format contract for req.
func SystemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are a senior copywriter for short-form video ads.\n\n")
	if req.Target == nil {
		fmt.Fprintf(&b, "Write exactly %d distinct marketing copies.\n", batch.BulkCopyCount)
		fmt.Fprintf(&b, "Start each copy with a line of the form ===COPY-n=== where n runs from 1 to %d.\n", batch.BulkCopyCount)
	} else {
		fmt.Fprintf(&b, "Write exactly one marketing copy.\n")
		fmt.Fprintf(&b, "Start it with the line ===COPY-%d=== and write no other section.\n", *req.Target)
	}
	b.WriteString("Do not add commentary before or after the copies.")
	return b.String()
}

// UserPrompt returns the brief for req.
func UserPrompt(req Request) string {
	var b strings.Builder
	p := req.Project
	if p != nil {
		fmt.Fprintf(&b, "Project: %s\n", p.Name)
		fmt.Fprintf(&b, "Product: %s\n", p.Product)
		if p.Audience != "" {
			fmt.Fprintf(&b, "Audience: %s\n", p.Audience)
		}
		if p.Tone != "" {
			fmt.Fprintf(&b, "Tone: %s\n", p.Tone)
		}
		if len(p.KeyPoints) > 0 {
			b.WriteString("Key points:\n")
			for _, kp := range p.KeyPoints {
				fmt.Fprintf(&b, "- %s\n", kp)
			}
		}
	}
	if req.PreviousDraft != "" {
		b.WriteString("\nPrevious draft (edited by the user, keep what works):\n")
		b.WriteString(req.PreviousDraft)
		b.WriteString("\n")
	}
	if req.Instructions != "" {
		b.WriteString("\nCorrection instructions:\n")
		b.WriteString(req.Instructions)
		b.WriteString("\n")
	}
	return b.String()
}
