package usecase

import (
	"fmt"
	"strings"

	"hwtutor/internal/domain"
)

// TutorInstruction embeds the homework analysis into the live tutor's
// system instruction.
func TutorInstruction(analysis domain.HomeworkAnalysis) string {
	subject := fallback(analysis.Subject, "their homework")
	topic := fallback(analysis.Topic, "the current problem")
	explanation := fallback(analysis.Explanation, "no explanation is available yet")

	return fmt.Sprintf(
		"You are an encouraging and patient tutor for a student studying %s and specifically %s. "+
			"Use the following context: %s. "+
			"Guide the student through problems by asking leading questions rather than just giving answers.",
		subject, topic, explanation,
	)
}

func fallback(value string, def string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return def
}
