// Package prompt assembles generation requests: persona, retrieved context,
// truncated conversation history, and the user query, in a fixed order.
package prompt

import (
	"fmt"
	"strings"

	"github.com/yuvabe/care-companion/internal/history"
	"github.com/yuvabe/care-companion/internal/rerank"
)

// Persona is the assistant's standing system prompt.
const Persona = `You are Yuvabe Care Companion AI, an advanced healthcare assistant designed to assist users with a wide range of health-related queries. Your role includes:

- **General Medical Guidance**: Providing basic health insights (not a replacement for a doctor).
- **Physiotherapy & Rehabilitation**: Advising on recovery exercises and therapy routines.
- **Mental Health Support**: Offering well-being tips and emotional health guidance.
- **Lifestyle & Wellness Advice**: Helping users with diet, sleep, and fitness recommendations.
- **Chronic Disease Management**: Educating users on managing conditions like diabetes, hypertension, etc.
- **Emergency Guidance**: Directing users on what to do in urgent medical situations (always recommend calling a doctor or emergency services).

Important: You are not a certified doctor. Always remind users to consult a healthcare professional for medical decisions.`

// contextDirective frames retrieved knowledge for the model.
const contextDirective = `Use the provided context to answer the question as accurately as possible. If the context is not relevant, rely on your knowledge to answer.

Context:
%s`

// noContextDirective applies when retrieval produced nothing usable.
const noContextDirective = `No relevant information was found in the knowledge base for this question. Answer from your general knowledge, and do not cite the knowledge base.`

// Truncate drops whole messages from the front of the history until the
// total content fits within budget runes. The newest turns always win; a
// single over-budget message yields an empty history rather than a partial
// message.
func Truncate(messages []history.Message, budget int) []history.Message {
	if budget <= 0 {
		return nil
	}

	total := 0
	// Walk backwards to find the newest suffix that fits.
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		size := len([]rune(messages[i].Content))
		if total+size > budget {
			break
		}
		total += size
		start = i
	}
	return messages[start:]
}

// Build produces the ordered message list for the generator:
//
//  1. persona system message
//  2. context directive (retrieved context or the no-context variant)
//  3. truncated conversation history
//  4. the user query
//
// contextText should be the joined retrieved passages; empty text or the
// no-relevant-data sentinel selects the no-context directive, so the
// sentinel is never injected as real context.
func Build(contextText string, hist []history.Message, budget int, query string) []history.Message {
	messages := make([]history.Message, 0, len(hist)+3)
	messages = append(messages, history.Message{Role: history.RoleSystem, Content: Persona})

	if text := strings.TrimSpace(contextText); text == "" || text == rerank.NoRelevantData {
		messages = append(messages, history.Message{Role: history.RoleSystem, Content: noContextDirective})
	} else {
		messages = append(messages, history.Message{
			Role:    history.RoleSystem,
			Content: fmt.Sprintf(contextDirective, contextText),
		})
	}

	messages = append(messages, Truncate(hist, budget)...)
	messages = append(messages, history.Message{Role: history.RoleUser, Content: query})
	return messages
}
