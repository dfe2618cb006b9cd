package llm

import (
	"fmt"
	"strings"
)

const digestPrompt = `You are a memory compressor. Combine the following memories into a single paragraph that preserves every concrete fact and decision. Do not add information that is not present.

Memories:
%s

Respond with ONLY the paragraph. No explanation, no formatting.`

const clusterLabelPrompt = `You are labeling a cluster of related memories. Read the sample below and produce a short label (at most 5 words) and a one-sentence description of what connects them.

Sample:
%s

Respond ONLY with JSON, no markdown:
{"label":"short label","description":"one sentence"}`

const episodeSummaryPrompt = `You are summarizing an episode named %q. Given the memories below, produce a short summary (2-3 sentences) of what happened.

Memories:
%s

Respond with ONLY the summary text. No explanation, no formatting.`

const evolvePrompt = `You maintain an agent's memory graph. A new memory is about to be stored. Compare it against the existing candidates and classify the relationship.

New memory:
%s

Existing candidates:
%s
Rules:
- "conflicts" lists candidate indexes whose content the new memory contradicts or replaces.
- "updates" lists candidate indexes the new memory refines without contradicting; the first one will be edited in place.
- "novel" is true when the new memory is unrelated to every candidate.
- An index may appear in at most one list.

Respond ONLY with JSON, no markdown:
{"conflicts":[],"updates":[],"novel":true}`

// DigestPrompt builds the compression prompt for a set of memory texts.
func DigestPrompt(texts []string) string {
	return fmt.Sprintf(digestPrompt, numbered(texts))
}

// ClusterLabelPrompt builds the labeling prompt for a cluster sample.
func ClusterLabelPrompt(texts []string) string {
	return fmt.Sprintf(clusterLabelPrompt, numbered(texts))
}

// EpisodeSummaryPrompt builds the summarization prompt for an episode.
func EpisodeSummaryPrompt(name string, texts []string) string {
	return fmt.Sprintf(episodeSummaryPrompt, name, numbered(texts))
}

// EvolvePrompt builds the classification prompt comparing a new text
// against existing candidates. Candidate indexes in the response are
// zero-based positions in the given slice.
func EvolvePrompt(newText string, candidates []string) string {
	var sb strings.Builder
	for i, c := range candidates {
		sb.WriteString(fmt.Sprintf("[%d] %s\n", i, c))
	}
	return fmt.Sprintf(evolvePrompt, newText, sb.String())
}

func numbered(texts []string) string {
	var sb strings.Builder
	for i, t := range texts {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, t))
	}
	return sb.String()
}
