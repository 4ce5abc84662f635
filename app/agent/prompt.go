package agent

import (
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"

	"contractrag/rag"
	"contractrag/types"
)

const analysisSystemPrompt = `You are an expert contract attorney with 20+ years of experience in contract law, risk assessment and legal document analysis.
Provide thorough, accurate and actionable contract analysis.
Answer with a single JSON object and nothing else.`

const askSystemPrompt = `You are an experienced contract attorney who explains contracts in plain English.
Answer clearly and to the point, using only the given context.
If the context is empty or doesn't contain any information to answer, say 'No information for this request.'
Don't add introductions like 'Of course!' or 'Here's the answer:'`

const focusAreas = `Focus on identifying:
1. Unfair or heavily one-sided terms
2. Unclear or ambiguous language
3. Missing standard protections
4. Excessive liability or penalty clauses
5. Problematic termination or renewal terms
6. Intellectual property concerns
7. Confidentiality and non-disclosure issues
8. Payment and delivery terms
9. Dispute resolution mechanisms
10. Compliance and regulatory considerations`

const responseFormat = `Provide your analysis in the following JSON format:
{
  "risk_score": <integer from 0 to 10, where 10 is highest risk>,
  "summary": "<brief 2-3 sentence summary of overall contract assessment>",
  "risky_clauses": [
    {
      "clause_type": "<type of risky clause>",
      "description": "<the specific clause and why it is risky>",
      "recommendation": "<specific recommendation to address this risk>",
      "risk_level": "<high|medium|low>"
    }
  ],
  "missing_protections": [
    {
      "protection_type": "<type of missing protection>",
      "description": "<what protection is missing>",
      "importance": "<why this protection is important>",
      "suggested_clause": "<suggested clause language to add>"
    }
  ],
  "detailed_analysis": "<key terms, obligations, termination, liability, intellectual property, confidentiality, dispute resolution>"
}`

// sourceTag labels one retrieved chunk so the model can cite it.
func sourceTag(n int, m types.ChunkMetadata) string {
	return fmt.Sprintf("[Source %d | %s | %s | %s | %s]",
		n,
		m.Filename,
		types.OrUnspecified(m.SourceAuthority),
		types.OrUnspecified(m.ContractType),
		types.OrUnspecified(m.Jurisdiction),
	)
}

func writeSources(sb *strings.Builder, chunks []types.ScoredChunk) {
	for i, sc := range chunks {
		sb.WriteString(sourceTag(i+1, sc.Chunk.Metadata))
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(sc.Chunk.Text))
		sb.WriteString("\n\n")
	}
}

// truncateMiddle keeps the first and last halves of the token budget and
// replaces the rest with an omission marker.
func truncateMiddle(tok rag.Tokenizer, text string, budget int) string {
	if budget <= 0 {
		return text
	}
	tokens := tok.Split(text)
	if len(tokens) <= budget {
		return text
	}
	head := budget / 2
	tail := budget - head
	omitted := len(tokens) - budget

	return tok.Join(tokens[:head]) +
		fmt.Sprintf("\n\n[... %d tokens omitted ...]\n\n", omitted) +
		tok.Join(tokens[len(tokens)-tail:])
}

// synopsis is the leading slice of the contract used as the retrieval query.
func synopsis(tok rag.Tokenizer, text string, n int) string {
	tokens := tok.Split(text)
	if n > 0 && len(tokens) > n {
		tokens = tokens[:n]
	}
	return strings.TrimSpace(tok.Join(tokens))
}

func buildAnalysisPrompt(req types.AnalysisRequest, document string, chunks []types.ScoredChunk) string {
	var sb strings.Builder

	sb.WriteString("Please analyze the following contract and provide a comprehensive risk assessment.\n")
	if req.Jurisdiction != "" {
		fmt.Fprintf(&sb, "JURISDICTION: %s\n", req.Jurisdiction)
	}
	if req.ContractType != "" {
		fmt.Fprintf(&sb, "CONTRACT TYPE: %s\n", req.ContractType)
	}

	if len(chunks) > 0 {
		sb.WriteString("\nREFERENCE MATERIAL (authoritative guidance, cite by source number where relevant):\n\n")
		writeSources(&sb, chunks)
	}

	sb.WriteString("\nCONTRACT TEXT:\n<<<\n")
	sb.WriteString(document)
	sb.WriteString("\n>>>\n\n")

	sb.WriteString(responseFormat)
	sb.WriteString("\n\n")
	sb.WriteString(focusAreas)
	sb.WriteString("\n")

	if req.Jurisdiction != "" {
		fmt.Fprintf(&sb, "\nConsider the specific jurisdiction (%s) laws and requirements.", req.Jurisdiction)
	}
	if req.ContractType != "" {
		fmt.Fprintf(&sb, "\nFocus on issues specific to %s contracts.", req.ContractType)
	}
	sb.WriteString("\nProvide specific, actionable recommendations for each identified issue.\n")
	return sb.String()
}

func buildAskPrompt(question, context string, params types.AskParams) string {
	var sb strings.Builder
	sb.WriteString("Answer the question based on the given context. Cite the source numbers you used.\n")
	if params.Jurisdiction != "" {
		fmt.Fprintf(&sb, "JURISDICTION: %s\n", params.Jurisdiction)
	}
	if params.ContractType != "" {
		fmt.Fprintf(&sb, "CONTRACT TYPE: %s\n", params.ContractType)
	}
	fmt.Fprintf(&sb, "Context:\n%s\nQuestion:\n%s\nAnswer:", context, question)
	return sb.String()
}

var analysisSchema = &jsonschema.Definition{
	Type: jsonschema.Object,
	Properties: map[string]jsonschema.Definition{
		"risk_score": {
			Type:        jsonschema.Integer,
			Description: "Overall risk from 0 (none) to 10 (highest)",
		},
		"summary": {Type: jsonschema.String},
		"risky_clauses": {
			Type: jsonschema.Array,
			Items: &jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"clause_type":    {Type: jsonschema.String},
					"description":    {Type: jsonschema.String},
					"recommendation": {Type: jsonschema.String},
					"risk_level":     {Type: jsonschema.String, Enum: []string{"high", "medium", "low"}},
				},
				Required: []string{"clause_type", "description", "recommendation", "risk_level"},
			},
		},
		"missing_protections": {
			Type: jsonschema.Array,
			Items: &jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"protection_type":  {Type: jsonschema.String},
					"description":      {Type: jsonschema.String},
					"importance":       {Type: jsonschema.String},
					"suggested_clause": {Type: jsonschema.String},
				},
				Required: []string{"protection_type", "description", "importance", "suggested_clause"},
			},
		},
		"detailed_analysis": {Type: jsonschema.String},
	},
	Required: []string{"risk_score", "summary", "risky_clauses", "missing_protections", "detailed_analysis"},
}
