package services

import (
	"fmt"
	"strings"
)

const (
	TemplateQueryParser         = "query_parser"
	TemplateQueryParserFollowUp = "query_parser_follow_up"
	TemplateRelevanceValidator  = "relevance_validator"
	TemplateResultsSummarizer   = "results_summarizer"
)

type promptTemplate struct {
	system string
	user   string
}

// Template variables use {{name}} placeholders. Rendering fails loudly on an
// unknown template so wiring mistakes surface immediately instead of sending
// half-rendered prompts upstream.
var promptTemplates = map[string]promptTemplate{
	TemplateQueryParser: {
		system: `You are a shopping query parser. Extract structured search intent from a user's request.

Respond with a single JSON object:
{
  "search_term": "<concise product search phrase>",
  "filters": {
    "price_min": <number or null>,
    "price_max": <number or null>,
    "min_rating": <number 0-5 or null>,
    "min_reviews": <integer or null>,
    "prime": <true, false, or null>,
    "deliver_by": "<'today', 'tomorrow', a date, or null>",
    "sort_by": "<one of price-asc, price-desc, review-rank, date-desc, relevance, or null>"
  },
  "preferences": {
    "add": ["<soft preference the user wants, e.g. 'stainless steel'>"]
  }
}

Rules:
- search_term is required and should be what a person would type into a product search box.
- Filters are hard constraints the user stated explicitly. Never invent filters.
- Preferences are soft qualities ("durable", "blue", "for kids") that should boost but not exclude.
- Use null for anything the user did not ask for.`,
		user: `User request: {{user_input}}`,
	},
	TemplateQueryParserFollowUp: {
		system: `You are a shopping query parser handling a follow-up turn in an ongoing search.

The user already has an active search. Interpret their new message as a CHANGE to that search and respond with a single JSON object describing only the changes:
{
  "search_term": "<new search phrase, or null to keep the current one>",
  "new_subject": <true if the user switched to searching for a different kind of product>,
  "filters": {
    "price_min": <number, or null to keep current>,
    "price_max": <number, or null to keep current>,
    "min_rating": <number, or null to keep current>,
    "min_reviews": <integer, or null to keep current>,
    "prime": <boolean, or null to keep current>,
    "deliver_by": "<string, or null to keep current>",
    "sort_by": "<sort option, or null to keep current>"
  },
  "preferences": {
    "add": ["<new soft preferences>"],
    "remove": ["<preferences the user no longer wants>"]
  }
}

Rules:
- Only fill in fields the new message actually changes. Everything else must be null or empty.
- "make it blue" means add "blue" to preferences, not a new search.
- "actually under $50" means price_max 50, nothing else.
- Set new_subject true only when the product category itself changes; the previous filters will be discarded.`,
		user: `Current search: {{search_term}}
Current filters: {{filters}}
Current preferences: {{preferences}}
Summary of current results: {{results_summary}}

User's new message: {{user_input}}`,
	},
	TemplateRelevanceValidator: {
		system: `You judge whether a product listing matches what a shopper searched for. A listing is relevant when it is the kind of item the shopper asked for, even if brand or minor details differ. Accessories, replacement parts, or unrelated items that merely mention the search words are not relevant. Answer with exactly one word: yes or no.`,
		user: `Search: {{search_term}}
Product title: {{product_title}}
Relevant?`,
	},
	TemplateResultsSummarizer: {
		system: `You summarize product search results for a shopper. Write 2-3 sentences covering the price range, typical ratings, and anything notable about the top options. Be factual; mention only what appears in the listings. No greetings, no advice to "check the links".`,
		user: `Search: {{search_term}}

Top results:
{{product_digest}}`,
	},
}

func renderTemplate(templateID string, variables map[string]string) (string, string, error) {
	tmpl, ok := promptTemplates[templateID]
	if !ok {
		return "", "", fmt.Errorf("unknown prompt template %q", templateID)
	}
	return substitute(tmpl.system, variables), substitute(tmpl.user, variables), nil
}

func substitute(text string, variables map[string]string) string {
	for name, value := range variables {
		text = strings.ReplaceAll(text, "{{"+name+"}}", value)
	}
	return text
}
