// Package interactions answers drug interaction checks against a user's
// medication profile, grounded in authoritative search results.
package interactions

import (
	"context"
	"fmt"
	"strings"

	"github.com/ssk3000x/MedLens/pkg/gateway/tools/adapters/medsearch"
	"github.com/ssk3000x/MedLens/pkg/gateway/tools/profiles"
)

const maxEvidenceHits = 3

// ErrUngrounded is returned when the search yields no authoritative source.
// The checker refuses to summarize evidence it cannot attribute.
var ErrUngrounded = fmt.Errorf("ungrounded response: no authoritative source found")

// Searcher is the slice of the medsearch client the checker uses.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]medsearch.Hit, error)
}

type Grounding struct {
	Query string   `json:"query"`
	Links []string `json:"links"`
}

type Result struct {
	UserMedications []string  `json:"user_medications"`
	Interactions    string    `json:"interactions"`
	Grounding       Grounding `json:"grounding"`
}

type Checker struct {
	Profiles profiles.Store
	Search   Searcher
}

// Check looks up the user's medications and searches authoritative sources
// for interactions between them and drugName. Every result carries at least
// one fda.gov or nih.gov link; without one the check fails with
// ErrUngrounded rather than returning unattributed text.
func (c *Checker) Check(ctx context.Context, userID, drugName string) (*Result, error) {
	drugName = strings.TrimSpace(drugName)
	if drugName == "" {
		return nil, fmt.Errorf("drug_name is required")
	}
	if c.Search == nil {
		return nil, fmt.Errorf("search client is not configured")
	}

	var meds []string
	if c.Profiles != nil {
		var err error
		meds, err = c.Profiles.Medications(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load medication profile: %w", err)
		}
	}

	query := buildQuery(drugName, meds)
	hits, err := c.Search.Search(ctx, query, 5)
	if err != nil {
		return nil, fmt.Errorf("interaction search: %w", err)
	}

	links := make([]string, 0, len(hits))
	summary := make([]string, 0, maxEvidenceHits)
	for _, hit := range hits {
		if !medsearch.IsAuthoritative(hit.URL) {
			continue
		}
		links = append(links, hit.URL)
		if snippet := strings.TrimSpace(hit.Snippet); snippet != "" && len(summary) < maxEvidenceHits {
			summary = append(summary, snippet)
		}
	}
	if len(links) == 0 {
		return nil, ErrUngrounded
	}

	interactions := strings.Join(summary, "\n")
	if interactions == "" {
		interactions = fmt.Sprintf("No interaction details returned for %s; review the linked sources.", drugName)
	}

	if meds == nil {
		meds = []string{}
	}
	return &Result{
		UserMedications: meds,
		Interactions:    interactions,
		Grounding:       Grounding{Query: query, Links: links},
	}, nil
}

func buildQuery(drugName string, meds []string) string {
	if len(meds) == 0 {
		return drugName + " drug interactions"
	}
	return fmt.Sprintf("%s drug interactions with %s", drugName, strings.Join(meds, ", "))
}
