// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ragmock

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"unicode"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultTopK is how many passages a query retrieves.
	DefaultTopK = 6

	// DefaultMinRelevance is the best score a query must beat to be answered.
	DefaultMinRelevance = 0.2

	// NotEnoughInformation is the reply when nothing relevant is found.
	NotEnoughInformation = "I don't have enough information to answer this accurately."
)

// stopWords are ignored when scoring.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "can": {}, "do": {}, "does": {},
	"for": {}, "how": {}, "i": {}, "in": {}, "is": {}, "it": {}, "my": {},
	"of": {}, "on": {}, "or": {}, "the": {}, "to": {}, "what": {}, "when": {},
	"where": {}, "who": {}, "why": {}, "with": {}, "you": {}, "your": {},
}

// =============================================================================
// Types
// =============================================================================

// Entry is one FAQ pair.
type Entry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Source   string `json:"source"`
}

// Hit is an Entry scored against a query.
type Hit struct {
	Entry
	Score float64 `json:"score"`
}

// KnowledgeBase answers queries from a fixed FAQ set by term overlap.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type KnowledgeBase struct {
	entries []Entry
	terms   []map[string]struct{}
}

// NewKnowledgeBase indexes entries.
func NewKnowledgeBase(entries []Entry) *KnowledgeBase {
	kb := &KnowledgeBase{
		entries: append([]Entry(nil), entries...),
		terms:   make([]map[string]struct{}, len(entries)),
	}
	for i, e := range kb.entries {
		kb.terms[i] = termSet(e.Question + " " + e.Answer)
	}
	return kb
}

// LoadKnowledgeBase reads a JSON array of entries from path.
func LoadKnowledgeBase(path string) (*KnowledgeBase, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge base: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse knowledge base %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("knowledge base %s has no entries", path)
	}
	return NewKnowledgeBase(entries), nil
}

// Len returns the number of entries.
func (kb *KnowledgeBase) Len() int {
	return len(kb.entries)
}

// Search returns up to k entries with a positive score, best first.
//
// Score is the cosine similarity of the query and entry term sets, rounded to
// four decimals. Ties keep index order.
func (kb *KnowledgeBase) Search(query string, k int) []Hit {
	q := termSet(query)
	if len(q) == 0 || k <= 0 {
		return nil
	}

	hits := make([]Hit, 0, len(kb.entries))
	for i, doc := range kb.terms {
		overlap := 0
		for t := range q {
			if _, ok := doc[t]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		score := float64(overlap) / math.Sqrt(float64(len(q)*len(doc)))
		hits = append(hits, Hit{Entry: kb.entries[i], Score: math.Round(score*1e4) / 1e4})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Relevant reports whether the best hit beats threshold.
func Relevant(hits []Hit, threshold float64) bool {
	best := 0.0
	for _, h := range hits {
		best = math.Max(best, h.Score)
	}
	return best > threshold
}

func termSet(text string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, stop := stopWords[w]; stop || len(w) < 2 {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

// DefaultEntries is the built-in IT support FAQ.
func DefaultEntries() []Entry {
	return []Entry{
		{
			Question: "How do I reset my password?",
			Answer:   "Open the self-service portal, choose Forgot Password and follow the link sent to your work email. The new password must be at least 12 characters.",
			Source:   "faq/accounts.md",
		},
		{
			Question: "How do I connect to the VPN?",
			Answer:   "Install the VPN client from the software center, sign in with your work account and pick the nearest gateway. Approve the MFA prompt on your phone to finish connecting.",
			Source:   "faq/network.md",
		},
		{
			Question: "Why can't I connect to the office wifi?",
			Answer:   "Forget the Corp-Secure network, reconnect and sign in with your work account. If it still fails, make sure your laptop certificate has not expired.",
			Source:   "faq/network.md",
		},
		{
			Question: "How do I add a printer?",
			Answer:   "Open Settings, go to Printers and choose Add Printer. Office printers are named by floor, for example PRN-3F-EAST.",
			Source:   "faq/hardware.md",
		},
		{
			Question: "My laptop is running slow, what should I do?",
			Answer:   "Restart the laptop, install pending updates and close unused browser tabs. If it is still slow, open a ticket so IT can check the disk and memory.",
			Source:   "faq/hardware.md",
		},
		{
			Question: "How do I set up email on my phone?",
			Answer:   "Install the Outlook app, sign in with your work email and accept the device management policy.",
			Source:   "faq/email.md",
		},
		{
			Question: "How do I request new software?",
			Answer:   "Submit a software request in the IT portal with the product name and a business reason. Approved requests are installed through the software center.",
			Source:   "faq/software.md",
		},
		{
			Question: "How do I enable multi-factor authentication?",
			Answer:   "Go to the security page of your account, choose Set up MFA and scan the QR code with the authenticator app.",
			Source:   "faq/accounts.md",
		},
	}
}
