// Package mention finds @mentions in free text and resolves them to users of
// one organization.
package mention

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"taskhub/api/internal/store"
)

// An email-like token is tried before a dotted identifier so "@ada@acme.io"
// is read as one address. Word characters are Unicode letters, marks,
// digits and underscore, so "@José" is not cut at the accent.
var pattern = regexp.MustCompile(`(?:^|[^\p{L}\p{M}\p{N}_.@])@([\p{L}\p{M}\p{N}._%+\-]+@[\p{L}\p{M}\p{N}\-]+(?:\.[\p{L}\p{M}\p{N}\-]+)*\.\p{L}{2,}|[\p{L}\p{M}\p{N}_]+(?:\.[\p{L}\p{M}\p{N}_]+)*)`)

// Extract returns the lower-cased mention tokens of text in order of first
// appearance, without duplicates.
func Extract(text string) []string {
	matches := pattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool, len(matches))
	tokens := make([]string, 0, len(matches))
	for _, match := range matches {
		token := strings.ToLower(match[1])
		if seen[token] {
			continue
		}
		seen[token] = true
		tokens = append(tokens, token)
	}
	return tokens
}

type Directory interface {
	ListOrganizationUsers(ctx context.Context, organizationID string) ([]store.User, error)
}

// Resolve maps tokens to user ids of organizationID by case-insensitive
// match on email or name. A name also matches with its spaces written as
// dots. Tokens that match nobody are dropped.
func Resolve(ctx context.Context, dir Directory, organizationID string, tokens []string) ([]string, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	users, err := dir.ListOrganizationUsers(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list organization users: %w", err)
	}

	index := make(map[string][]string, len(users)*3)
	add := func(key, userID string) {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			return
		}
		for _, existing := range index[key] {
			if existing == userID {
				return
			}
		}
		index[key] = append(index[key], userID)
	}
	for _, user := range users {
		if user.OrganizationID != organizationID {
			continue
		}
		add(user.Email, user.ID)
		add(user.Name, user.ID)
		add(strings.Join(strings.Fields(user.Name), "."), user.ID)
	}

	seen := map[string]bool{}
	ids := make([]string, 0, len(tokens))
	for _, token := range tokens {
		for _, id := range index[strings.ToLower(token)] {
			if seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}
