package rag

import "strings"

// CanAccessDocument decides whether actor may read doc, given that actor
// already has workspace read access. An empty AllowedRoles list leaves the
// document open to anyone who can read the workspace; a non-empty list
// restricts it to the document's owner, an ADMIN actor, or an actor whose
// role appears (case-insensitively) in the list.
func CanAccessDocument(doc Document, actor Actor) bool {
	if actor.IsAdmin() {
		return true
	}
	if doc.OwnerUserID == actor.UserID {
		return true
	}
	if len(doc.AllowedRoles) == 0 {
		return true
	}
	actorRole := strings.ToLower(string(actor.Role))
	for _, role := range doc.AllowedRoles {
		if strings.ToLower(role) == actorRole {
			return true
		}
	}
	return false
}

// FilterDocuments returns the subset of docs actor may access, preserving order.
func FilterDocuments(docs []Document, actor Actor) []Document {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if CanAccessDocument(doc, actor) {
			out = append(out, doc)
		}
	}
	return out
}

// FilterScoredChunks drops chunks whose owning document actor cannot access,
// applied after vector search and before MMR re-ranking.
func FilterScoredChunks(chunks []ScoredChunk, actor Actor) []ScoredChunk {
	out := make([]ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if CanAccessDocument(c.Document, actor) {
			out = append(out, c)
		}
	}
	return out
}
