package intent

import (
	"sort"
	"strings"

	"github.com/forgemcp/concierge/pkg/models"
)

// Fixed vocabularies for lexical entity extraction. Matching is
// case-insensitive and bounded at word edges so "django" does not match
// "go". Aliases map surface forms to one canonical token.
var (
	technologyVocab = map[string]string{
		"angular": "angular", "aws": "aws", "django": "django",
		"docker": "docker", "elasticsearch": "elasticsearch",
		"fastapi": "fastapi", "flask": "flask", "go": "go",
		"golang": "go", "graphql": "graphql", "grpc": "grpc",
		"java": "java", "javascript": "javascript", "kafka": "kafka",
		"kubernetes": "kubernetes", "mongodb": "mongodb", "mysql": "mysql",
		"node": "node", "nodejs": "node", "postgres": "postgres",
		"postgresql": "postgres", "python": "python", "rabbitmq": "rabbitmq",
		"react": "react", "redis": "redis", "rust": "rust",
		"spring": "spring", "typescript": "typescript", "vue": "vue",
	}

	featureVocab = map[string]string{
		"admin panel": "admin panel", "analytics": "analytics",
		"authentication": "authentication", "authorization": "authorization",
		"caching": "caching", "chat": "chat", "dashboard": "dashboard",
		"email": "email", "file upload": "file upload", "login": "login",
		"messaging": "messaging", "notification": "notifications",
		"notifications": "notifications", "payment": "payments",
		"payments": "payments", "rate limiting": "rate limiting",
		"reporting": "reporting", "search": "search", "signup": "signup",
		"streaming": "streaming", "user management": "user management",
	}

	projectTypeVocab = map[string]string{
		"api": "api", "backend": "backend", "blog": "blog", "cli": "cli",
		"dashboard": "dashboard", "e-commerce": "e-commerce",
		"frontend": "frontend", "library": "library",
		"microservice": "microservice", "mobile app": "mobile app",
		"rest api": "rest api", "service": "service", "web app": "web app",
		"web application": "web app", "website": "website",
	}
)

// ExtractEntities runs the deterministic lexical pass over the fixed
// technology, feature, and project-type vocabularies. The output lists are
// sorted and de-duplicated; the same input always yields the same output.
func ExtractEntities(text string) models.Entities {
	lower := strings.ToLower(text)
	return models.Entities{
		Technologies: matchVocab(lower, technologyVocab),
		Features:     matchVocab(lower, featureVocab),
		ProjectTypes: matchVocab(lower, projectTypeVocab),
	}
}

func matchVocab(lower string, vocab map[string]string) []string {
	seen := map[string]bool{}
	var out []string
	for token, canonical := range vocab {
		if containsToken(lower, token) && !seen[canonical] {
			seen[canonical] = true
			out = append(out, canonical)
		}
	}
	sort.Strings(out)
	return out
}

// containsToken reports whether token occurs in s bounded by word edges.
func containsToken(s, token string) bool {
	for start := 0; ; {
		idx := strings.Index(s[start:], token)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(token)
		leftOK := idx == 0 || !isWordChar(s[idx-1])
		rightOK := end == len(s) || !isWordChar(s[end])
		if leftOK && rightOK {
			return true
		}
		start = idx + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_'
}
