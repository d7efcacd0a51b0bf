package trace

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Redacted replaces secret values.
const Redacted = "<REDACTED>"

// Secrets masks the values of the named variables. Values are learned from
// the process environment and from every snapshot passed to Mask, so later
// log lines and outputs containing them are redacted too. A nil *Secrets
// masks nothing.
type Secrets struct {
	mu     sync.RWMutex
	names  map[string]bool
	values map[string]struct{}
}

// NewSecrets returns a masker for names.
func NewSecrets(names ...string) *Secrets {
	s := &Secrets{names: map[string]bool{}, values: map[string]struct{}{}}
	for _, n := range names {
		s.names[n] = true
		if v := os.Getenv(n); v != "" {
			s.values[v] = struct{}{}
		}
	}
	return s
}

// Mask returns a copy of variables with secret values replaced.
func (s *Secrets) Mask(variables map[string]any) map[string]any {
	if s == nil || len(s.names) == 0 || variables == nil {
		return variables
	}
	out := make(map[string]any, len(variables))
	for k, v := range variables {
		if !s.names[k] {
			out[k] = v
			continue
		}
		out[k] = Redacted
		if str := fmt.Sprint(v); str != "" {
			s.mu.Lock()
			s.values[str] = struct{}{}
			s.mu.Unlock()
		}
	}
	return out
}

// Redact replaces every known secret value in str.
func (s *Secrets) Redact(str string) string {
	if s == nil {
		return str
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for v := range s.values {
		str = strings.ReplaceAll(str, v, Redacted)
	}
	return str
}
