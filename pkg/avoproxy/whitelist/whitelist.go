// Package whitelist holds the GraphQL documents the proxy is willing to
// forward, per caller namespace.
package whitelist

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/mikepea/avoproxy/pkg/avoproxy/gate"
)

var (
	//go:embed client.json
	clientQueries []byte
	//go:embed server.json
	serverQueries []byte
)

// Whitelist maps operation names to query documents. It is read-only after Load.
type Whitelist struct {
	queries map[gate.Namespace]map[string]string
	// byText finds the name of a raw query sent instead of a name.
	byText map[gate.Namespace]map[string]string
}

// Load parses the embedded documents.
func Load() (*Whitelist, error) {
	return New(map[gate.Namespace][]byte{
		gate.Client: clientQueries,
		gate.Server: serverQueries,
	})
}

// New parses name to query JSON documents per namespace.
func New(docs map[gate.Namespace][]byte) (*Whitelist, error) {
	w := &Whitelist{
		queries: map[gate.Namespace]map[string]string{},
		byText:  map[gate.Namespace]map[string]string{},
	}
	for ns, doc := range docs {
		var queries map[string]string
		if err := json.Unmarshal(doc, &queries); err != nil {
			return nil, fmt.Errorf("parse %s whitelist: %w", ns, err)
		}
		byText := make(map[string]string, len(queries))
		for name, query := range queries {
			if strings.TrimSpace(query) == "" {
				return nil, fmt.Errorf("%s whitelist entry %s is empty", ns, name)
			}
			byText[normalize(query)] = name
		}
		w.queries[ns] = queries
		w.byText[ns] = byText
	}
	return w, nil
}

// Resolve accepts an operation name or the exact text of a whitelisted
// query (whitespace differences aside) and returns the name and the
// document to forward.
func (w *Whitelist) Resolve(ns gate.Namespace, nameOrQuery string) (name, query string, ok bool) {
	queries := w.queries[ns]
	if q, found := queries[nameOrQuery]; found {
		return nameOrQuery, q, true
	}
	if n, found := w.byText[ns][normalize(nameOrQuery)]; found {
		return n, queries[n], true
	}
	return "", "", false
}

// Names lists the operation names of a namespace, sorted.
func (w *Whitelist) Names(ns gate.Namespace) []string {
	names := make([]string, 0, len(w.queries[ns]))
	for name := range w.queries[ns] {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
