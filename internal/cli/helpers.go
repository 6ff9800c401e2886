package cli

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	StatsKind      = "stats"
	DocumentKind   = "document"
	ResultKind     = "result"
	DeadLetterKind = "deadletter"
)

var (
	pluralKinds = map[string]string{
		StatsKind:      "stats",
		DocumentKind:   "documents",
		ResultKind:     "results",
		DeadLetterKind: "deadletters",
	}
)

func parseAndValidateKindId(arg string) (string, *uuid.UUID, error) {
	kind, rest, _ := strings.Cut(arg, "/")
	kind = singular(kind)
	if _, ok := pluralKinds[kind]; !ok {
		return "", nil, fmt.Errorf("invalid resource kind: %s", kind)
	}
	if rest == "" {
		return kind, nil, nil
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return "", nil, fmt.Errorf("invalid resource id: %s", rest)
	}
	return kind, &id, nil
}

func singular(kind string) string {
	for singular, plural := range pluralKinds {
		if kind == plural {
			return singular
		}
	}
	return kind
}

func plural(kind string) string {
	return pluralKinds[kind]
}
