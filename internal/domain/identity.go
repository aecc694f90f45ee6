package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var identityPartRegex = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// Identity selects which ledger store a process works against.
type Identity struct {
	Entity       string
	Jurisdiction string
	Broker       string
	BotID        string
}

// ParseIdentity parses "ENTITY_JURISDICTION_BROKER_BOTID".
func ParseIdentity(s string) (Identity, error) {
	parts := strings.Split(strings.TrimSpace(s), "_")
	if len(parts) != 4 {
		return Identity{}, fmt.Errorf("%w: expected ENTITY_JURISDICTION_BROKER_BOTID, got %q", ErrInvalidIdentity, s)
	}

	id := Identity{
		Entity:       parts[0],
		Jurisdiction: parts[1],
		Broker:       parts[2],
		BotID:        parts[3],
	}

	return id, id.Validate()
}

// Validate checks that every part is present and safe to embed in a schema name.
func (i Identity) Validate() error {
	for _, p := range []string{i.Entity, i.Jurisdiction, i.Broker, i.BotID} {
		if !identityPartRegex.MatchString(p) {
			return fmt.Errorf("%w: invalid part %q", ErrInvalidIdentity, p)
		}
	}
	return nil
}

func (i Identity) String() string {
	return strings.Join([]string{i.Entity, i.Jurisdiction, i.Broker, i.BotID}, "_")
}

// SchemaName is the Postgres schema holding this identity's ledger store.
func (i Identity) SchemaName() string {
	name := "ledger_" + strings.ToLower(i.String())
	return strings.ReplaceAll(name, "-", "_")
}
