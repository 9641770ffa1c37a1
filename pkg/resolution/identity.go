package resolution

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

var (
	entityNamespace       = uuid.NewSHA1(uuid.NameSpaceURL, []byte(fingerprint.DomainEntityIdentity))
	relationshipNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte(fingerprint.DomainRelationship))
)

// IdentityKey builds the normalized identity of an entity:
// entity|<type>|<owner>|<name> followed by |<field>=<value> for every declared
// identity field present in candidates, in field order.
func IdentityKey(owner, entityType, canonicalName string, sch *models.Schema, candidates []models.CandidateObservation) (string, error) {
	name := normalizers.Identity(canonicalName)
	if name == "" {
		return "", fmt.Errorf("canonical name is empty after normalization")
	}

	var b strings.Builder
	b.WriteString("entity|")
	b.WriteString(normalizers.Identity(entityType))
	b.WriteString("|")
	b.WriteString(owner)
	b.WriteString("|")
	b.WriteString(name)

	if sch == nil {
		return b.String(), nil
	}

	fields := append([]string{}, sch.IdentityFields.Data...)
	sort.Strings(fields)
	for _, field := range fields {
		raw, ok := firstValue(candidates, field)
		if !ok {
			continue
		}
		def, _ := sch.Field(field)
		value, err := identityValue(raw, def.Normalizer)
		if err != nil {
			return "", fmt.Errorf("identity field %s: %w", field, err)
		}
		b.WriteString("|")
		b.WriteString(field)
		b.WriteString("=")
		b.WriteString(value)
	}
	return b.String(), nil
}

// EntityID is the deterministic id of the entity with identity key.
func EntityID(key string) string {
	return uuid.NewSHA1(entityNamespace, []byte(key)).String()
}

// RelationshipID is the deterministic id of an edge.
func RelationshipID(owner, sourceID, targetID string, relType models.RelationshipType) string {
	return uuid.NewSHA1(relationshipNamespace, []byte(owner+"|"+sourceID+"|"+targetID+"|"+string(relType))).String()
}

// IdentityHash is the stored form of an identity key.
func IdentityHash(key string) string {
	return fingerprint.HashWithDomain(fingerprint.DomainEntityIdentity, []byte(key))
}

func firstValue(candidates []models.CandidateObservation, field string) (json.RawMessage, bool) {
	for _, c := range candidates {
		if c.FieldName != field || c.IsCorrection {
			continue
		}
		if _, tomb := models.ParseTombstone(c.Value); tomb {
			continue
		}
		return c.Value, true
	}
	return nil, false
}

// identityValue normalizes strings with the field's normalizer and renders
// any other JSON value canonically.
func identityValue(raw json.RawMessage, normalizer string) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if normalizer == "" {
			return normalizers.Identity(s), nil
		}
		return normalizers.Apply(s, normalizer), nil
	}
	return fingerprint.CanonicalJSON(raw)
}
