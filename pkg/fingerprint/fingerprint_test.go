package fingerprint

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHash(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", ContentHash([]byte("abc")))
}

func TestHashWithDomainSeparatesDomains(t *testing.T) {
	data := []byte("same")
	assert.NotEqual(t, HashWithDomain(DomainEntityIdentity, data), HashWithDomain(DomainRelationship, data))
	assert.Equal(t, HashWithDomain(DomainEntityIdentity, data), HashWithDomain(DomainEntityIdentity, data))
	assert.Len(t, HashWithDomain(DomainOwner, data), 64)
}

func TestCanonicalJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "sorts keys", input: `{"b":1,"a":2}`, expected: `{"a":2,"b":1}`},
		{name: "nested", input: `{"z":{"y":[3,{"b":true,"a":null}]}}`, expected: `{"z":{"y":[3,{"a":null,"b":true}]}}`},
		{name: "whitespace", input: " [ 1 , \"x\" ] ", expected: `[1,"x"]`},
		{name: "number forms", input: `1.0`, expected: `1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := CanonicalJSON(json.RawMessage(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestCanonicalJSONRejectsInvalid(t *testing.T) {
	_, err := CanonicalJSON(json.RawMessage(`{"a":`))
	assert.Error(t, err)
}

func TestGenerateIgnoresKeyOrder(t *testing.T) {
	a := Generate(map[string]any{"x": 1.0, "y": "z"})
	b := Generate(map[string]any{"y": "z", "x": 1.0})
	assert.Equal(t, a, b)
}
