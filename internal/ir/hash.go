package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Domain prefixes for content-addressed identity.
// The version suffix allows the encoding to change without silently
// colliding with identifiers minted by an older planner.
const (
	DomainDatasource = "grainplan/datasource/v1"
	DomainPlan       = "grainplan/plan/v1"
)

// idLength is the number of hex characters kept from the SHA-256 digest.
const idLength = 16

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DatasourceID computes the identifier of a composite datasource from its
// canonical structural description. Callers are responsible for making the
// description order-independent (sorted child ids, sorted joins).
func DatasourceID(structure Object) (string, error) {
	canonical, err := MarshalCanonical(structure)
	if err != nil {
		return "", fmt.Errorf("DatasourceID: %w", err)
	}
	return "q_" + hashWithDomain(DomainDatasource, canonical)[:idLength], nil
}

// MustDatasourceID is like DatasourceID but panics on error.
// Use only when the structure is built from strings, ints and bools.
func MustDatasourceID(structure Object) string {
	id, err := DatasourceID(structure)
	if err != nil {
		panic(err)
	}
	return id
}

// PlanFingerprint hashes a canonical plan summary. Two compilations of the
// same statement against the same environment share a fingerprint.
func PlanFingerprint(summary Object) (string, error) {
	canonical, err := MarshalCanonical(summary)
	if err != nil {
		return "", fmt.Errorf("PlanFingerprint: %w", err)
	}
	return hashWithDomain(DomainPlan, canonical), nil
}

// CTEName derives a stable, SQL-safe CTE name from a datasource identifier.
func CTEName(identifier string) string {
	return "cte_" + strconv.FormatUint(xxhash.Sum64String(identifier), 36)
}
