package types

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// EntityIDSeparator separates the provider name and the identifier in the string form.
const EntityIDSeparator = "::"

// ErrInvalidEntityID is returned when an entity id string cannot be parsed.
var ErrInvalidEntityID = errors.New("invalid entity id")

// EntityID identifies the external entity tracked by a workflow item.
// Numeric identifiers are stored as int64, everything else as string,
// so two EntityID values can be compared with ==.
type EntityID struct {
	providerName string
	identifier   any
}

// NewEntityID creates an EntityID. Integer identifiers, integral floats and
// numeric strings are normalized to int64, UUID strings to their canonical
// lowercase form. Unsigned values above math.MaxInt64 are kept as strings.
func NewEntityID(providerName string, identifier any) EntityID {
	return EntityID{providerName: providerName, identifier: normalizeIdentifier(identifier)}
}

// ParseEntityID parses the canonical "provider::id" form.
func ParseEntityID(value string) (EntityID, error) {
	provider, id, ok := strings.Cut(value, EntityIDSeparator)
	if !ok || provider == "" || id == "" {
		return EntityID{}, fmt.Errorf("%w: %q", ErrInvalidEntityID, value)
	}
	return NewEntityID(provider, id), nil
}

// MustParseEntityID is like ParseEntityID but panics on malformed input.
func MustParseEntityID(value string) EntityID {
	id, err := ParseEntityID(value)
	if err != nil {
		panic(err)
	}
	return id
}

func normalizeIdentifier(identifier any) any {
	switch v := identifier.(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		if v > math.MaxInt64 {
			return strconv.FormatUint(v, 10)
		}
		return int64(v)
	case float32:
		return normalizeIdentifier(float64(v))
	case float64:
		if v == math.Trunc(v) && v >= math.MinInt64 && v < math.MaxInt64 {
			return int64(v)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		if u, err := uuid.Parse(v); err == nil {
			return u.String()
		}
		return v
	case fmt.Stringer:
		return normalizeIdentifier(v.String())
	default:
		return fmt.Sprint(v)
	}
}

// ProviderName returns the name of the data provider owning the entity.
func (id EntityID) ProviderName() string {
	return id.providerName
}

// Identifier returns the identifier, either an int64 or a string.
func (id EntityID) Identifier() any {
	return id.identifier
}

// IsZero reports whether the id was never set.
func (id EntityID) IsZero() bool {
	return id.providerName == "" && id.identifier == nil
}

// Equals compares two ids by value.
func (id EntityID) Equals(other EntityID) bool {
	return id == other
}

// String returns the canonical "provider::id" form.
func (id EntityID) String() string {
	if id.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s%s%v", id.providerName, EntityIDSeparator, id.identifier)
}

// MarshalText encodes the id in its canonical string form.
func (id EntityID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText decodes the canonical string form.
func (id *EntityID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*id = EntityID{}
		return nil
	}
	parsed, err := ParseEntityID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
