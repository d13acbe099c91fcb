package devtree

import (
	"github.com/rekby/gpt"
	uuid "github.com/satori/go.uuid"
)

// GUID - a 16 byte Globally Unique ID
type GUID [16]byte

// GenGUID - generate a random uuid and return it
func GenGUID() GUID {
	return GUID(uuid.NewV4())
}

func (g GUID) String() string {
	return GUIDToString(g)
}

// IsZero reports whether g has not been set.
func (g GUID) IsZero() bool {
	return g == GUID{}
}

// StringToGUID - convert a string to a GUID
func StringToGUID(sguid string) (GUID, error) {
	return gpt.StringToGuid(sguid)
}

// GUIDToString - turn a Guid into a string.
func GUIDToString(bguid GUID) string {
	return gpt.Guid(bguid).String()
}

// GenUUID returns a random uuid in its canonical lower case string form.
func GenUUID() string {
	return uuid.NewV4().String()
}
