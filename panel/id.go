package panel

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"
)


// comparable
// ids are ulids, so ids created by the same panel order by create time.
// The text form is the 26 character ulid string.
type Id ulid.ULID

func NewId() Id {
	return Id(ulid.Make())
}

func ParseId(idStr string) (Id, error) {
	id, err := ulid.ParseStrict(idStr)
	if err != nil {
		return Id{}, fmt.Errorf("invalid id %q: %w", idStr, err)
	}
	return Id(id), nil
}

func (self Id) LessThan(b Id) bool {
	return bytes.Compare(self[:], b[:]) < 0
}

func (self Id) String() string {
	return ulid.ULID(self).String()
}

func (self Id) MarshalJSON() ([]byte, error) {
	return json.Marshal(self.String())
}

func (self *Id) UnmarshalJSON(src []byte) error {
	var idStr string
	if err := json.Unmarshal(src, &idStr); err != nil {
		return err
	}
	id, err := ParseId(idStr)
	if err != nil {
		return err
	}
	*self = id
	return nil
}
