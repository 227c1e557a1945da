package parse

import (
	"encoding/json"
	"fmt"
	"time"
)

// Date is a calendar day decoded from JSON. Decoding fails unless the value
// is an ISO (yyyy-MM-dd) or dd/MM/yyyy string.
type Date struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		d.Time = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	t, err := StrictDate(raw)
	if err != nil {
		return fmt.Errorf("unparsable date %q: %w", raw, err)
	}
	d.Time = t
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(ISODate))
}
