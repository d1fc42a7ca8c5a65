package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ChannelList stores the resolved channel set as a JSON array column.
type ChannelList []string

func (c ChannelList) Value() (driver.Value, error) {
	if c == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(c))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal channels: %w", err)
	}
	return string(b), nil
}

func (c *ChannelList) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*c = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into ChannelList", src)
	}
	return json.Unmarshal(data, (*[]string)(c))
}

func (c ChannelList) Contains(channel string) bool {
	for _, ch := range c {
		if ch == channel {
			return true
		}
	}
	return false
}
