package attack

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseArguments turns key=value pairs into a tool argument map. A value
// that is valid JSON (number, bool, array, object, quoted string, null)
// keeps its JSON type; anything else is passed as a plain string.
func ParseArguments(pairs []string) (map[string]interface{}, error) {
	args := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q: want key=value", pair)
		}
		if _, dup := args[key]; dup {
			return nil, fmt.Errorf("argument %q given more than once", key)
		}

		var decoded interface{}
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			args[key] = decoded
		} else {
			args[key] = value
		}
	}
	return args, nil
}
