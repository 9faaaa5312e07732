package secrets

import "os"

// EnvLoader returns a Loader that reads the specified environment variables.
// Missing variables are silently omitted from the result map.
func EnvLoader(keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}

// Overlay returns a Loader whose values from l replace those in base.
// base is typically the secrets resolved at startup from the config file.
func Overlay(base map[string]string, l Loader) Loader {
	return func() (map[string]string, error) {
		vals, err := l()
		if err != nil {
			return nil, err
		}
		out := make(map[string]string, len(base)+len(vals))
		for k, v := range base {
			out[k] = v
		}
		for k, v := range vals {
			out[k] = v
		}
		return out, nil
	}
}
