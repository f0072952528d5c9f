package tools

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strings"

	"github.com/castellan-dev/castellan/internal/engine"
)

const secretEnvPrefix = "CASTELLAN_SECRET_"

// SecretsFactory backs the "secrets" capability: read-only lookup of
// operator-provisioned secret values. Secret material never reaches a
// log; these handlers return the value to the engine for the model's
// immediate use and nowhere else.
func SecretsFactory(_ context.Context, _ FactoryContext) (Server, error) {
	return Server{
		Name: "secrets",
		Tools: []engine.ToolDefinition{
			{
				Name:        "secret_get",
				Description: "Look up a secret value by name (operator-provisioned, read-only).",
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []string{"name"},
					"properties": map[string]interface{}{
						"name": map[string]interface{}{"type": "string"},
					},
				},
				Handler: func(_ context.Context, args map[string]interface{}) (string, bool) {
					name, _ := args["name"].(string)
					key := secretEnvPrefix + strings.ToUpper(name)
					v, ok := os.LookupEnv(key)
					if !ok {
						return errResult("secret_get: no secret named %q", name)
					}
					return textResult(v)
				},
			},
			{
				Name:        "secret_list_names",
				Description: "List the names of secrets available to this agent, without their values.",
				Parameters:  map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
				Handler: func(_ context.Context, _ map[string]interface{}) (string, bool) {
					var names []string
					for _, kv := range os.Environ() {
						if !strings.HasPrefix(kv, secretEnvPrefix) {
							continue
						}
						key := strings.SplitN(kv, "=", 2)[0]
						names = append(names, strings.ToLower(strings.TrimPrefix(key, secretEnvPrefix)))
					}
					sort.Strings(names)
					data, _ := json.Marshal(names)
					return textResult(string(data))
				},
			},
		},
	}, nil
}
