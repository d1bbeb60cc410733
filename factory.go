package strand

import (
	"errors"
	"fmt"

	"github.com/strandworks/strand/features/provider/anthropic"
	"github.com/strandworks/strand/features/provider/bedrock"
	"github.com/strandworks/strand/features/provider/openai"
	"github.com/strandworks/strand/runtime/gateway"
	"github.com/strandworks/strand/runtime/model"
	"github.com/strandworks/strand/runtime/program"
)

// defaultClientFactory selects the built-in provider adapter by declared
// type. BaseURL only applies to openai providers (OpenAI-compatible gateways
// and test servers); bedrock providers need the injected SDK runtime client
// and authenticate through it, not through the resolved credential.
func defaultClientFactory(brt bedrock.RuntimeClient) gateway.ClientFactory {
	return func(p program.Provider, credential string) (model.Client, error) {
		switch p.Type {
		case "openai":
			return openai.NewFromAPIKey(credential, p.BaseURL, p.DefaultModel)
		case "anthropic":
			return anthropic.NewFromAPIKey(credential, p.DefaultModel)
		case "bedrock":
			if brt == nil {
				return nil, errors.New("bedrock runtime client not configured")
			}
			return bedrock.New(bedrock.Options{Runtime: brt, DefaultModel: p.DefaultModel})
		default:
			return nil, fmt.Errorf("unrecognized provider type %q", p.Type)
		}
	}
}
