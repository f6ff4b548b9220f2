package generation

import "fmt"

// Factory builds a Client per model ID for one provider.
type Factory struct {
	Provider  string // bedrock, openai, anthropic or ollama
	Options   Options
	OllamaURL string
	Converse  ConverseAPI // required for bedrock
}

// New returns a client for model.
func (f Factory) New(model string) (Client, error) {
	switch f.Provider {
	case "bedrock":
		if f.Converse == nil {
			return nil, fmt.Errorf("Factory.New: bedrock provider needs a runtime client")
		}
		return NewBedrockClient(f.Converse, model, f.Options), nil
	case "openai":
		return NewOpenAI(model, f.Options)
	case "anthropic":
		return NewAnthropic(model, f.Options)
	case "ollama":
		return NewOllama(model, f.OllamaURL, f.Options)
	default:
		return nil, fmt.Errorf("Factory.New: unknown provider %q", f.Provider)
	}
}

// NewAll builds one client per model, in order.
func (f Factory) NewAll(models []string) ([]Client, error) {
	clients := make([]Client, 0, len(models))
	for _, m := range models {
		c, err := f.New(m)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, nil
}
