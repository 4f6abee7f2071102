// Package openaicompat implements llm.Provider for any backend that speaks
// the OpenAI Chat Completions protocol: hosted APIs as well as local
// runtimes such as Ollama, LM Studio or vLLM. Request, Response and
// WireMessage mirror the wire format; RequestHook may edit a Request
// before it is sent.
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName: "ollama",
//	    BaseURL:      "http://localhost:11434",
//	    DefaultModel: "llama3",
//	}, logger)
package openaicompat
